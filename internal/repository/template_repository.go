package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/errors"
)

const templateColumns = `
	id, name, description, asset_category_id, min_value, max_value,
	department_id, request_type, priority, steps, is_active,
	organization_id, created_at, updated_at, created_by`

// TemplateRepository handles CRUD for approval chain templates and the
// matching used at submission. The workflow engine only ever reads templates;
// the mutation methods back the admin surface.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a new template.
func (r *TemplateRepository) Create(ctx context.Context, tpl *ApprovalChainTemplate) error {
	stepsJSON, err := json.Marshal(tpl.Steps)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal template steps")
	}

	query := `
		INSERT INTO approval_chain_templates
		    (name, description, asset_category_id, min_value, max_value,
		     department_id, request_type, priority, steps, is_active,
		     organization_id, created_by)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10,
		        $11, $12)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRow(ctx, query,
		tpl.Name,
		tpl.Description,
		tpl.AssetCategoryID,
		tpl.MinValue,
		tpl.MaxValue,
		tpl.DepartmentID,
		tpl.RequestType,
		tpl.Priority,
		stepsJSON,
		tpl.IsActive,
		tpl.OrganizationID,
		tpl.CreatedBy,
	).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
}

// FindByID retrieves a template by primary key.
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*ApprovalChainTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM approval_chain_templates WHERE id = $1`

	tpl, err := scanTemplate(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_chain_template", id)
	}
	return tpl, err
}

// ListActive returns active templates, optionally scoped to an organization,
// highest priority first.
func (r *TemplateRepository) ListActive(ctx context.Context, organizationID *string) ([]*ApprovalChainTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM approval_chain_templates
		WHERE is_active = TRUE
		  AND ($1::text IS NULL OR organization_id = $1 OR organization_id IS NULL)
		ORDER BY priority DESC, created_at ASC`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list chain templates")
	}
	defer rows.Close()

	var templates []*ApprovalChainTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan chain template")
		}
		templates = append(templates, tpl)
	}
	return templates, nil
}

// FindMatching selects the single best template for the request attributes,
// or nil when none matches. Candidates are loaded with SQL null-or-equal
// predicates, then ranked in Go so the tie-break is explicit rather than an
// accident of row order.
func (r *TemplateRepository) FindMatching(
	ctx context.Context,
	assetCategoryID *string,
	assetValue *int64,
	departmentID *string,
	requestType string,
	organizationID *string,
) (*ApprovalChainTemplate, error) {
	query := `SELECT ` + templateColumns + `
		FROM approval_chain_templates
		WHERE is_active = TRUE
		  AND ($1::text IS NULL OR organization_id IS NULL OR organization_id = $1)
		  AND ($2::text IS NULL OR asset_category_id IS NULL OR asset_category_id = $2)
		  AND ($3::bigint IS NULL OR min_value IS NULL OR $3 >= min_value)
		  AND ($3::bigint IS NULL OR max_value IS NULL OR $3 <= max_value)
		  AND ($4::text IS NULL OR department_id IS NULL OR department_id = $4)
		  AND (request_type IS NULL OR request_type = $5)`

	rows, err := r.db.Query(ctx, query, organizationID, assetCategoryID, assetValue, departmentID, requestType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find matching template")
	}
	defer rows.Close()

	var candidates []*ApprovalChainTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan chain template")
		}
		candidates = append(candidates, tpl)
	}

	return pickMostSpecific(candidates, assetCategoryID, assetValue, departmentID, requestType, organizationID), nil
}

// Update persists changes to an existing template. Nil fields are untouched.
func (r *TemplateRepository) Update(ctx context.Context, id string, params UpdateTemplateParams) (*ApprovalChainTemplate, error) {
	fields := []string{"updated_at = NOW()"}
	values := []any{id}
	idx := 2

	add := func(column string, value any) {
		fields = append(fields, fmt.Sprintf("%s = $%d", column, idx))
		values = append(values, value)
		idx++
	}

	if params.Name != nil {
		add("name", *params.Name)
	}
	if params.Description != nil {
		add("description", *params.Description)
	}
	if params.AssetCategoryID != nil {
		add("asset_category_id", *params.AssetCategoryID)
	}
	if params.MinValue != nil {
		add("min_value", *params.MinValue)
	}
	if params.MaxValue != nil {
		add("max_value", *params.MaxValue)
	}
	if params.DepartmentID != nil {
		add("department_id", *params.DepartmentID)
	}
	if params.RequestType != nil {
		add("request_type", *params.RequestType)
	}
	if params.Priority != nil {
		add("priority", *params.Priority)
	}
	if params.Steps != nil {
		stepsJSON, err := json.Marshal(params.Steps)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal template steps")
		}
		add("steps", stepsJSON)
	}
	if params.IsActive != nil {
		add("is_active", *params.IsActive)
	}

	query := fmt.Sprintf(
		`UPDATE approval_chain_templates SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(fields, ", "), templateColumns,
	)

	tpl, err := scanTemplate(r.db.QueryRow(ctx, query, values...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_chain_template", id)
	}
	return tpl, err
}

// Delete removes a template.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM approval_chain_templates WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete chain template")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_chain_template", id)
	}
	return nil
}

// UpdateTemplateParams carries optional template updates.
type UpdateTemplateParams struct {
	Name            *string
	Description     *string
	AssetCategoryID *string
	MinValue        *int64
	MaxValue        *int64
	DepartmentID    *string
	RequestType     *string
	Priority        *int
	Steps           []ChainStepDef
	IsActive        *bool
}

// ── matching ─────────────────────────────────────────────────────────────────

// pickMostSpecific ranks candidate templates deterministically: highest
// specificity (count of non-null predicates matched exactly), then highest
// priority, then oldest createdAt, then id.
func pickMostSpecific(
	candidates []*ApprovalChainTemplate,
	assetCategoryID *string,
	assetValue *int64,
	departmentID *string,
	requestType string,
	organizationID *string,
) *ApprovalChainTemplate {
	var best *ApprovalChainTemplate
	bestScore := -1

	for _, tpl := range candidates {
		score := specificity(tpl, assetCategoryID, assetValue, departmentID, requestType, organizationID)
		switch {
		case score > bestScore:
			best, bestScore = tpl, score
		case score == bestScore && best != nil:
			if tpl.Priority > best.Priority ||
				(tpl.Priority == best.Priority && tpl.CreatedAt.Before(best.CreatedAt)) ||
				(tpl.Priority == best.Priority && tpl.CreatedAt.Equal(best.CreatedAt) && tpl.ID < best.ID) {
				best = tpl
			}
		}
	}
	return best
}

// specificity counts the template predicates that matched the request
// attributes exactly (rather than matching by being null).
func specificity(
	tpl *ApprovalChainTemplate,
	assetCategoryID *string,
	assetValue *int64,
	departmentID *string,
	requestType string,
	organizationID *string,
) int {
	score := 0
	if tpl.OrganizationID != nil && organizationID != nil && *tpl.OrganizationID == *organizationID {
		score++
	}
	if tpl.AssetCategoryID != nil && assetCategoryID != nil && *tpl.AssetCategoryID == *assetCategoryID {
		score++
	}
	if tpl.DepartmentID != nil && departmentID != nil && *tpl.DepartmentID == *departmentID {
		score++
	}
	if tpl.RequestType != nil && *tpl.RequestType == requestType {
		score++
	}
	if assetValue != nil && (tpl.MinValue != nil || tpl.MaxValue != nil) {
		score++
	}
	return score
}

// ── scan helper ──────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row templateScanner) (*ApprovalChainTemplate, error) {
	tpl := &ApprovalChainTemplate{}
	var stepsJSON []byte

	err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.Description,
		&tpl.AssetCategoryID,
		&tpl.MinValue,
		&tpl.MaxValue,
		&tpl.DepartmentID,
		&tpl.RequestType,
		&tpl.Priority,
		&stepsJSON,
		&tpl.IsActive,
		&tpl.OrganizationID,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
		&tpl.CreatedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stepsJSON, &tpl.Steps); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal template steps")
	}
	return tpl, nil
}
