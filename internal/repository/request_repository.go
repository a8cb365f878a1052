package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/errors"
)

const requestColumns = `
	id, request_code, request_type, requester_id, department_id,
	asset_category_id, asset_model_id, quantity, current_asset_id,
	justification, priority, required_date, status,
	approval_chain, total_approval_steps, current_approval_step,
	submitted_at, rejected_by, rejected_at, reject_reason,
	cancelled_by, cancelled_at, cancel_reason,
	fulfilled_by, fulfilled_at, fulfilled_asset_ids,
	organization_id, created_by, created_at, updated_at`

// RequestRepository handles reads and writes on asset_requests. All status
// mutations go through UpdateStatus inside the caller's transaction.
type RequestRepository struct {
	db *database.DB
}

// NewRequestRepository creates a new RequestRepository.
func NewRequestRepository(db *database.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request in draft status and fills the generated
// fields on req.
func (r *RequestRepository) Create(ctx context.Context, q database.Executor, req *AssetRequest) error {
	req.RequestCode = newRequestCode()
	req.Status = StatusDraft
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	query := `
		INSERT INTO asset_requests
		    (request_code, request_type, requester_id, department_id,
		     asset_category_id, asset_model_id, quantity, current_asset_id,
		     justification, priority, required_date, status,
		     organization_id, created_by)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7, $8,
		        $9, $10, $11, $12,
		        $13, $14)
		RETURNING id, created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		req.RequestCode,
		req.RequestType,
		req.RequesterID,
		req.DepartmentID,
		req.AssetCategoryID,
		req.AssetModelID,
		req.Quantity,
		req.CurrentAssetID,
		req.Justification,
		req.Priority,
		req.RequiredDate,
		req.Status,
		req.OrganizationID,
		req.CreatedBy,
	).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create asset request")
	}
	return nil
}

// FindByID retrieves a request by primary key.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*AssetRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM asset_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("asset_request", id)
	}
	return req, err
}

// FindByIDForUpdate retrieves a request inside the caller's transaction with
// a row lock, serializing concurrent workflow operations on the same request.
func (r *RequestRepository) FindByIDForUpdate(ctx context.Context, q database.Executor, id string) (*AssetRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM asset_requests WHERE id = $1 FOR UPDATE`

	req, err := scanRequest(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("asset_request", id)
	}
	return req, err
}

// FindByCode retrieves a request by its human-readable code.
func (r *RequestRepository) FindByCode(ctx context.Context, code string) (*AssetRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM asset_requests WHERE request_code = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, code))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("asset_request", code)
	}
	return req, err
}

// Update applies the draft-only editable fields. Nil params are untouched.
func (r *RequestRepository) Update(ctx context.Context, q database.Executor, id string, params UpdateRequestParams) (*AssetRequest, error) {
	fields := []string{"updated_at = NOW()"}
	values := []any{id}
	idx := 2

	if params.AssetCategoryID != nil {
		fields = append(fields, fmt.Sprintf("asset_category_id = $%d", idx))
		values = append(values, *params.AssetCategoryID)
		idx++
	}
	if params.AssetModelID != nil {
		fields = append(fields, fmt.Sprintf("asset_model_id = $%d", idx))
		values = append(values, *params.AssetModelID)
		idx++
	}
	if params.Quantity != nil {
		fields = append(fields, fmt.Sprintf("quantity = $%d", idx))
		values = append(values, *params.Quantity)
		idx++
	}
	if params.Justification != nil {
		fields = append(fields, fmt.Sprintf("justification = $%d", idx))
		values = append(values, *params.Justification)
		idx++
	}
	if params.Priority != nil {
		fields = append(fields, fmt.Sprintf("priority = $%d", idx))
		values = append(values, *params.Priority)
		idx++
	}
	if params.RequiredDate != nil {
		fields = append(fields, fmt.Sprintf("required_date = $%d", idx))
		values = append(values, *params.RequiredDate)
		idx++
	}

	query := fmt.Sprintf(
		`UPDATE asset_requests SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(fields, ", "), requestColumns,
	)

	req, err := scanRequest(q.QueryRow(ctx, query, values...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("asset_request", id)
	}
	return req, err
}

// Delete removes a request. The approval steps, comments and audit rows
// cascade at the schema level.
func (r *RequestRepository) Delete(ctx context.Context, q database.Executor, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM asset_requests WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete asset request")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("asset_request", id)
	}
	return nil
}

// UpdateStatus transitions the request status and applies the accompanying
// column writes described by upd.
func (r *RequestRepository) UpdateStatus(ctx context.Context, q database.Executor, id, status string, upd StatusUpdate) (*AssetRequest, error) {
	fields := []string{"status = $2", "updated_at = NOW()"}
	values := []any{id, status}
	idx := 3

	add := func(column string, value any) {
		fields = append(fields, fmt.Sprintf("%s = $%d", column, idx))
		values = append(values, value)
		idx++
	}

	if upd.SubmittedAt != nil {
		add("submitted_at", *upd.SubmittedAt)
	}
	if upd.ApprovalChain != nil {
		chainJSON, err := json.Marshal(upd.ApprovalChain)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval chain")
		}
		add("approval_chain", chainJSON)
	}
	if upd.TotalApprovalSteps != nil {
		add("total_approval_steps", *upd.TotalApprovalSteps)
	}
	if upd.CurrentApprovalStep != nil {
		add("current_approval_step", *upd.CurrentApprovalStep)
	} else if upd.ClearCurrentStep {
		fields = append(fields, "current_approval_step = NULL")
	}
	if upd.RejectedBy != nil {
		add("rejected_by", *upd.RejectedBy)
	}
	if upd.RejectedAt != nil {
		add("rejected_at", *upd.RejectedAt)
	}
	if upd.RejectReason != nil {
		add("reject_reason", *upd.RejectReason)
	}
	if upd.CancelledBy != nil {
		add("cancelled_by", *upd.CancelledBy)
	}
	if upd.CancelledAt != nil {
		add("cancelled_at", *upd.CancelledAt)
	}
	if upd.CancelReason != nil {
		add("cancel_reason", *upd.CancelReason)
	}
	if upd.FulfilledBy != nil {
		add("fulfilled_by", *upd.FulfilledBy)
	}
	if upd.FulfilledAt != nil {
		add("fulfilled_at", *upd.FulfilledAt)
	}
	if upd.FulfilledAssetIDs != nil {
		idsJSON, err := json.Marshal(upd.FulfilledAssetIDs)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal fulfilled asset ids")
		}
		add("fulfilled_asset_ids", idsJSON)
	}

	query := fmt.Sprintf(
		`UPDATE asset_requests SET %s WHERE id = $1 RETURNING %s`,
		strings.Join(fields, ", "), requestColumns,
	)

	req, err := scanRequest(q.QueryRow(ctx, query, values...))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("asset_request", id)
	}
	return req, err
}

// HasPendingSimilarRequest reports whether the requester already has an open
// request for the same category and type.
func (r *RequestRepository) HasPendingSimilarRequest(ctx context.Context, requesterID, assetCategoryID, requestType string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM asset_requests
			WHERE requester_id = $1
			  AND asset_category_id = $2
			  AND request_type = $3
			  AND status IN ('draft', 'pending_approval', 'need_info', 'approved')
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, requesterID, assetCategoryID, requestType).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check for similar requests")
	}
	return exists, nil
}

// List returns filtered, paginated requests plus the total match count.
func (r *RequestRepository) List(ctx context.Context, query RequestListQuery) ([]*AssetRequest, int64, error) {
	where, values := buildRequestFilter(query)

	var total int64
	countSQL := `SELECT COUNT(*) FROM asset_requests` + where
	if err := r.db.QueryRow(ctx, countSQL, values...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count asset requests")
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	limit := query.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	idx := len(values) + 1
	listSQL := fmt.Sprintf(
		`SELECT %s FROM asset_requests%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		requestColumns, where, sortColumn(query.SortBy), sortDirection(query.SortOrder), idx, idx+1,
	)
	values = append(values, limit, (page-1)*limit)

	rows, err := r.db.Query(ctx, listSQL, values...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list asset requests")
	}
	defer rows.Close()

	requests, err := scanRequestRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// FindByRequesterID returns all requests created by one requester,
// newest first.
func (r *RequestRepository) FindByRequesterID(ctx context.Context, requesterID string) ([]*AssetRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM asset_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, requesterID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get requests by requester")
	}
	defer rows.Close()

	return scanRequestRows(rows)
}

// FindPendingByApprover returns requests whose current pending step is
// assigned to the given approver, oldest submission first.
func (r *RequestRepository) FindPendingByApprover(ctx context.Context, approverID string) ([]*AssetRequest, error) {
	query := `
		SELECT
		    r.id, r.request_code, r.request_type, r.requester_id, r.department_id,
		    r.asset_category_id, r.asset_model_id, r.quantity, r.current_asset_id,
		    r.justification, r.priority, r.required_date, r.status,
		    r.approval_chain, r.total_approval_steps, r.current_approval_step,
		    r.submitted_at, r.rejected_by, r.rejected_at, r.reject_reason,
		    r.cancelled_by, r.cancelled_at, r.cancel_reason,
		    r.fulfilled_by, r.fulfilled_at, r.fulfilled_asset_ids,
		    r.organization_id, r.created_by, r.created_at, r.updated_at
		FROM asset_requests r
		JOIN approval_steps s
		  ON s.request_id = r.id
		 AND s.step_order = r.current_approval_step
		WHERE r.status = 'pending_approval'
		  AND s.status = 'pending'
		  AND s.approver_id = $1
		ORDER BY r.submitted_at ASC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval queue")
	}
	defer rows.Close()

	return scanRequestRows(rows)
}

// FindReadyForFulfillment returns approved or in-fulfillment requests,
// oldest submission first.
func (r *RequestRepository) FindReadyForFulfillment(ctx context.Context, organizationID *string) ([]*AssetRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM asset_requests
		WHERE status IN ('approved', 'fulfilling')
		  AND ($1::text IS NULL OR organization_id = $1)
		ORDER BY submitted_at ASC`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get fulfillment queue")
	}
	defer rows.Close()

	return scanRequestRows(rows)
}

// Statistics aggregates request counts, optionally scoped to one
// organization. overdueCutoff bounds the overdue-approval count.
func (r *RequestRepository) Statistics(ctx context.Context, organizationID *string, overdueCutoff time.Time) (*RequestStatistics, error) {
	query := `
		SELECT
		    COUNT(*),
		    COUNT(*) FILTER (WHERE status = 'draft'),
		    COUNT(*) FILTER (WHERE status = 'pending_approval'),
		    COUNT(*) FILTER (WHERE status = 'need_info'),
		    COUNT(*) FILTER (WHERE status = 'approved'),
		    COUNT(*) FILTER (WHERE status = 'rejected'),
		    COUNT(*) FILTER (WHERE status = 'cancelled'),
		    COUNT(*) FILTER (WHERE status = 'fulfilling'),
		    COUNT(*) FILTER (WHERE status = 'completed'),
		    COUNT(*) FILTER (WHERE priority = 'low'),
		    COUNT(*) FILTER (WHERE priority = 'normal'),
		    COUNT(*) FILTER (WHERE priority = 'high'),
		    COUNT(*) FILTER (WHERE priority = 'urgent'),
		    COUNT(*) FILTER (WHERE request_type = 'new'),
		    COUNT(*) FILTER (WHERE request_type = 'replacement'),
		    COUNT(*) FILTER (WHERE request_type = 'transfer'),
		    AVG(CASE WHEN status = 'completed'
		        THEN EXTRACT(EPOCH FROM (fulfilled_at - submitted_at)) / 86400
		    END)
		FROM asset_requests
		WHERE $1::text IS NULL OR organization_id = $1
	`

	var (
		total                                                                    int64
		draft, pending, needInfo, approved, rejected, cancelled, fulfilling, done int64
		prioLow, prioNormal, prioHigh, prioUrgent                                int64
		typeNew, typeReplacement, typeTransfer                                   int64
		avgDays                                                                  *float64
	)
	err := r.db.QueryRow(ctx, query, organizationID).Scan(
		&total,
		&draft, &pending, &needInfo, &approved, &rejected, &cancelled, &fulfilling, &done,
		&prioLow, &prioNormal, &prioHigh, &prioUrgent,
		&typeNew, &typeReplacement, &typeTransfer,
		&avgDays,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get request statistics")
	}

	stats := &RequestStatistics{
		TotalRequests: total,
		ByStatus: map[string]int64{
			StatusDraft:           draft,
			StatusPendingApproval: pending,
			StatusNeedInfo:        needInfo,
			StatusApproved:        approved,
			StatusRejected:        rejected,
			StatusCancelled:       cancelled,
			StatusFulfilling:      fulfilling,
			StatusCompleted:       done,
		},
		ByPriority: map[string]int64{
			PriorityLow:    prioLow,
			PriorityNormal: prioNormal,
			PriorityHigh:   prioHigh,
			PriorityUrgent: prioUrgent,
		},
		ByType: map[string]int64{
			RequestTypeNew:         typeNew,
			RequestTypeReplacement: typeReplacement,
			RequestTypeTransfer:    typeTransfer,
		},
		AvgCompletionDays: avgDays,
		PendingApprovals:  pending,
	}

	overdueQuery := `
		SELECT COUNT(*) FROM approval_steps s
		JOIN asset_requests r ON s.request_id = r.id
		WHERE r.status = 'pending_approval'
		  AND s.step_order = r.current_approval_step
		  AND s.status = 'pending'
		  AND s.created_at < $1
		  AND ($2::text IS NULL OR r.organization_id = $2)
	`
	if err := r.db.QueryRow(ctx, overdueQuery, overdueCutoff, organizationID).Scan(&stats.OverdueApprovals); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to count overdue approvals")
	}

	return stats, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// newRequestCode builds a human-readable code like AR-2026-3F82A1C4.
func newRequestCode() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("AR-%d-%s", time.Now().Year(), suffix)
}

func buildRequestFilter(query RequestListQuery) (string, []any) {
	var conditions []string
	var values []any
	idx := 1

	addIn := func(column string, items []string) {
		if len(items) == 0 {
			return
		}
		placeholders := make([]string, len(items))
		for i, item := range items {
			placeholders[i] = fmt.Sprintf("$%d", idx)
			values = append(values, item)
			idx++
		}
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")))
	}
	addEq := func(column string, value *string) {
		if value == nil {
			return
		}
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, idx))
		values = append(values, *value)
		idx++
	}

	addIn("status", query.Status)
	addIn("request_type", query.RequestType)
	addIn("priority", query.Priority)
	addEq("requester_id", query.RequesterID)
	addEq("department_id", query.DepartmentID)
	addEq("asset_category_id", query.AssetCategoryID)
	addEq("organization_id", query.OrganizationID)

	if query.Search != nil && *query.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(request_code ILIKE $%d OR justification ILIKE $%d)", idx, idx))
		values = append(values, "%"+*query.Search+"%")
		idx++
	}

	if len(conditions) == 0 {
		return "", values
	}
	return " WHERE " + strings.Join(conditions, " AND "), values
}

func sortColumn(name string) string {
	switch name {
	case "submitted_at", "required_date", "priority", "status":
		return name
	default:
		return "created_at"
	}
}

func sortDirection(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*AssetRequest, error) {
	req := &AssetRequest{}
	var chainJSON, assetIDsJSON []byte

	err := row.Scan(
		&req.ID,
		&req.RequestCode,
		&req.RequestType,
		&req.RequesterID,
		&req.DepartmentID,
		&req.AssetCategoryID,
		&req.AssetModelID,
		&req.Quantity,
		&req.CurrentAssetID,
		&req.Justification,
		&req.Priority,
		&req.RequiredDate,
		&req.Status,
		&chainJSON,
		&req.TotalApprovalSteps,
		&req.CurrentApprovalStep,
		&req.SubmittedAt,
		&req.RejectedBy,
		&req.RejectedAt,
		&req.RejectReason,
		&req.CancelledBy,
		&req.CancelledAt,
		&req.CancelReason,
		&req.FulfilledBy,
		&req.FulfilledAt,
		&assetIDsJSON,
		&req.OrganizationID,
		&req.CreatedBy,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if chainJSON != nil {
		if err := json.Unmarshal(chainJSON, &req.ApprovalChain); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval chain")
		}
	}
	if assetIDsJSON != nil {
		if err := json.Unmarshal(assetIDsJSON, &req.FulfilledAssetIDs); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal fulfilled asset ids")
		}
	}
	return req, nil
}

func scanRequestRows(rows pgx.Rows) ([]*AssetRequest, error) {
	var requests []*AssetRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan asset request")
		}
		requests = append(requests, req)
	}
	return requests, nil
}
