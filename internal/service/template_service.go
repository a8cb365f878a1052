package service

import (
	"context"

	"github.com/pesio-ai/be-asset-requests/internal/errors"
	"github.com/pesio-ai/be-asset-requests/internal/logger"
	"github.com/pesio-ai/be-asset-requests/internal/repository"
)

type templateAdminStore interface {
	Create(ctx context.Context, tpl *repository.ApprovalChainTemplate) error
	FindByID(ctx context.Context, id string) (*repository.ApprovalChainTemplate, error)
	ListActive(ctx context.Context, organizationID *string) ([]*repository.ApprovalChainTemplate, error)
	Update(ctx context.Context, id string, params repository.UpdateTemplateParams) (*repository.ApprovalChainTemplate, error)
	Delete(ctx context.Context, id string) error
}

// TemplateService is the admin surface for approval chain templates. The
// workflow engine itself only reads templates, at submission time.
type TemplateService struct {
	templates templateAdminStore
	log       *logger.Logger
}

// NewTemplateService creates a new template service.
func NewTemplateService(templates templateAdminStore, log *logger.Logger) *TemplateService {
	return &TemplateService{templates: templates, log: log}
}

// CreateTemplate validates and stores a new template.
func (s *TemplateService) CreateTemplate(ctx context.Context, tpl *repository.ApprovalChainTemplate) (*repository.ApprovalChainTemplate, error) {
	if tpl.Name == "" {
		return nil, errors.InvalidInput("name", "name is required")
	}
	if err := validateChainSteps(tpl.Steps); err != nil {
		return nil, err
	}
	if tpl.MinValue != nil && tpl.MaxValue != nil && *tpl.MinValue > *tpl.MaxValue {
		return nil, errors.InvalidInput("min_value", "min value cannot exceed max value")
	}
	if tpl.RequestType != nil && !validRequestTypes[*tpl.RequestType] {
		return nil, errors.InvalidInput("request_type", "invalid request type")
	}

	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Str("name", tpl.Name).
		Int("steps", len(tpl.Steps)).
		Msg("Approval chain template created")

	return tpl, nil
}

// GetTemplate retrieves a template by ID.
func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*repository.ApprovalChainTemplate, error) {
	return s.templates.FindByID(ctx, id)
}

// ListActiveTemplates lists active templates, highest priority first.
func (s *TemplateService) ListActiveTemplates(ctx context.Context, organizationID *string) ([]*repository.ApprovalChainTemplate, error) {
	return s.templates.ListActive(ctx, organizationID)
}

// UpdateTemplate applies a partial update. Changing a template never touches
// requests already submitted; their chain snapshot is frozen.
func (s *TemplateService) UpdateTemplate(ctx context.Context, id string, params repository.UpdateTemplateParams) (*repository.ApprovalChainTemplate, error) {
	if params.Steps != nil {
		if err := validateChainSteps(params.Steps); err != nil {
			return nil, err
		}
	}
	if params.MinValue != nil && params.MaxValue != nil && *params.MinValue > *params.MaxValue {
		return nil, errors.InvalidInput("min_value", "min value cannot exceed max value")
	}
	if params.RequestType != nil && !validRequestTypes[*params.RequestType] {
		return nil, errors.InvalidInput("request_type", "invalid request type")
	}
	return s.templates.Update(ctx, id, params)
}

// DeleteTemplate removes a template.
func (s *TemplateService) DeleteTemplate(ctx context.Context, id string) error {
	return s.templates.Delete(ctx, id)
}

func validateChainSteps(steps []repository.ChainStepDef) error {
	if len(steps) == 0 {
		return errors.InvalidInput("steps", "template must have at least 1 step")
	}
	for _, step := range steps {
		if step.ApproverID == "" {
			return errors.InvalidInput("steps", "every step requires an approver")
		}
	}
	return nil
}
