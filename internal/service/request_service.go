package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/errors"
	"github.com/pesio-ai/be-asset-requests/internal/logger"
	"github.com/pesio-ai/be-asset-requests/internal/repository"
)

// Justifications shorter than this are rejected at creation.
const minJustificationLen = 20

// txRunner runs a function inside one database transaction.
type txRunner interface {
	InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}

type requestStore interface {
	Create(ctx context.Context, q database.Executor, req *repository.AssetRequest) error
	FindByID(ctx context.Context, id string) (*repository.AssetRequest, error)
	FindByIDForUpdate(ctx context.Context, q database.Executor, id string) (*repository.AssetRequest, error)
	FindByCode(ctx context.Context, code string) (*repository.AssetRequest, error)
	Update(ctx context.Context, q database.Executor, id string, params repository.UpdateRequestParams) (*repository.AssetRequest, error)
	Delete(ctx context.Context, q database.Executor, id string) error
	UpdateStatus(ctx context.Context, q database.Executor, id, status string, upd repository.StatusUpdate) (*repository.AssetRequest, error)
	HasPendingSimilarRequest(ctx context.Context, requesterID, assetCategoryID, requestType string) (bool, error)
	List(ctx context.Context, query repository.RequestListQuery) ([]*repository.AssetRequest, int64, error)
	FindByRequesterID(ctx context.Context, requesterID string) ([]*repository.AssetRequest, error)
	FindPendingByApprover(ctx context.Context, approverID string) ([]*repository.AssetRequest, error)
	FindReadyForFulfillment(ctx context.Context, organizationID *string) ([]*repository.AssetRequest, error)
	Statistics(ctx context.Context, organizationID *string, overdueCutoff time.Time) (*repository.RequestStatistics, error)
}

type stepStore interface {
	CreateSteps(ctx context.Context, q database.Executor, requestID string, defs []repository.ChainStepDef) ([]*repository.ApprovalStep, error)
	FindByRequestID(ctx context.Context, q database.Executor, requestID string) ([]*repository.ApprovalStep, error)
	ListByRequestID(ctx context.Context, requestID string) ([]*repository.ApprovalStep, error)
	FindCurrent(ctx context.Context, q database.Executor, requestID string) (*repository.ApprovalStep, error)
	FindByID(ctx context.Context, q database.Executor, stepID string) (*repository.ApprovalStep, error)
	UpdateDecision(ctx context.Context, q database.Executor, stepID, status string, comments *string) (*repository.ApprovalStep, error)
	Activate(ctx context.Context, q database.Executor, requestID string, stepOrder int) (*repository.ApprovalStep, error)
	SkipRemaining(ctx context.Context, q database.Executor, requestID string) error
	Escalate(ctx context.Context, q database.Executor, stepID, newApproverID, reason string) (*repository.ApprovalStep, error)
}

type templateStore interface {
	FindMatching(ctx context.Context, assetCategoryID *string, assetValue *int64, departmentID *string, requestType string, organizationID *string) (*repository.ApprovalChainTemplate, error)
}

type commentStore interface {
	Create(ctx context.Context, q database.Executor, c *repository.RequestComment) error
	FindByID(ctx context.Context, q database.Executor, id string) (*repository.RequestComment, error)
	FindLatestInfoRequest(ctx context.Context, q database.Executor, requestID string) (*repository.RequestComment, error)
	ListByRequestID(ctx context.Context, requestID string) ([]*repository.RequestComment, error)
}

type auditStore interface {
	Append(ctx context.Context, q database.Executor, entry *repository.RequestAuditLog) error
	ListByRequestID(ctx context.Context, requestID string) ([]*repository.RequestAuditLog, error)
}

// Notifier publishes workflow events. Publishing is best-effort and must
// never fail a workflow operation.
type Notifier interface {
	PublishRequestEvent(ctx context.Context, eventType, requestID, actorID string, recipients []string, payload map[string]interface{})
}

// RequestService is the asset request state machine. Every mutating operation
// runs inside one transaction spanning the precondition reads, the state and
// step mutations, and the audit write, with a row lock on the request taken
// before preconditions are evaluated.
type RequestService struct {
	db                txRunner
	requests          requestStore
	steps             stepStore
	templates         templateStore
	comments          commentStore
	audits            auditStore
	notifier          Notifier
	reminderThreshold int // days a step may stay pending before it counts as overdue
	log               *logger.Logger
}

// NewRequestService creates a new request service.
func NewRequestService(
	db txRunner,
	requests requestStore,
	steps stepStore,
	templates templateStore,
	comments commentStore,
	audits auditStore,
	notifier Notifier,
	reminderThresholdDays int,
	log *logger.Logger,
) *RequestService {
	return &RequestService{
		db:                db,
		requests:          requests,
		steps:             steps,
		templates:         templates,
		comments:          comments,
		audits:            audits,
		notifier:          notifier,
		reminderThreshold: reminderThresholdDays,
		log:               log,
	}
}

// ── Request DTOs and results ─────────────────────────────────────────────────

// CreateRequestInput carries a create request.
type CreateRequestInput struct {
	RequestType     string
	RequesterID     string
	DepartmentID    *string
	AssetCategoryID *string
	AssetModelID    *string
	Quantity        int
	CurrentAssetID  *string
	Justification   string
	Priority        string
	RequiredDate    *string
	OrganizationID  *string
	CreatedBy       *string
}

// CreateResult is a created request plus non-blocking diagnostics.
type CreateResult struct {
	Request  *repository.AssetRequest
	Warnings []string
}

// ApprovalResult describes the outcome of an approve call.
type ApprovalResult struct {
	Request         *repository.AssetRequest
	Step            *repository.ApprovalStep
	IsFullyApproved bool
	NextStep        *repository.ApprovalStep
}

// FulfillmentResult describes a completed fulfillment. CheckoutIDs is
// reserved for checkout system integration and currently always empty.
type FulfillmentResult struct {
	Request     *repository.AssetRequest
	CheckoutIDs []string
}

// RequestDetail is a request with its full workflow context.
type RequestDetail struct {
	Request    *repository.AssetRequest
	Steps      []*repository.ApprovalStep
	Comments   []*repository.RequestComment
	AuditTrail []*repository.RequestAuditLog
}

var validRequestTypes = map[string]bool{
	repository.RequestTypeNew:         true,
	repository.RequestTypeReplacement: true,
	repository.RequestTypeTransfer:    true,
}

var validPriorities = map[string]bool{
	repository.PriorityLow:    true,
	repository.PriorityNormal: true,
	repository.PriorityHigh:   true,
	repository.PriorityUrgent: true,
}

// ── Lifecycle operations ─────────────────────────────────────────────────────

// Create validates and inserts a new draft request. A similar pending request
// from the same requester produces a warning on the result, never an error.
func (s *RequestService) Create(ctx context.Context, input *CreateRequestInput) (*CreateResult, error) {
	if !validRequestTypes[input.RequestType] {
		return nil, errors.InvalidInput("request_type", "invalid request type")
	}
	if input.RequestType == repository.RequestTypeReplacement && input.CurrentAssetID == nil {
		return nil, errors.InvalidInput("current_asset_id", "Current asset ID is required for replacement requests")
	}
	if input.RequesterID == "" {
		return nil, errors.InvalidInput("requester_id", "requester is required")
	}
	if len(input.Justification) < minJustificationLen {
		return nil, errors.InvalidInput("justification",
			fmt.Sprintf("Justification must be at least %d characters", minJustificationLen))
	}
	if input.Quantity < 0 {
		return nil, errors.InvalidInput("quantity", "quantity must be positive")
	}
	if input.Priority != "" && !validPriorities[input.Priority] {
		return nil, errors.InvalidInput("priority", "invalid priority")
	}

	result := &CreateResult{}

	if input.AssetCategoryID != nil {
		similar, err := s.requests.HasPendingSimilarRequest(ctx, input.RequesterID, *input.AssetCategoryID, input.RequestType)
		if err != nil {
			return nil, err
		}
		if similar {
			result.Warnings = append(result.Warnings,
				"You already have a pending request for this asset category and type")
		}
	}

	req := &repository.AssetRequest{
		RequestType:     input.RequestType,
		RequesterID:     input.RequesterID,
		DepartmentID:    input.DepartmentID,
		AssetCategoryID: input.AssetCategoryID,
		AssetModelID:    input.AssetModelID,
		Quantity:        input.Quantity,
		CurrentAssetID:  input.CurrentAssetID,
		Justification:   input.Justification,
		Priority:        input.Priority,
		RequiredDate:    input.RequiredDate,
		OrganizationID:  input.OrganizationID,
		CreatedBy:       input.CreatedBy,
	}

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.requests.Create(ctx, tx, req); err != nil {
			return err
		}
		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   req.ID,
			Action:      repository.AuditCreated,
			PerformedBy: input.RequesterID,
			NewStatus:   &req.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("request_code", req.RequestCode).
		Str("request_type", req.RequestType).
		Str("requester_id", req.RequesterID).
		Int("quantity", req.Quantity).
		Msg("Asset request created")

	result.Request = req
	return result, nil
}

// Update edits a draft request. Any other status is refused.
func (s *RequestService) Update(ctx context.Context, id string, params repository.UpdateRequestParams, updatedBy string) (*repository.AssetRequest, error) {
	if params.Justification != nil && len(*params.Justification) < minJustificationLen {
		return nil, errors.InvalidInput("justification",
			fmt.Sprintf("Justification must be at least %d characters", minJustificationLen))
	}
	if params.Quantity != nil && *params.Quantity < 1 {
		return nil, errors.InvalidInput("quantity", "quantity must be positive")
	}
	if params.Priority != nil && !validPriorities[*params.Priority] {
		return nil, errors.InvalidInput("priority", "invalid priority")
	}

	var updated *repository.AssetRequest
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != repository.StatusDraft {
			return errors.New(errors.ErrCodeConflict, "Can only update requests in draft status")
		}

		updated, err = s.requests.Update(ctx, tx, id, params)
		if err != nil {
			return err
		}
		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditUpdated,
			PerformedBy: updatedBy,
			OldStatus:   &req.Status,
			NewStatus:   &updated.Status,
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a draft request. Any other status is refused.
func (s *RequestService) Delete(ctx context.Context, id string) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != repository.StatusDraft {
			return errors.New(errors.ErrCodeConflict, "Can only delete requests in draft status")
		}
		return s.requests.Delete(ctx, tx, id)
	})
}

// Submit moves a draft request into approval: resolves the matching chain
// template, freezes its step list onto the request, materializes the step
// rows and activates step 1.
func (s *RequestService) Submit(ctx context.Context, id, submittedBy string) (*repository.AssetRequest, error) {
	var (
		updated   *repository.AssetRequest
		firstStep *repository.ApprovalStep
	)

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != repository.StatusDraft {
			return errors.New(errors.ErrCodeConflict, "Can only submit requests in draft status")
		}

		tpl, err := s.templates.FindMatching(ctx, req.AssetCategoryID, nil, req.DepartmentID, req.RequestType, req.OrganizationID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return errors.New(errors.ErrCodeConflict, "No approval chain configured for this request type")
		}

		steps, err := s.steps.CreateSteps(ctx, tx, id, tpl.Steps)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return errors.New(errors.ErrCodeConflict, "Failed to create approval chain")
		}
		firstStep = steps[0]

		now := time.Now()
		totalSteps := len(steps)
		stepOne := 1
		updated, err = s.requests.UpdateStatus(ctx, tx, id, repository.StatusPendingApproval, repository.StatusUpdate{
			SubmittedAt:         &now,
			ApprovalChain:       tpl.Steps,
			TotalApprovalSteps:  &totalSteps,
			CurrentApprovalStep: &stepOne,
		})
		if err != nil {
			return err
		}

		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditSubmitted,
			PerformedBy: submittedBy,
			OldStatus:   strPtr(repository.StatusDraft),
			NewStatus:   strPtr(repository.StatusPendingApproval),
			Detail: map[string]interface{}{
				"template_id":   tpl.ID,
				"template_name": tpl.Name,
				"total_steps":   totalSteps,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", id).
		Str("request_code", updated.RequestCode).
		Int("total_steps", updated.TotalApprovalSteps).
		Msg("Asset request submitted for approval")

	s.publish(ctx, "request_submitted", id, submittedBy, []string{updated.RequesterID}, map[string]interface{}{
		"request_code": updated.RequestCode,
	})
	s.publish(ctx, "approval_required", id, submittedBy, []string{firstStep.ApproverID}, map[string]interface{}{
		"request_code": updated.RequestCode,
		"step_order":   firstStep.StepOrder,
	})
	return updated, nil
}

// Approve records the current approver's decision. The last step completes
// the chain and moves the request to approved; otherwise the chain advances
// one step.
func (s *RequestService) Approve(ctx context.Context, id, approverID string, comments *string) (*ApprovalResult, error) {
	result := &ApprovalResult{}

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		step, err := s.checkApprovalPreconditions(ctx, tx, req, approverID)
		if err != nil {
			return err
		}

		decided, err := s.steps.UpdateDecision(ctx, tx, step.ID, repository.StepStatusApproved, comments)
		if err != nil {
			return err
		}
		result.Step = decided

		if err := s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditApprovalStepCompleted,
			PerformedBy: approverID,
			Detail: map[string]interface{}{
				"step_order":  decided.StepOrder,
				"approver_id": approverID,
			},
		}); err != nil {
			return err
		}

		if decided.StepOrder >= req.TotalApprovalSteps {
			// Final step: the chain is exhausted, current_approval_step
			// stays at the last order.
			result.IsFullyApproved = true
			result.Request, err = s.requests.UpdateStatus(ctx, tx, id, repository.StatusApproved, repository.StatusUpdate{})
			if err != nil {
				return err
			}
			return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
				RequestID:   id,
				Action:      repository.AuditApproved,
				PerformedBy: approverID,
				OldStatus:   strPtr(repository.StatusPendingApproval),
				NewStatus:   strPtr(repository.StatusApproved),
			})
		}

		next, err := s.steps.Activate(ctx, tx, id, decided.StepOrder+1)
		if err != nil {
			return err
		}
		result.NextStep = next

		nextOrder := next.StepOrder
		result.Request, err = s.requests.UpdateStatus(ctx, tx, id, repository.StatusPendingApproval, repository.StatusUpdate{
			CurrentApprovalStep: &nextOrder,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", id).
		Str("approver_id", approverID).
		Int("step_order", result.Step.StepOrder).
		Bool("fully_approved", result.IsFullyApproved).
		Msg("Approval step completed")

	if result.IsFullyApproved {
		s.publish(ctx, "request_approved", id, approverID, []string{result.Request.RequesterID}, map[string]interface{}{
			"request_code": result.Request.RequestCode,
		})
	} else {
		s.publish(ctx, "approval_required", id, approverID, []string{result.NextStep.ApproverID}, map[string]interface{}{
			"request_code": result.Request.RequestCode,
			"step_order":   result.NextStep.StepOrder,
		})
	}
	return result, nil
}

// Reject ends the flow at any step. Rejection is always terminal, no matter
// how many steps were already approved.
func (s *RequestService) Reject(ctx context.Context, id, approverID, reason string) (*repository.AssetRequest, error) {
	var updated *repository.AssetRequest

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		step, err := s.checkApprovalPreconditions(ctx, tx, req, approverID)
		if err != nil {
			return err
		}

		if _, err := s.steps.UpdateDecision(ctx, tx, step.ID, repository.StepStatusRejected, &reason); err != nil {
			return err
		}
		if err := s.steps.SkipRemaining(ctx, tx, id); err != nil {
			return err
		}

		now := time.Now()
		updated, err = s.requests.UpdateStatus(ctx, tx, id, repository.StatusRejected, repository.StatusUpdate{
			RejectedBy:       &approverID,
			RejectedAt:       &now,
			RejectReason:     &reason,
			ClearCurrentStep: true,
		})
		if err != nil {
			return err
		}

		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditRejected,
			PerformedBy: approverID,
			OldStatus:   strPtr(repository.StatusPendingApproval),
			NewStatus:   strPtr(repository.StatusRejected),
			Detail: map[string]interface{}{
				"step_order": step.StepOrder,
				"reason":     reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", id).
		Str("approver_id", approverID).
		Msg("Asset request rejected")

	s.publish(ctx, "request_rejected", id, approverID, []string{updated.RequesterID}, map[string]interface{}{
		"request_code": updated.RequestCode,
		"reason":       reason,
	})
	return updated, nil
}

// RequestMoreInfo pauses the chain: the current approver asks the requester a
// question and the request moves to need_info without changing chain position.
func (s *RequestService) RequestMoreInfo(ctx context.Context, id, approverID, question string) (*repository.RequestComment, error) {
	if question == "" {
		return nil, errors.InvalidInput("question", "question is required")
	}

	var (
		comment *repository.RequestComment
		req     *repository.AssetRequest
	)

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != repository.StatusPendingApproval {
			return errors.New(errors.ErrCodeConflict, "Request is not pending approval")
		}

		step, err := s.steps.FindCurrent(ctx, tx, id)
		if err != nil {
			return err
		}
		if step == nil || step.Status != repository.StepStatusPending {
			return errors.New(errors.ErrCodeConflict, "No pending approval step found")
		}
		if step.ApproverID != approverID {
			return errors.New(errors.ErrCodeUnauthorized, "You are not the current approver for this request")
		}

		comment = &repository.RequestComment{
			RequestID:      id,
			CommentType:    repository.CommentTypeInfoRequest,
			Content:        question,
			AuthorID:       approverID,
			ApprovalStepID: &step.ID,
		}
		if err := s.comments.Create(ctx, tx, comment); err != nil {
			return err
		}

		if _, err := s.requests.UpdateStatus(ctx, tx, id, repository.StatusNeedInfo, repository.StatusUpdate{}); err != nil {
			return err
		}

		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditInfoRequested,
			PerformedBy: approverID,
			OldStatus:   strPtr(repository.StatusPendingApproval),
			NewStatus:   strPtr(repository.StatusNeedInfo),
			Detail: map[string]interface{}{
				"step_order": step.StepOrder,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "info_requested", id, approverID, []string{req.RequesterID}, map[string]interface{}{
		"request_code": req.RequestCode,
		"question":     question,
	})
	return comment, nil
}

// ProvideInfo resumes a paused chain: the requester answers the referenced
// info request and the request returns to pending_approval at the exact step
// it paused on. When commentID is empty the answer goes to the latest
// unanswered info request.
func (s *RequestService) ProvideInfo(ctx context.Context, id, commentID, response, respondedBy string) (*repository.RequestComment, error) {
	if response == "" {
		return nil, errors.InvalidInput("response", "response is required")
	}

	var (
		reply    *repository.RequestComment
		approver string
		req      *repository.AssetRequest
	)

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		req, err = s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != repository.StatusNeedInfo {
			return errors.New(errors.ErrCodeConflict, "Request is not awaiting information")
		}
		if req.RequesterID != respondedBy {
			return errors.New(errors.ErrCodeUnauthorized, "Only the requester can provide information")
		}

		var parent *repository.RequestComment
		if commentID == "" {
			parent, err = s.comments.FindLatestInfoRequest(ctx, tx, id)
			if err != nil {
				return err
			}
			if parent == nil {
				return errors.New(errors.ErrCodeConflict, "No open information request to answer")
			}
		} else {
			parent, err = s.comments.FindByID(ctx, tx, commentID)
			if err != nil {
				return err
			}
			if parent.RequestID != id || parent.CommentType != repository.CommentTypeInfoRequest {
				return errors.InvalidInput("comment_id", "Referenced comment is not an information request on this request")
			}
		}
		approver = parent.AuthorID

		reply = &repository.RequestComment{
			RequestID:       id,
			CommentType:     repository.CommentTypeInfoResponse,
			Content:         response,
			AuthorID:        respondedBy,
			ApprovalStepID:  parent.ApprovalStepID,
			ParentCommentID: &parent.ID,
		}
		if err := s.comments.Create(ctx, tx, reply); err != nil {
			return err
		}

		// Chain resumes where it paused; current_approval_step is untouched.
		if _, err := s.requests.UpdateStatus(ctx, tx, id, repository.StatusPendingApproval, repository.StatusUpdate{}); err != nil {
			return err
		}

		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditInfoProvided,
			PerformedBy: respondedBy,
			OldStatus:   strPtr(repository.StatusNeedInfo),
			NewStatus:   strPtr(repository.StatusPendingApproval),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "info_provided", id, respondedBy, []string{approver}, map[string]interface{}{
		"request_code": req.RequestCode,
	})
	return reply, nil
}

// Cancel terminates a request before any approval has been granted. Only the
// requester may cancel, and only while no step has been approved.
func (s *RequestService) Cancel(ctx context.Context, id, cancelledBy string, reason *string) (*repository.AssetRequest, error) {
	var updated *repository.AssetRequest

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		switch req.Status {
		case repository.StatusDraft, repository.StatusPendingApproval, repository.StatusNeedInfo:
		default:
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("Cannot cancel request with status '%s'", req.Status))
		}
		if req.RequesterID != cancelledBy {
			return errors.New(errors.ErrCodeUnauthorized, "Only the requester can cancel their request")
		}

		steps, err := s.steps.FindByRequestID(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, step := range steps {
			if step.Status == repository.StepStatusApproved {
				return errors.New(errors.ErrCodeConflict, "Cannot cancel request that has already received approvals")
			}
		}

		if err := s.steps.SkipRemaining(ctx, tx, id); err != nil {
			return err
		}

		now := time.Now()
		updated, err = s.requests.UpdateStatus(ctx, tx, id, repository.StatusCancelled, repository.StatusUpdate{
			CancelledBy:      &cancelledBy,
			CancelledAt:      &now,
			CancelReason:     reason,
			ClearCurrentStep: true,
		})
		if err != nil {
			return err
		}

		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditCancelled,
			PerformedBy: cancelledBy,
			OldStatus:   &req.Status,
			NewStatus:   strPtr(repository.StatusCancelled),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", id).
		Str("cancelled_by", cancelledBy).
		Msg("Asset request cancelled")

	s.publish(ctx, "request_cancelled", id, cancelledBy, []string{updated.RequesterID}, map[string]interface{}{
		"request_code": updated.RequestCode,
	})
	return updated, nil
}

// StartFulfillment marks an approved request as being worked on.
func (s *RequestService) StartFulfillment(ctx context.Context, id, startedBy string) (*repository.AssetRequest, error) {
	var updated *repository.AssetRequest

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != repository.StatusApproved {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("Cannot start fulfillment for request with status '%s'", req.Status))
		}

		updated, err = s.requests.UpdateStatus(ctx, tx, id, repository.StatusFulfilling, repository.StatusUpdate{})
		if err != nil {
			return err
		}

		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditFulfilling,
			PerformedBy: startedBy,
			OldStatus:   strPtr(repository.StatusApproved),
			NewStatus:   strPtr(repository.StatusFulfilling),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "request_fulfilling", id, startedBy, []string{updated.RequesterID}, map[string]interface{}{
		"request_code": updated.RequestCode,
	})
	return updated, nil
}

// Fulfill completes a request with the delivered asset IDs. The asset count
// must match the requested quantity exactly.
func (s *RequestService) Fulfill(ctx context.Context, id string, assetIDs []string, fulfilledBy string, notes *string) (*FulfillmentResult, error) {
	var updated *repository.AssetRequest

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		req, err := s.requests.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Status != repository.StatusApproved && req.Status != repository.StatusFulfilling {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("Cannot fulfill request with status '%s'", req.Status))
		}
		if len(assetIDs) != req.Quantity {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("Expected %d asset(s), but %d provided", req.Quantity, len(assetIDs)))
		}

		now := time.Now()
		updated, err = s.requests.UpdateStatus(ctx, tx, id, repository.StatusCompleted, repository.StatusUpdate{
			FulfilledBy:       &fulfilledBy,
			FulfilledAt:       &now,
			FulfilledAssetIDs: assetIDs,
			ClearCurrentStep:  true,
		})
		if err != nil {
			return err
		}

		detail := map[string]interface{}{
			"asset_ids": assetIDs,
		}
		if notes != nil {
			detail["notes"] = *notes
		}
		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   id,
			Action:      repository.AuditCompleted,
			PerformedBy: fulfilledBy,
			OldStatus:   &req.Status,
			NewStatus:   strPtr(repository.StatusCompleted),
			Detail:      detail,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", id).
		Str("fulfilled_by", fulfilledBy).
		Int("asset_count", len(assetIDs)).
		Msg("Asset request fulfilled")

	s.publish(ctx, "request_completed", id, fulfilledBy, []string{updated.RequesterID}, map[string]interface{}{
		"request_code": updated.RequestCode,
		"asset_ids":    assetIDs,
	})
	return &FulfillmentResult{Request: updated, CheckoutIDs: []string{}}, nil
}

// Escalate reassigns an undecided step to a new approver. The step need not
// be the current one; escalating a later step only changes who will
// eventually decide it.
func (s *RequestService) Escalate(ctx context.Context, stepID, newApproverID, reason, escalatedBy string) (*repository.ApprovalStep, error) {
	if newApproverID == "" {
		return nil, errors.InvalidInput("new_approver_id", "new approver is required")
	}

	var escalated *repository.ApprovalStep

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		step, err := s.steps.FindByID(ctx, tx, stepID)
		if err != nil {
			return err
		}
		// Lock the owning request so escalation serializes with approvals.
		if _, err := s.requests.FindByIDForUpdate(ctx, tx, step.RequestID); err != nil {
			return err
		}

		escalated, err = s.steps.Escalate(ctx, tx, stepID, newApproverID, reason)
		if err != nil {
			return err
		}

		return s.audits.Append(ctx, tx, &repository.RequestAuditLog{
			RequestID:   step.RequestID,
			Action:      repository.AuditEscalated,
			PerformedBy: escalatedBy,
			Detail: map[string]interface{}{
				"step_order":    step.StepOrder,
				"from_approver": step.ApproverID,
				"to_approver":   newApproverID,
				"reason":        reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("step_id", stepID).
		Str("request_id", escalated.RequestID).
		Str("new_approver_id", newApproverID).
		Msg("Approval step escalated")

	s.publish(ctx, "approval_escalated", escalated.RequestID, escalatedBy, []string{newApproverID}, map[string]interface{}{
		"step_order": escalated.StepOrder,
		"reason":     reason,
	})
	return escalated, nil
}

// checkApprovalPreconditions runs the shared approve/reject gate, in order:
// request status, self-approval, pending step existence, approver identity.
// The first failure wins.
func (s *RequestService) checkApprovalPreconditions(ctx context.Context, tx pgx.Tx, req *repository.AssetRequest, approverID string) (*repository.ApprovalStep, error) {
	if req.Status != repository.StatusPendingApproval {
		return nil, errors.New(errors.ErrCodeConflict, "Request is not pending approval")
	}
	if req.RequesterID == approverID {
		return nil, errors.New(errors.ErrCodeUnauthorized, "Cannot approve your own request")
	}

	step, err := s.steps.FindCurrent(ctx, tx, req.ID)
	if err != nil {
		return nil, err
	}
	if step == nil || step.Status != repository.StepStatusPending {
		return nil, errors.New(errors.ErrCodeConflict, "No pending approval step found")
	}
	if step.ApproverID != approverID {
		return nil, errors.New(errors.ErrCodeUnauthorized, "You are not the current approver for this request")
	}
	return step, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetRequest retrieves a request by ID.
func (s *RequestService) GetRequest(ctx context.Context, id string) (*repository.AssetRequest, error) {
	return s.requests.FindByID(ctx, id)
}

// GetRequestByCode retrieves a request by its human-facing code.
func (s *RequestService) GetRequestByCode(ctx context.Context, code string) (*repository.AssetRequest, error) {
	return s.requests.FindByCode(ctx, code)
}

// GetRequestDetail retrieves a request with steps, comments and audit trail.
func (s *RequestService) GetRequestDetail(ctx context.Context, id string) (*RequestDetail, error) {
	req, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.steps.ListByRequestID(ctx, id)
	if err != nil {
		return nil, err
	}
	comments, err := s.comments.ListByRequestID(ctx, id)
	if err != nil {
		return nil, err
	}
	audit, err := s.audits.ListByRequestID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RequestDetail{Request: req, Steps: steps, Comments: comments, AuditTrail: audit}, nil
}

// ListRequests lists requests with filtering, sorting and pagination.
func (s *RequestService) ListRequests(ctx context.Context, query repository.RequestListQuery) ([]*repository.AssetRequest, int64, error) {
	return s.requests.List(ctx, query)
}

// MyRequests lists a requester's own requests, newest first.
func (s *RequestService) MyRequests(ctx context.Context, requesterID string) ([]*repository.AssetRequest, error) {
	return s.requests.FindByRequesterID(ctx, requesterID)
}

// ApprovalQueue lists requests whose current pending step belongs to the
// given approver.
func (s *RequestService) ApprovalQueue(ctx context.Context, approverID string) ([]*repository.AssetRequest, error) {
	return s.requests.FindPendingByApprover(ctx, approverID)
}

// FulfillmentQueue lists approved and in-fulfillment requests.
func (s *RequestService) FulfillmentQueue(ctx context.Context, organizationID *string) ([]*repository.AssetRequest, error) {
	return s.requests.FindReadyForFulfillment(ctx, organizationID)
}

// AddComment attaches a plain comment to a request. General comments do not
// affect workflow state.
func (s *RequestService) AddComment(ctx context.Context, id, authorID, content string) (*repository.RequestComment, error) {
	if content == "" {
		return nil, errors.InvalidInput("content", "content is required")
	}
	if _, err := s.requests.FindByID(ctx, id); err != nil {
		return nil, err
	}

	comment := &repository.RequestComment{
		RequestID:   id,
		CommentType: repository.CommentTypeComment,
		Content:     content,
		AuthorID:    authorID,
	}
	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return s.comments.Create(ctx, tx, comment)
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// ListComments lists a request's comments oldest first.
func (s *RequestService) ListComments(ctx context.Context, id string) ([]*repository.RequestComment, error) {
	return s.comments.ListByRequestID(ctx, id)
}

// ListAuditTrail lists a request's audit entries oldest first.
func (s *RequestService) ListAuditTrail(ctx context.Context, id string) ([]*repository.RequestAuditLog, error) {
	return s.audits.ListByRequestID(ctx, id)
}

// Statistics aggregates request counts. A pending step counts as overdue once
// it is older than the reminder threshold.
func (s *RequestService) Statistics(ctx context.Context, organizationID *string) (*repository.RequestStatistics, error) {
	cutoff := time.Now().AddDate(0, 0, -s.reminderThreshold)
	return s.requests.Statistics(ctx, organizationID, cutoff)
}

// publish is the nil-safe notification hook.
func (s *RequestService) publish(ctx context.Context, eventType, requestID, actorID string, recipients []string, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishRequestEvent(ctx, eventType, requestID, actorID, recipients, payload)
}

func strPtr(s string) *string {
	return &s
}
