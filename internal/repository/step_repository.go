package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/errors"
)

const stepColumns = `
	id, request_id, step_order, approver_id, approver_role,
	status, comments, decided_at,
	is_escalated, escalated_from, escalated_at, escalation_reason,
	reminder_sent_count, last_reminder_sent_at,
	created_at, updated_at`

// StepRepository owns the ordered approval step ledger for each request.
// Step creation happens only at submission, inside the submit transaction.
type StepRepository struct {
	db *database.DB
}

// NewStepRepository creates a new StepRepository.
func NewStepRepository(db *database.DB) *StepRepository {
	return &StepRepository{db: db}
}

// CreateSteps materializes the chain definition into approval step rows.
// Step order is assigned densely starting at 1 in the definitions' declared
// order. Only the first step starts pending; later steps wait until the chain
// reaches them, keeping exactly one actionable step per request.
func (r *StepRepository) CreateSteps(ctx context.Context, q database.Executor, requestID string, defs []ChainStepDef) ([]*ApprovalStep, error) {
	query := `
		INSERT INTO approval_steps (request_id, step_order, approver_id, approver_role, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + stepColumns

	steps := make([]*ApprovalStep, 0, len(defs))
	order := 1
	for _, def := range defs {
		if def.ApproverID == "" {
			continue
		}
		var role *string
		if def.Role != "" {
			role = &def.Role
		}
		status := StepStatusWaiting
		if order == 1 {
			status = StepStatusPending
		}

		step, err := scanStep(q.QueryRow(ctx, query, requestID, order, def.ApproverID, role, status))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
		}
		steps = append(steps, step)
		order++
	}
	return steps, nil
}

// FindByRequestID returns all steps for a request ordered by step_order.
func (r *StepRepository) FindByRequestID(ctx context.Context, q database.Executor, requestID string) ([]*ApprovalStep, error) {
	query := `SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE request_id = $1
		ORDER BY step_order ASC`

	rows, err := q.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// ListByRequestID is FindByRequestID outside any transaction, for read-only
// query endpoints.
func (r *StepRepository) ListByRequestID(ctx context.Context, requestID string) ([]*ApprovalStep, error) {
	return r.FindByRequestID(ctx, r.db, requestID)
}

// FindCurrent returns the step whose order matches the request's
// current_approval_step, or nil when the request has no actionable step.
// Callers use nil to distinguish "no chain yet" from "chain exhausted".
func (r *StepRepository) FindCurrent(ctx context.Context, q database.Executor, requestID string) (*ApprovalStep, error) {
	query := `
		SELECT s.id, s.request_id, s.step_order, s.approver_id, s.approver_role,
		       s.status, s.comments, s.decided_at,
		       s.is_escalated, s.escalated_from, s.escalated_at, s.escalation_reason,
		       s.reminder_sent_count, s.last_reminder_sent_at,
		       s.created_at, s.updated_at
		FROM approval_steps s
		JOIN asset_requests r ON s.request_id = r.id
		WHERE s.request_id = $1
		  AND s.step_order = r.current_approval_step
	`

	step, err := scanStep(q.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return step, err
}

// FindByID retrieves a step by primary key with a row lock inside the
// caller's transaction.
func (r *StepRepository) FindByID(ctx context.Context, q database.Executor, stepID string) (*ApprovalStep, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE id = $1 FOR UPDATE`

	step, err := scanStep(q.QueryRow(ctx, query, stepID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_step", stepID)
	}
	return step, err
}

// UpdateDecision records the outcome of an approval action on a step.
func (r *StepRepository) UpdateDecision(ctx context.Context, q database.Executor, stepID, status string, comments *string) (*ApprovalStep, error) {
	query := `
		UPDATE approval_steps
		SET status     = $2,
		    comments   = $3,
		    decided_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + stepColumns

	step, err := scanStep(q.QueryRow(ctx, query, stepID, status, comments))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_step", stepID)
	}
	return step, err
}

// Activate moves the step at the given order from waiting to pending, making
// it the single actionable step after its predecessor is decided.
func (r *StepRepository) Activate(ctx context.Context, q database.Executor, requestID string, stepOrder int) (*ApprovalStep, error) {
	query := `
		UPDATE approval_steps
		SET status     = 'pending',
		    updated_at = NOW()
		WHERE request_id = $1
		  AND step_order = $2
		  AND status = 'waiting'
		RETURNING ` + stepColumns

	step, err := scanStep(q.QueryRow(ctx, query, requestID, stepOrder))
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeConflict, "No pending approval step found")
	}
	return step, err
}

// SkipRemaining marks every undecided step as skipped when the request exits
// the approval flow (rejection or cancellation).
func (r *StepRepository) SkipRemaining(ctx context.Context, q database.Executor, requestID string) error {
	query := `
		UPDATE approval_steps
		SET status     = 'skipped',
		    updated_at = NOW()
		WHERE request_id = $1
		  AND status IN ('pending', 'waiting')
	`

	if _, err := q.Exec(ctx, query, requestID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to skip remaining steps")
	}
	return nil
}

// Escalate reassigns an undecided step to a new approver, keeping step order.
// Waiting steps may be escalated too; that only changes who will eventually
// approve them.
func (r *StepRepository) Escalate(ctx context.Context, q database.Executor, stepID, newApproverID, reason string) (*ApprovalStep, error) {
	query := `
		UPDATE approval_steps
		SET escalated_from    = approver_id,
		    approver_id       = $2,
		    escalation_reason = $3,
		    escalated_at      = NOW(),
		    is_escalated      = TRUE,
		    updated_at        = NOW()
		WHERE id = $1
		  AND status IN ('pending', 'waiting')
		RETURNING ` + stepColumns

	step, err := scanStep(q.QueryRow(ctx, query, stepID, newApproverID, reason))
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeConflict, "Can only escalate pending steps")
	}
	return step, err
}

// FindOverduePending returns current pending steps created before cutoff,
// feeding the reminder scheduler.
func (r *StepRepository) FindOverduePending(ctx context.Context, cutoff time.Time) ([]*ApprovalStep, error) {
	query := `
		SELECT s.id, s.request_id, s.step_order, s.approver_id, s.approver_role,
		       s.status, s.comments, s.decided_at,
		       s.is_escalated, s.escalated_from, s.escalated_at, s.escalation_reason,
		       s.reminder_sent_count, s.last_reminder_sent_at,
		       s.created_at, s.updated_at
		FROM approval_steps s
		JOIN asset_requests r ON s.request_id = r.id
		WHERE r.status = 'pending_approval'
		  AND s.step_order = r.current_approval_step
		  AND s.status = 'pending'
		  AND s.created_at < $1
		ORDER BY s.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get overdue pending steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// MarkReminderSent bumps the reminder counter on a step.
func (r *StepRepository) MarkReminderSent(ctx context.Context, stepID string) error {
	query := `
		UPDATE approval_steps
		SET reminder_sent_count   = reminder_sent_count + 1,
		    last_reminder_sent_at = NOW(),
		    updated_at            = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, stepID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record reminder")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_step", stepID)
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type stepScanner interface {
	Scan(dest ...any) error
}

func scanStep(row stepScanner) (*ApprovalStep, error) {
	s := &ApprovalStep{}
	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.StepOrder,
		&s.ApproverID,
		&s.ApproverRole,
		&s.Status,
		&s.Comments,
		&s.DecidedAt,
		&s.IsEscalated,
		&s.EscalatedFrom,
		&s.EscalatedAt,
		&s.EscalationReason,
		&s.ReminderSentCount,
		&s.LastReminderSentAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanStepRows(rows pgx.Rows) ([]*ApprovalStep, error) {
	var steps []*ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	return steps, nil
}
