package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-asset-requests/internal/logger"
	"github.com/pesio-ai/be-asset-requests/internal/repository"
)

type reminderStepStore interface {
	FindOverduePending(ctx context.Context, cutoff time.Time) ([]*repository.ApprovalStep, error)
	MarkReminderSent(ctx context.Context, stepID string) error
}

type reminderRequestStore interface {
	FindByID(ctx context.Context, id string) (*repository.AssetRequest, error)
}

// ReminderService nudges approvers sitting on a pending step for too long.
// It is driven by the cron scheduler in main and publishes approval_reminder
// events; delivery is the notification service's concern.
type ReminderService struct {
	steps         reminderStepStore
	requests      reminderRequestStore
	notifier      Notifier
	thresholdDays int
	log           *logger.Logger
}

// NewReminderService creates a new reminder service.
func NewReminderService(
	steps reminderStepStore,
	requests reminderRequestStore,
	notifier Notifier,
	thresholdDays int,
	log *logger.Logger,
) *ReminderService {
	return &ReminderService{
		steps:         steps,
		requests:      requests,
		notifier:      notifier,
		thresholdDays: thresholdDays,
		log:           log,
	}
}

// ProcessReminders finds current pending steps older than the threshold and
// publishes a reminder for each. Returns the number of reminders sent. A
// failure on one step is logged and does not stop the sweep.
func (s *ReminderService) ProcessReminders(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -s.thresholdDays)

	overdue, err := s.steps.FindOverduePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, step := range overdue {
		req, err := s.requests.FindByID(ctx, step.RequestID)
		if err != nil {
			s.log.Warn().Err(err).
				Str("step_id", step.ID).
				Str("request_id", step.RequestID).
				Msg("reminder: failed to load request")
			continue
		}

		if s.notifier != nil {
			s.notifier.PublishRequestEvent(ctx, "approval_reminder", req.ID, "system",
				[]string{step.ApproverID}, map[string]interface{}{
					"request_code":  req.RequestCode,
					"step_order":    step.StepOrder,
					"pending_since": step.CreatedAt,
					"reminder_no":   step.ReminderSentCount + 1,
				})
		}

		if err := s.steps.MarkReminderSent(ctx, step.ID); err != nil {
			s.log.Warn().Err(err).
				Str("step_id", step.ID).
				Msg("reminder: failed to record reminder")
			continue
		}
		sent++
	}

	if sent > 0 {
		s.log.Info().
			Int("reminders_sent", sent).
			Int("threshold_days", s.thresholdDays).
			Msg("Approval reminders processed")
	}
	return sent, nil
}
