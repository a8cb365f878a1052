package service

import (
	"context"
	"testing"
	"time"

	"github.com/pesio-ai/be-asset-requests/internal/errors"
	"github.com/pesio-ai/be-asset-requests/internal/logger"
	"github.com/pesio-ai/be-asset-requests/internal/repository"
)

type fakeReminderSteps struct {
	overdue  []*repository.ApprovalStep
	gotQuery time.Time
	marked   []string
}

func (f *fakeReminderSteps) FindOverduePending(ctx context.Context, cutoff time.Time) ([]*repository.ApprovalStep, error) {
	f.gotQuery = cutoff
	return f.overdue, nil
}

func (f *fakeReminderSteps) MarkReminderSent(ctx context.Context, stepID string) error {
	f.marked = append(f.marked, stepID)
	return nil
}

type fakeReminderRequests struct {
	requests map[string]*repository.AssetRequest
}

func (f *fakeReminderRequests) FindByID(ctx context.Context, id string) (*repository.AssetRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, errors.NotFound("asset_request", id)
	}
	return req, nil
}

func TestProcessReminders(t *testing.T) {
	steps := &fakeReminderSteps{
		overdue: []*repository.ApprovalStep{
			{ID: "step-1", RequestID: "req-1", StepOrder: 1, ApproverID: "approver-a", CreatedAt: time.Now().Add(-72 * time.Hour)},
			{ID: "step-2", RequestID: "req-gone", StepOrder: 1, ApproverID: "approver-b"},
		},
	}
	requests := &fakeReminderRequests{
		requests: map[string]*repository.AssetRequest{
			"req-1": {ID: "req-1", RequestCode: "AR-2026-0001", RequesterID: "user-1"},
		},
	}
	notif := &fakeNotifier{}

	svc := NewReminderService(steps, requests, notif, 2, logger.Nop())

	sent, err := svc.ProcessReminders(context.Background())
	if err != nil {
		t.Fatalf("ProcessReminders: %v", err)
	}
	// The step whose request failed to load is skipped, not fatal.
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(steps.marked) != 1 || steps.marked[0] != "step-1" {
		t.Fatalf("marked = %v, want [step-1]", steps.marked)
	}
	if len(notif.events) != 1 || notif.events[0] != "approval_reminder" {
		t.Fatalf("events = %v, want [approval_reminder]", notif.events)
	}

	// Cutoff sits the threshold back from now.
	wantCutoff := time.Now().AddDate(0, 0, -2)
	if diff := steps.gotQuery.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", steps.gotQuery, wantCutoff)
	}
}

func TestProcessRemindersNothingOverdue(t *testing.T) {
	steps := &fakeReminderSteps{}
	requests := &fakeReminderRequests{requests: map[string]*repository.AssetRequest{}}

	svc := NewReminderService(steps, requests, nil, 2, logger.Nop())

	sent, err := svc.ProcessReminders(context.Background())
	if err != nil {
		t.Fatalf("ProcessReminders: %v", err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
}
