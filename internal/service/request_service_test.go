package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/errors"
	"github.com/pesio-ai/be-asset-requests/internal/logger"
	"github.com/pesio-ai/be-asset-requests/internal/repository"
)

// fakeStore is an in-memory stand-in for the database-backed repositories.
// It implements every store interface the services consume; InTransaction
// just runs the function, since precondition failures in the service happen
// before any mutation.
type fakeStore struct {
	requests  map[string]*repository.AssetRequest
	steps     map[string][]*repository.ApprovalStep
	comments  map[string]*repository.RequestComment
	audits    []*repository.RequestAuditLog
	template  *repository.ApprovalChainTemplate
	idCounter int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: make(map[string]*repository.AssetRequest),
		steps:    make(map[string][]*repository.ApprovalStep),
		comments: make(map[string]*repository.RequestComment),
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.idCounter++
	return fmt.Sprintf("%s-%d", prefix, f.idCounter)
}

func (f *fakeStore) InTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

// ── requestStore ────────────────────────────────────────────────────────────

func (f *fakeStore) Create(ctx context.Context, q database.Executor, req *repository.AssetRequest) error {
	req.ID = f.nextID("req")
	req.RequestCode = fmt.Sprintf("AR-2026-%04d", f.idCounter)
	req.Status = repository.StatusDraft
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Priority == "" {
		req.Priority = repository.PriorityNormal
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	f.requests[req.ID] = req
	return nil
}

func (f *fakeStore) FindByID(ctx context.Context, id string) (*repository.AssetRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, errors.NotFound("asset_request", id)
	}
	return req, nil
}

func (f *fakeStore) FindByIDForUpdate(ctx context.Context, q database.Executor, id string) (*repository.AssetRequest, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeStore) FindByCode(ctx context.Context, code string) (*repository.AssetRequest, error) {
	for _, req := range f.requests {
		if req.RequestCode == code {
			return req, nil
		}
	}
	return nil, errors.NotFound("asset_request", code)
}

func (f *fakeStore) Update(ctx context.Context, q database.Executor, id string, params repository.UpdateRequestParams) (*repository.AssetRequest, error) {
	req, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if params.Quantity != nil {
		req.Quantity = *params.Quantity
	}
	if params.Justification != nil {
		req.Justification = *params.Justification
	}
	if params.Priority != nil {
		req.Priority = *params.Priority
	}
	if params.AssetCategoryID != nil {
		req.AssetCategoryID = params.AssetCategoryID
	}
	if params.AssetModelID != nil {
		req.AssetModelID = params.AssetModelID
	}
	if params.RequiredDate != nil {
		req.RequiredDate = params.RequiredDate
	}
	return req, nil
}

func (f *fakeStore) Delete(ctx context.Context, q database.Executor, id string) error {
	if _, ok := f.requests[id]; !ok {
		return errors.NotFound("asset_request", id)
	}
	delete(f.requests, id)
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, q database.Executor, id, status string, upd repository.StatusUpdate) (*repository.AssetRequest, error) {
	req, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Status = status
	if upd.SubmittedAt != nil {
		req.SubmittedAt = upd.SubmittedAt
	}
	if upd.ApprovalChain != nil {
		req.ApprovalChain = upd.ApprovalChain
	}
	if upd.TotalApprovalSteps != nil {
		req.TotalApprovalSteps = *upd.TotalApprovalSteps
	}
	if upd.CurrentApprovalStep != nil {
		req.CurrentApprovalStep = upd.CurrentApprovalStep
	}
	if upd.ClearCurrentStep {
		req.CurrentApprovalStep = nil
	}
	if upd.RejectedBy != nil {
		req.RejectedBy = upd.RejectedBy
		req.RejectedAt = upd.RejectedAt
		req.RejectReason = upd.RejectReason
	}
	if upd.CancelledBy != nil {
		req.CancelledBy = upd.CancelledBy
		req.CancelledAt = upd.CancelledAt
		req.CancelReason = upd.CancelReason
	}
	if upd.FulfilledBy != nil {
		req.FulfilledBy = upd.FulfilledBy
		req.FulfilledAt = upd.FulfilledAt
		req.FulfilledAssetIDs = upd.FulfilledAssetIDs
	}
	return req, nil
}

func (f *fakeStore) HasPendingSimilarRequest(ctx context.Context, requesterID, assetCategoryID, requestType string) (bool, error) {
	for _, req := range f.requests {
		if req.RequesterID != requesterID || req.RequestType != requestType {
			continue
		}
		if req.AssetCategoryID == nil || *req.AssetCategoryID != assetCategoryID {
			continue
		}
		switch req.Status {
		case repository.StatusDraft, repository.StatusPendingApproval, repository.StatusNeedInfo, repository.StatusApproved:
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) List(ctx context.Context, query repository.RequestListQuery) ([]*repository.AssetRequest, int64, error) {
	var out []*repository.AssetRequest
	for _, req := range f.requests {
		out = append(out, req)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) FindByRequesterID(ctx context.Context, requesterID string) ([]*repository.AssetRequest, error) {
	var out []*repository.AssetRequest
	for _, req := range f.requests {
		if req.RequesterID == requesterID {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakeStore) FindPendingByApprover(ctx context.Context, approverID string) ([]*repository.AssetRequest, error) {
	var out []*repository.AssetRequest
	for _, req := range f.requests {
		if req.Status != repository.StatusPendingApproval || req.CurrentApprovalStep == nil {
			continue
		}
		for _, step := range f.steps[req.ID] {
			if step.StepOrder == *req.CurrentApprovalStep && step.ApproverID == approverID {
				out = append(out, req)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) FindReadyForFulfillment(ctx context.Context, organizationID *string) ([]*repository.AssetRequest, error) {
	var out []*repository.AssetRequest
	for _, req := range f.requests {
		if req.Status == repository.StatusApproved || req.Status == repository.StatusFulfilling {
			out = append(out, req)
		}
	}
	return out, nil
}

func (f *fakeStore) Statistics(ctx context.Context, organizationID *string, overdueCutoff time.Time) (*repository.RequestStatistics, error) {
	return &repository.RequestStatistics{TotalRequests: int64(len(f.requests))}, nil
}

// ── stepStore ───────────────────────────────────────────────────────────────

func (f *fakeStore) CreateSteps(ctx context.Context, q database.Executor, requestID string, defs []repository.ChainStepDef) ([]*repository.ApprovalStep, error) {
	var steps []*repository.ApprovalStep
	order := 1
	for _, def := range defs {
		if def.ApproverID == "" {
			continue
		}
		status := repository.StepStatusWaiting
		if order == 1 {
			status = repository.StepStatusPending
		}
		steps = append(steps, &repository.ApprovalStep{
			ID:         f.nextID("step"),
			RequestID:  requestID,
			StepOrder:  order,
			ApproverID: def.ApproverID,
			Status:     status,
			CreatedAt:  time.Now(),
		})
		order++
	}
	f.steps[requestID] = steps
	return steps, nil
}

func (f *fakeStore) FindByRequestID(ctx context.Context, q database.Executor, requestID string) ([]*repository.ApprovalStep, error) {
	return f.steps[requestID], nil
}

func (f *fakeStore) ListByRequestID(ctx context.Context, requestID string) ([]*repository.ApprovalStep, error) {
	return f.steps[requestID], nil
}

func (f *fakeStore) FindCurrent(ctx context.Context, q database.Executor, requestID string) (*repository.ApprovalStep, error) {
	req, ok := f.requests[requestID]
	if !ok || req.CurrentApprovalStep == nil {
		return nil, nil
	}
	for _, step := range f.steps[requestID] {
		if step.StepOrder == *req.CurrentApprovalStep {
			return step, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) findStep(stepID string) *repository.ApprovalStep {
	for _, steps := range f.steps {
		for _, step := range steps {
			if step.ID == stepID {
				return step
			}
		}
	}
	return nil
}

func (f *fakeStore) FindByIDStep(ctx context.Context, q database.Executor, stepID string) (*repository.ApprovalStep, error) {
	if step := f.findStep(stepID); step != nil {
		return step, nil
	}
	return nil, errors.NotFound("approval_step", stepID)
}

func (f *fakeStore) UpdateDecision(ctx context.Context, q database.Executor, stepID, status string, comments *string) (*repository.ApprovalStep, error) {
	step := f.findStep(stepID)
	if step == nil {
		return nil, errors.NotFound("approval_step", stepID)
	}
	now := time.Now()
	step.Status = status
	step.Comments = comments
	step.DecidedAt = &now
	return step, nil
}

func (f *fakeStore) Activate(ctx context.Context, q database.Executor, requestID string, stepOrder int) (*repository.ApprovalStep, error) {
	for _, step := range f.steps[requestID] {
		if step.StepOrder == stepOrder && step.Status == repository.StepStatusWaiting {
			step.Status = repository.StepStatusPending
			return step, nil
		}
	}
	return nil, errors.New(errors.ErrCodeConflict, "No pending approval step found")
}

func (f *fakeStore) SkipRemaining(ctx context.Context, q database.Executor, requestID string) error {
	for _, step := range f.steps[requestID] {
		if step.Status == repository.StepStatusPending || step.Status == repository.StepStatusWaiting {
			step.Status = repository.StepStatusSkipped
		}
	}
	return nil
}

func (f *fakeStore) Escalate(ctx context.Context, q database.Executor, stepID, newApproverID, reason string) (*repository.ApprovalStep, error) {
	step := f.findStep(stepID)
	if step == nil {
		return nil, errors.NotFound("approval_step", stepID)
	}
	if step.Status != repository.StepStatusPending && step.Status != repository.StepStatusWaiting {
		return nil, errors.New(errors.ErrCodeConflict, "Can only escalate pending steps")
	}
	from := step.ApproverID
	now := time.Now()
	step.EscalatedFrom = &from
	step.ApproverID = newApproverID
	step.EscalationReason = &reason
	step.EscalatedAt = &now
	step.IsEscalated = true
	return step, nil
}

// ── templateStore ───────────────────────────────────────────────────────────

func (f *fakeStore) FindMatching(ctx context.Context, assetCategoryID *string, assetValue *int64, departmentID *string, requestType string, organizationID *string) (*repository.ApprovalChainTemplate, error) {
	return f.template, nil
}

// ── commentStore ────────────────────────────────────────────────────────────

func (f *fakeStore) CreateComment(ctx context.Context, q database.Executor, c *repository.RequestComment) error {
	c.ID = f.nextID("comment")
	c.CreatedAt = time.Now()
	f.comments[c.ID] = c
	return nil
}

func (f *fakeStore) FindCommentByID(ctx context.Context, q database.Executor, id string) (*repository.RequestComment, error) {
	c, ok := f.comments[id]
	if !ok {
		return nil, errors.NotFound("request_comment", id)
	}
	return c, nil
}

func (f *fakeStore) ListCommentsByRequestID(ctx context.Context, requestID string) ([]*repository.RequestComment, error) {
	var out []*repository.RequestComment
	for _, c := range f.comments {
		if c.RequestID == requestID {
			out = append(out, c)
		}
	}
	return out, nil
}

// ── auditStore ──────────────────────────────────────────────────────────────

func (f *fakeStore) Append(ctx context.Context, q database.Executor, entry *repository.RequestAuditLog) error {
	entry.ID = f.nextID("audit")
	entry.CreatedAt = time.Now()
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) ListAuditsByRequestID(ctx context.Context, requestID string) ([]*repository.RequestAuditLog, error) {
	var out []*repository.RequestAuditLog
	for _, entry := range f.audits {
		if entry.RequestID == requestID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeStore) auditActions(requestID string) []string {
	var out []string
	for _, entry := range f.audits {
		if entry.RequestID == requestID {
			out = append(out, entry.Action)
		}
	}
	return out
}

// Adapters splitting the single fake into the differently named interface
// methods for steps, comments and audits.

type fakeStepStore struct{ *fakeStore }

func (f fakeStepStore) FindByID(ctx context.Context, q database.Executor, stepID string) (*repository.ApprovalStep, error) {
	return f.FindByIDStep(ctx, q, stepID)
}

type fakeCommentStore struct{ *fakeStore }

func (f fakeCommentStore) Create(ctx context.Context, q database.Executor, c *repository.RequestComment) error {
	return f.CreateComment(ctx, q, c)
}

func (f fakeCommentStore) FindByID(ctx context.Context, q database.Executor, id string) (*repository.RequestComment, error) {
	return f.FindCommentByID(ctx, q, id)
}

func (f fakeCommentStore) FindLatestInfoRequest(ctx context.Context, q database.Executor, requestID string) (*repository.RequestComment, error) {
	answered := make(map[string]bool)
	for _, c := range f.comments {
		if c.CommentType == repository.CommentTypeInfoResponse && c.ParentCommentID != nil {
			answered[*c.ParentCommentID] = true
		}
	}
	var latest *repository.RequestComment
	for _, c := range f.comments {
		if c.RequestID != requestID || c.CommentType != repository.CommentTypeInfoRequest || answered[c.ID] {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest, nil
}

func (f fakeCommentStore) ListByRequestID(ctx context.Context, requestID string) ([]*repository.RequestComment, error) {
	return f.ListCommentsByRequestID(ctx, requestID)
}

type fakeAuditStore struct{ *fakeStore }

func (f fakeAuditStore) ListByRequestID(ctx context.Context, requestID string) ([]*repository.RequestAuditLog, error) {
	return f.ListAuditsByRequestID(ctx, requestID)
}

type fakeNotifier struct {
	events []string
}

func (n *fakeNotifier) PublishRequestEvent(ctx context.Context, eventType, requestID, actorID string, recipients []string, payload map[string]interface{}) {
	n.events = append(n.events, eventType)
}

// ── helpers ─────────────────────────────────────────────────────────────────

func newTestService(t *testing.T) (*RequestService, *fakeStore, *fakeNotifier) {
	t.Helper()
	store := newFakeStore()
	store.template = &repository.ApprovalChainTemplate{
		ID:   "tpl-1",
		Name: "Standard hardware chain",
		Steps: []repository.ChainStepDef{
			{Order: 1, ApproverID: "approver-a"},
			{Order: 2, ApproverID: "approver-b"},
		},
		IsActive: true,
	}
	notif := &fakeNotifier{}
	svc := NewRequestService(
		store, store, fakeStepStore{store}, store,
		fakeCommentStore{store}, fakeAuditStore{store},
		notif, 2, logger.Nop(),
	)
	return svc, store, notif
}

func createDraft(t *testing.T, svc *RequestService, requesterID string) *repository.AssetRequest {
	t.Helper()
	category := "cat-laptops"
	result, err := svc.Create(context.Background(), &CreateRequestInput{
		RequestType:     repository.RequestTypeNew,
		RequesterID:     requesterID,
		AssetCategoryID: &category,
		Quantity:        1,
		Justification:   "Current machine no longer boots reliably",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return result.Request
}

func submitRequest(t *testing.T, svc *RequestService, id, by string) *repository.AssetRequest {
	t.Helper()
	req, err := svc.Submit(context.Background(), id, by)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return req
}

func wantMessage(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if got := errors.Message(err); got != want {
		t.Fatalf("error message = %q, want %q", got, want)
	}
}

// ── creation ────────────────────────────────────────────────────────────────

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreateRequestInput
	}{
		{
			name: "invalid request type",
			input: CreateRequestInput{
				RequestType:   "upgrade",
				RequesterID:   "user-1",
				Justification: "Current machine no longer boots reliably",
			},
		},
		{
			name: "replacement without current asset",
			input: CreateRequestInput{
				RequestType:   repository.RequestTypeReplacement,
				RequesterID:   "user-1",
				Justification: "Current machine no longer boots reliably",
			},
		},
		{
			name: "short justification",
			input: CreateRequestInput{
				RequestType:   repository.RequestTypeNew,
				RequesterID:   "user-1",
				Justification: "need it",
			},
		},
		{
			name: "missing requester",
			input: CreateRequestInput{
				RequestType:   repository.RequestTypeNew,
				Justification: "Current machine no longer boots reliably",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, &tt.input)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if errors.Code(err) != errors.ErrCodeInvalidInput {
				t.Fatalf("error code = %s, want %s", errors.Code(err), errors.ErrCodeInvalidInput)
			}
		})
	}
}

func TestCreateDefaultsAndAudit(t *testing.T) {
	svc, store, _ := newTestService(t)
	req := createDraft(t, svc, "user-1")

	if req.Status != repository.StatusDraft {
		t.Fatalf("status = %s, want draft", req.Status)
	}
	if req.Priority != repository.PriorityNormal {
		t.Fatalf("priority = %s, want normal", req.Priority)
	}
	if req.CurrentApprovalStep != nil {
		t.Fatalf("currentApprovalStep = %v, want nil in draft", *req.CurrentApprovalStep)
	}
	if actions := store.auditActions(req.ID); len(actions) != 1 || actions[0] != repository.AuditCreated {
		t.Fatalf("audit actions = %v, want [created]", actions)
	}
}

func TestCreateSimilarPendingWarns(t *testing.T) {
	svc, _, _ := newTestService(t)
	createDraft(t, svc, "user-1")

	category := "cat-laptops"
	result, err := svc.Create(context.Background(), &CreateRequestInput{
		RequestType:     repository.RequestTypeNew,
		RequesterID:     "user-1",
		AssetCategoryID: &category,
		Justification:   "A second machine for the lab bench setup",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one similar-request warning", result.Warnings)
	}
	if result.Request == nil {
		t.Fatal("similar pending request must warn, not block")
	}
}

// ── submission ──────────────────────────────────────────────────────────────

func TestSubmitBuildsChain(t *testing.T) {
	svc, store, notif := newTestService(t)
	req := createDraft(t, svc, "user-1")

	submitted := submitRequest(t, svc, req.ID, "user-1")

	if submitted.Status != repository.StatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval", submitted.Status)
	}
	if submitted.CurrentApprovalStep == nil || *submitted.CurrentApprovalStep != 1 {
		t.Fatalf("currentApprovalStep = %v, want 1", submitted.CurrentApprovalStep)
	}
	if submitted.TotalApprovalSteps != 2 {
		t.Fatalf("totalApprovalSteps = %d, want 2", submitted.TotalApprovalSteps)
	}
	if len(submitted.ApprovalChain) != 2 {
		t.Fatalf("approvalChain length = %d, want 2", len(submitted.ApprovalChain))
	}
	if submitted.SubmittedAt == nil {
		t.Fatal("submittedAt not set")
	}

	steps := store.steps[req.ID]
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(steps))
	}
	if steps[0].Status != repository.StepStatusPending {
		t.Fatalf("step 1 status = %s, want pending", steps[0].Status)
	}
	if steps[1].Status != repository.StepStatusWaiting {
		t.Fatalf("step 2 status = %s, want waiting", steps[1].Status)
	}

	if len(notif.events) != 2 || notif.events[0] != "request_submitted" || notif.events[1] != "approval_required" {
		t.Fatalf("events = %v, want [request_submitted approval_required]", notif.events)
	}
}

func TestSubmitRequiresDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	_, err := svc.Submit(context.Background(), req.ID, "user-1")
	wantMessage(t, err, "Can only submit requests in draft status")
}

func TestSubmitWithoutTemplate(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.template = nil
	req := createDraft(t, svc, "user-1")

	_, err := svc.Submit(context.Background(), req.ID, "user-1")
	wantMessage(t, err, "No approval chain configured for this request type")

	if store.requests[req.ID].Status != repository.StatusDraft {
		t.Fatalf("status = %s, want draft after failed submit", store.requests[req.ID].Status)
	}
}

func TestSubmitEmptyChain(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.template.Steps = []repository.ChainStepDef{{Order: 1, ApproverID: ""}}
	req := createDraft(t, svc, "user-1")

	_, err := svc.Submit(context.Background(), req.ID, "user-1")
	wantMessage(t, err, "Failed to create approval chain")
}

// ── approval flow ───────────────────────────────────────────────────────────

func TestTwoStepApprovalFlow(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	result, err := svc.Approve(ctx, req.ID, "approver-a", nil)
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if result.IsFullyApproved {
		t.Fatal("first of two steps reported fully approved")
	}
	if result.NextStep == nil || result.NextStep.ApproverID != "approver-b" {
		t.Fatalf("nextStep = %+v, want approver-b", result.NextStep)
	}
	if result.Request.Status != repository.StatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval", result.Request.Status)
	}
	if *result.Request.CurrentApprovalStep != 2 {
		t.Fatalf("currentApprovalStep = %d, want 2", *result.Request.CurrentApprovalStep)
	}

	result, err = svc.Approve(ctx, req.ID, "approver-b", nil)
	if err != nil {
		t.Fatalf("final approve: %v", err)
	}
	if !result.IsFullyApproved {
		t.Fatal("final step not reported fully approved")
	}
	if result.Request.Status != repository.StatusApproved {
		t.Fatalf("status = %s, want approved", result.Request.Status)
	}
	// Chain exhausted: position stays at the last step.
	if result.Request.CurrentApprovalStep == nil || *result.Request.CurrentApprovalStep != 2 {
		t.Fatalf("currentApprovalStep = %v, want 2 after final approval", result.Request.CurrentApprovalStep)
	}

	pending := 0
	for _, step := range store.steps[req.ID] {
		if step.Status == repository.StepStatusPending {
			pending++
		}
		if step.Status != repository.StepStatusApproved {
			t.Fatalf("step %d status = %s, want approved", step.StepOrder, step.Status)
		}
	}
	if pending != 0 {
		t.Fatalf("pending steps after full approval = %d, want 0", pending)
	}

	actions := store.auditActions(req.ID)
	want := []string{
		repository.AuditCreated, repository.AuditSubmitted,
		repository.AuditApprovalStepCompleted,
		repository.AuditApprovalStepCompleted, repository.AuditApproved,
	}
	if len(actions) != len(want) {
		t.Fatalf("audit actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("audit actions = %v, want %v", actions, want)
		}
	}
}

func TestRejectEndsFlowAtAnyStep(t *testing.T) {
	svc, store, _ := newTestService(t)
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	rejected, err := svc.Reject(context.Background(), req.ID, "approver-a", "Budget freeze this quarter")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != repository.StatusRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if rejected.CurrentApprovalStep != nil {
		t.Fatal("currentApprovalStep not cleared on rejection")
	}
	if rejected.RejectedBy == nil || *rejected.RejectedBy != "approver-a" {
		t.Fatal("rejectedBy not recorded")
	}

	steps := store.steps[req.ID]
	if steps[0].Status != repository.StepStatusRejected {
		t.Fatalf("step 1 status = %s, want rejected", steps[0].Status)
	}
	if steps[1].Status != repository.StepStatusSkipped {
		t.Fatalf("step 2 status = %s, want skipped", steps[1].Status)
	}
}

func TestRejectAtFinalStep(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	if _, err := svc.Approve(ctx, req.ID, "approver-a", nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	rejected, err := svc.Reject(ctx, req.ID, "approver-b", "Spec does not match need")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != repository.StatusRejected {
		t.Fatalf("status = %s, want rejected even at the last step", rejected.Status)
	}
}

func TestApprovePreconditions(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")

	_, err := svc.Approve(ctx, req.ID, "approver-a", nil)
	wantMessage(t, err, "Request is not pending approval")

	submitRequest(t, svc, req.ID, "user-1")

	_, err = svc.Approve(ctx, req.ID, "user-1", nil)
	wantMessage(t, err, "Cannot approve your own request")

	_, err = svc.Approve(ctx, req.ID, "other-user", nil)
	wantMessage(t, err, "You are not the current approver for this request")

	// None of the failed attempts may have mutated anything.
	current := store.requests[req.ID]
	if current.Status != repository.StatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval", current.Status)
	}
	if *current.CurrentApprovalStep != 1 {
		t.Fatalf("currentApprovalStep = %d, want 1", *current.CurrentApprovalStep)
	}
	if store.steps[req.ID][0].Status != repository.StepStatusPending {
		t.Fatalf("step 1 status = %s, want pending", store.steps[req.ID][0].Status)
	}
}

// ── info exchange ───────────────────────────────────────────────────────────

func TestInfoExchangePausesAndResumes(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	comment, err := svc.RequestMoreInfo(ctx, req.ID, "approver-a", "Need budget code")
	if err != nil {
		t.Fatalf("RequestMoreInfo: %v", err)
	}
	if comment.CommentType != repository.CommentTypeInfoRequest {
		t.Fatalf("comment type = %s, want info_request", comment.CommentType)
	}

	paused := store.requests[req.ID]
	if paused.Status != repository.StatusNeedInfo {
		t.Fatalf("status = %s, want need_info", paused.Status)
	}
	if *paused.CurrentApprovalStep != 1 {
		t.Fatalf("currentApprovalStep = %d, want 1 while paused", *paused.CurrentApprovalStep)
	}

	// Approvals are blocked while paused.
	_, err = svc.Approve(ctx, req.ID, "approver-a", nil)
	wantMessage(t, err, "Request is not pending approval")

	// Only the requester may answer.
	_, err = svc.ProvideInfo(ctx, req.ID, comment.ID, "Code: 4521", "approver-a")
	wantMessage(t, err, "Only the requester can provide information")

	reply, err := svc.ProvideInfo(ctx, req.ID, comment.ID, "Code: 4521", "user-1")
	if err != nil {
		t.Fatalf("ProvideInfo: %v", err)
	}
	if reply.CommentType != repository.CommentTypeInfoResponse {
		t.Fatalf("reply type = %s, want info_response", reply.CommentType)
	}
	if reply.ParentCommentID == nil || *reply.ParentCommentID != comment.ID {
		t.Fatal("reply not linked to the info request")
	}

	resumed := store.requests[req.ID]
	if resumed.Status != repository.StatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval after resume", resumed.Status)
	}
	if *resumed.CurrentApprovalStep != 1 {
		t.Fatalf("currentApprovalStep = %d, want the same step 1 after resume", *resumed.CurrentApprovalStep)
	}

	// The original approver must still act.
	if _, err := svc.Approve(ctx, req.ID, "approver-a", nil); err != nil {
		t.Fatalf("approve after resume: %v", err)
	}
}

func TestProvideInfoRequiresInfoRequestComment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	plain, err := svc.AddComment(ctx, req.ID, "user-1", "Looking forward to this")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if _, err := svc.RequestMoreInfo(ctx, req.ID, "approver-a", "Need budget code"); err != nil {
		t.Fatalf("RequestMoreInfo: %v", err)
	}

	_, err = svc.ProvideInfo(ctx, req.ID, plain.ID, "Code: 4521", "user-1")
	if err == nil {
		t.Fatal("expected error for non info_request comment")
	}
	if errors.Code(err) != errors.ErrCodeInvalidInput {
		t.Fatalf("error code = %s, want %s", errors.Code(err), errors.ErrCodeInvalidInput)
	}
}

func TestProvideInfoDefaultsToLatestOpenQuestion(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	question, err := svc.RequestMoreInfo(ctx, req.ID, "approver-a", "Need budget code")
	if err != nil {
		t.Fatalf("RequestMoreInfo: %v", err)
	}

	// Empty comment id answers the open question.
	reply, err := svc.ProvideInfo(ctx, req.ID, "", "Code: 4521", "user-1")
	if err != nil {
		t.Fatalf("ProvideInfo: %v", err)
	}
	if reply.ParentCommentID == nil || *reply.ParentCommentID != question.ID {
		t.Fatal("reply not linked to the open info request")
	}
	if store.requests[req.ID].Status != repository.StatusPendingApproval {
		t.Fatalf("status = %s, want pending_approval", store.requests[req.ID].Status)
	}

	// Once answered there is nothing left to respond to.
	if _, err := svc.RequestMoreInfo(ctx, req.ID, "approver-a", "And the cost center?"); err != nil {
		t.Fatalf("RequestMoreInfo: %v", err)
	}
	if _, err := svc.ProvideInfo(ctx, req.ID, "", "CC-9", "user-1"); err != nil {
		t.Fatalf("ProvideInfo second round: %v", err)
	}
	_, err = svc.ProvideInfo(ctx, req.ID, "", "again", "user-1")
	wantMessage(t, err, "Request is not awaiting information")
}

// ── cancellation ────────────────────────────────────────────────────────────

func TestCancelRules(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// Draft cancels fine.
	draft := createDraft(t, svc, "user-1")
	cancelled, err := svc.Cancel(ctx, draft.ID, "user-1", nil)
	if err != nil {
		t.Fatalf("cancel draft: %v", err)
	}
	if cancelled.Status != repository.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}

	// Pending with zero approvals cancels fine.
	pending := createDraft(t, svc, "user-1")
	submitRequest(t, svc, pending.ID, "user-1")
	if _, err := svc.Cancel(ctx, pending.ID, "user-1", nil); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}

	// Only the requester may cancel.
	other := createDraft(t, svc, "user-1")
	_, err = svc.Cancel(ctx, other.ID, "user-2", nil)
	wantMessage(t, err, "Only the requester can cancel their request")

	// Any approved step blocks cancellation.
	progressed := createDraft(t, svc, "user-1")
	submitRequest(t, svc, progressed.ID, "user-1")
	if _, err := svc.Approve(ctx, progressed.ID, "approver-a", nil); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	_, err = svc.Cancel(ctx, progressed.ID, "user-1", nil)
	wantMessage(t, err, "Cannot cancel request that has already received approvals")
	if store.requests[progressed.ID].Status != repository.StatusPendingApproval {
		t.Fatal("failed cancel mutated request status")
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	if _, err := svc.Cancel(ctx, req.ID, "user-1", nil); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, err := svc.Submit(ctx, req.ID, "user-1")
	wantMessage(t, err, "Can only submit requests in draft status")

	_, err = svc.Cancel(ctx, req.ID, "user-1", nil)
	wantMessage(t, err, "Cannot cancel request with status 'cancelled'")
}

// ── draft editing ───────────────────────────────────────────────────────────

func TestUpdateOnlyInDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")

	quantity := 3
	updated, err := svc.Update(ctx, req.ID, repository.UpdateRequestParams{Quantity: &quantity}, "user-1")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Quantity != 3 {
		t.Fatalf("quantity = %d, want 3", updated.Quantity)
	}

	submitRequest(t, svc, req.ID, "user-1")
	_, err = svc.Update(ctx, req.ID, repository.UpdateRequestParams{Quantity: &quantity}, "user-1")
	wantMessage(t, err, "Can only update requests in draft status")

	err = svc.Delete(ctx, req.ID)
	wantMessage(t, err, "Can only delete requests in draft status")
}

// ── fulfillment ─────────────────────────────────────────────────────────────

func approveFully(t *testing.T, svc *RequestService, id string) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.Approve(ctx, id, "approver-a", nil); err != nil {
		t.Fatalf("Approve step 1: %v", err)
	}
	if _, err := svc.Approve(ctx, id, "approver-b", nil); err != nil {
		t.Fatalf("Approve step 2: %v", err)
	}
}

func TestFulfillQuantityMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")
	approveFully(t, svc, req.ID)

	_, err := svc.Fulfill(ctx, req.ID, []string{"asset-1", "asset-2"}, "it-staff", nil)
	wantMessage(t, err, "Expected 1 asset(s), but 2 provided")

	_, err = svc.Fulfill(ctx, req.ID, nil, "it-staff", nil)
	wantMessage(t, err, "Expected 1 asset(s), but 0 provided")
}

func TestFulfillmentLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")

	// Not approved yet.
	_, err := svc.StartFulfillment(ctx, req.ID, "it-staff")
	wantMessage(t, err, "Cannot start fulfillment for request with status 'draft'")

	submitRequest(t, svc, req.ID, "user-1")
	approveFully(t, svc, req.ID)

	started, err := svc.StartFulfillment(ctx, req.ID, "it-staff")
	if err != nil {
		t.Fatalf("StartFulfillment: %v", err)
	}
	if started.Status != repository.StatusFulfilling {
		t.Fatalf("status = %s, want fulfilling", started.Status)
	}

	result, err := svc.Fulfill(ctx, req.ID, []string{"asset-9"}, "it-staff", nil)
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if result.Request.Status != repository.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Request.Status)
	}
	if len(result.Request.FulfilledAssetIDs) != 1 || result.Request.FulfilledAssetIDs[0] != "asset-9" {
		t.Fatalf("fulfilledAssetIds = %v, want [asset-9]", result.Request.FulfilledAssetIDs)
	}
	if len(result.CheckoutIDs) != 0 {
		t.Fatalf("checkoutIds = %v, want empty", result.CheckoutIDs)
	}
	if store.requests[req.ID].CurrentApprovalStep != nil {
		t.Fatal("currentApprovalStep not cleared on completion")
	}
}

func TestFulfillDirectlyFromApproved(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")
	approveFully(t, svc, req.ID)

	result, err := svc.Fulfill(context.Background(), req.ID, []string{"asset-1"}, "it-staff", nil)
	if err != nil {
		t.Fatalf("Fulfill from approved: %v", err)
	}
	if result.Request.Status != repository.StatusCompleted {
		t.Fatalf("status = %s, want completed", result.Request.Status)
	}
}

// ── escalation ──────────────────────────────────────────────────────────────

func TestEscalation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	req := createDraft(t, svc, "user-1")
	submitRequest(t, svc, req.ID, "user-1")

	steps := store.steps[req.ID]

	escalated, err := svc.Escalate(ctx, steps[0].ID, "approver-c", "On leave this week", "admin-1")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if escalated.ApproverID != "approver-c" {
		t.Fatalf("approverId = %s, want approver-c", escalated.ApproverID)
	}
	if escalated.EscalatedFrom == nil || *escalated.EscalatedFrom != "approver-a" {
		t.Fatal("escalatedFrom not recorded")
	}
	if !escalated.IsEscalated {
		t.Fatal("isEscalated not set")
	}

	// The original approver lost the step; the new one holds it.
	_, err = svc.Approve(ctx, req.ID, "approver-a", nil)
	wantMessage(t, err, "You are not the current approver for this request")
	if _, err := svc.Approve(ctx, req.ID, "approver-c", nil); err != nil {
		t.Fatalf("approve by escalated approver: %v", err)
	}

	// A future, not yet active step can be reassigned too.
	if _, err := svc.Escalate(ctx, steps[1].ID, "approver-d", "Reorg", "admin-1"); err != nil {
		t.Fatalf("escalate future step: %v", err)
	}

	// Decided steps cannot.
	_, err = svc.Escalate(ctx, steps[0].ID, "approver-e", "Too late", "admin-1")
	wantMessage(t, err, "Can only escalate pending steps")
}
