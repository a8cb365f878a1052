package repository

import "time"

// ── Status and enum values ───────────────────────────────────────────────────

// Asset request lifecycle statuses.
const (
	StatusDraft           = "draft"
	StatusPendingApproval = "pending_approval"
	StatusNeedInfo        = "need_info"
	StatusApproved        = "approved"
	StatusRejected        = "rejected"
	StatusCancelled       = "cancelled"
	StatusFulfilling      = "fulfilling"
	StatusCompleted       = "completed"
)

// Approval step statuses. At most one step per request is pending at a time;
// steps behind the current position are waiting until the chain reaches them.
const (
	StepStatusWaiting  = "waiting"
	StepStatusPending  = "pending"
	StepStatusApproved = "approved"
	StepStatusRejected = "rejected"
	StepStatusSkipped  = "skipped"
)

// Request types.
const (
	RequestTypeNew         = "new"
	RequestTypeReplacement = "replacement"
	RequestTypeTransfer    = "transfer"
)

// Request priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Comment types.
const (
	CommentTypeComment      = "comment"
	CommentTypeInfoRequest  = "info_request"
	CommentTypeInfoResponse = "info_response"
)

// Audit actions.
const (
	AuditCreated               = "created"
	AuditUpdated               = "updated"
	AuditSubmitted             = "submitted"
	AuditApprovalStepCompleted = "approval_step_completed"
	AuditApproved              = "approved"
	AuditRejected              = "rejected"
	AuditInfoRequested         = "info_requested"
	AuditInfoProvided          = "info_provided"
	AuditCancelled             = "cancelled"
	AuditFulfilling            = "fulfilling"
	AuditCompleted             = "completed"
	AuditEscalated             = "escalated"
)

// ── Domain types ─────────────────────────────────────────────────────────────

// ChainStepDef is one entry in a template's steps JSONB array, and the unit
// of the approval chain snapshot frozen onto a request at submission.
type ChainStepDef struct {
	Order      int    `json:"order"`
	Role       string `json:"role,omitempty"`
	ApproverID string `json:"approverId"`
}

// AssetRequest is a single request for one or more assets.
type AssetRequest struct {
	ID                  string
	RequestCode         string
	RequestType         string // new | replacement | transfer
	RequesterID         string
	DepartmentID        *string
	AssetCategoryID     *string
	AssetModelID        *string
	Quantity            int
	CurrentAssetID      *string // required for replacement requests
	Justification       string
	Priority            string // low | normal | high | urgent
	RequiredDate        *string
	Status              string
	ApprovalChain       []ChainStepDef // frozen template snapshot, set at submission
	TotalApprovalSteps  int
	CurrentApprovalStep *int // 1-based; nil while no step is actionable
	SubmittedAt         *time.Time
	RejectedBy          *string
	RejectedAt          *time.Time
	RejectReason        *string
	CancelledBy         *string
	CancelledAt         *time.Time
	CancelReason        *string
	FulfilledBy         *string
	FulfilledAt         *time.Time
	FulfilledAssetIDs   []string
	OrganizationID      *string
	CreatedBy           *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ApprovalStep is one position in a request's materialized chain.
type ApprovalStep struct {
	ID                 string
	RequestID          string
	StepOrder          int // 1-based, contiguous per request
	ApproverID         string
	ApproverRole       *string
	Status             string // waiting | pending | approved | rejected | skipped
	Comments           *string
	DecidedAt          *time.Time
	IsEscalated        bool
	EscalatedFrom      *string
	EscalatedAt        *time.Time
	EscalationReason   *string
	ReminderSentCount  int
	LastReminderSentAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ApprovalChainTemplate is a reusable rule mapping request attributes to an
// ordered list of approver assignments. Looked up at submission, never
// mutated by the workflow engine.
type ApprovalChainTemplate struct {
	ID              string
	Name            string
	Description     *string
	AssetCategoryID *string
	MinValue        *int64 // cents; nil = no lower bound
	MaxValue        *int64 // cents; nil = no upper bound
	DepartmentID    *string
	RequestType     *string
	Priority        int // higher wins on specificity ties
	Steps           []ChainStepDef
	IsActive        bool
	OrganizationID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CreatedBy       *string
}

// RequestComment is a free-text note on a request. info_request comments are
// created by the current approver and paired with an info_response from the
// requester via ParentCommentID.
type RequestComment struct {
	ID              string
	RequestID       string
	CommentType     string // comment | info_request | info_response
	Content         string
	AuthorID        string
	ApprovalStepID  *string
	ParentCommentID *string
	CreatedAt       time.Time
}

// RequestAuditLog is one immutable record of a state-changing action.
type RequestAuditLog struct {
	ID          string
	RequestID   string
	Action      string
	PerformedBy string
	OldStatus   *string
	NewStatus   *string
	Detail      map[string]interface{}
	CreatedAt   time.Time
}

// ── Query and update parameter types ─────────────────────────────────────────

// StatusUpdate carries the optional column writes applied alongside a status
// transition. Nil fields are left untouched.
type StatusUpdate struct {
	SubmittedAt         *time.Time
	ApprovalChain       []ChainStepDef
	TotalApprovalSteps  *int
	CurrentApprovalStep *int
	ClearCurrentStep    bool
	RejectedBy          *string
	RejectedAt          *time.Time
	RejectReason        *string
	CancelledBy         *string
	CancelledAt         *time.Time
	CancelReason        *string
	FulfilledBy         *string
	FulfilledAt         *time.Time
	FulfilledAssetIDs   []string
}

// UpdateRequestParams carries the draft-only editable fields.
type UpdateRequestParams struct {
	AssetCategoryID *string
	AssetModelID    *string
	Quantity        *int
	Justification   *string
	Priority        *string
	RequiredDate    *string
}

// RequestListQuery filters and paginates request listings.
type RequestListQuery struct {
	Status          []string
	RequestType     []string
	Priority        []string
	RequesterID     *string
	DepartmentID    *string
	AssetCategoryID *string
	OrganizationID  *string
	Search          *string
	Page            int
	Limit           int
	SortBy          string // created_at | submitted_at | required_date | priority | status
	SortOrder       string // asc | desc
}

// RequestStatistics aggregates request counts for reporting.
type RequestStatistics struct {
	TotalRequests     int64            `json:"totalRequests"`
	ByStatus          map[string]int64 `json:"byStatus"`
	ByPriority        map[string]int64 `json:"byPriority"`
	ByType            map[string]int64 `json:"byType"`
	AvgCompletionDays *float64         `json:"avgCompletionDays"`
	PendingApprovals  int64            `json:"pendingApprovals"`
	OverdueApprovals  int64            `json:"overdueApprovals"`
}
