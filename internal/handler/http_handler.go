package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-asset-requests/internal/errors"
	"github.com/pesio-ai/be-asset-requests/internal/logger"
	"github.com/pesio-ai/be-asset-requests/internal/repository"
	"github.com/pesio-ai/be-asset-requests/internal/service"
)

// HTTPHandler handles HTTP requests. Every response is an envelope:
// {"success":true,"data":...} or {"success":false,"error":"..."}, with the
// status code derived from the error code.
type HTTPHandler struct {
	requests  *service.RequestService
	templates *service.TemplateService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(requests *service.RequestService, templates *service.TemplateService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		requests:  requests,
		templates: templates,
		log:       log,
	}
}

// ── Request bodies ───────────────────────────────────────────────────────────

type createRequestBody struct {
	RequestType     string  `json:"requestType"`
	RequesterID     string  `json:"requesterId"`
	DepartmentID    *string `json:"departmentId"`
	AssetCategoryID *string `json:"assetCategoryId"`
	AssetModelID    *string `json:"assetModelId"`
	Quantity        int     `json:"quantity"`
	CurrentAssetID  *string `json:"currentAssetId"`
	Justification   string  `json:"justification"`
	Priority        string  `json:"priority"`
	RequiredDate    *string `json:"requiredDate"`
	OrganizationID  *string `json:"organizationId"`
}

type updateRequestBody struct {
	ID              string  `json:"id"`
	UpdatedBy       string  `json:"updatedBy"`
	AssetCategoryID *string `json:"assetCategoryId"`
	AssetModelID    *string `json:"assetModelId"`
	Quantity        *int    `json:"quantity"`
	Justification   *string `json:"justification"`
	Priority        *string `json:"priority"`
	RequiredDate    *string `json:"requiredDate"`
}

type decisionBody struct {
	ID         string  `json:"id"`
	ApproverID string  `json:"approverId"`
	Comments   *string `json:"comments"`
	Reason     string  `json:"reason"`
}

type infoRequestBody struct {
	ID         string `json:"id"`
	ApproverID string `json:"approverId"`
	Question   string `json:"question"`
}

type infoResponseBody struct {
	ID          string `json:"id"`
	CommentID   string `json:"commentId"`
	Response    string `json:"response"`
	RespondedBy string `json:"respondedBy"`
}

type cancelBody struct {
	ID          string  `json:"id"`
	CancelledBy string  `json:"cancelledBy"`
	Reason      *string `json:"reason"`
}

type fulfillBody struct {
	ID          string   `json:"id"`
	AssetIDs    []string `json:"assetIds"`
	FulfilledBy string   `json:"fulfilledBy"`
	StartedBy   string   `json:"startedBy"`
	Notes       *string  `json:"notes"`
}

type escalateBody struct {
	StepID        string `json:"stepId"`
	NewApproverID string `json:"newApproverId"`
	Reason        string `json:"reason"`
	EscalatedBy   string `json:"escalatedBy"`
}

type commentBody struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	Content  string `json:"content"`
}

type templateBody struct {
	Name            string                    `json:"name"`
	Description     *string                   `json:"description"`
	AssetCategoryID *string                   `json:"assetCategoryId"`
	MinValue        *int64                    `json:"minValue"`
	MaxValue        *int64                    `json:"maxValue"`
	DepartmentID    *string                   `json:"departmentId"`
	RequestType     *string                   `json:"requestType"`
	Priority        int                       `json:"priority"`
	Steps           []repository.ChainStepDef `json:"steps"`
	IsActive        *bool                     `json:"isActive"`
	OrganizationID  *string                   `json:"organizationId"`
	CreatedBy       *string                   `json:"createdBy"`
}

// ── Request workflow endpoints ───────────────────────────────────────────────

// Requests dispatches the collection endpoint: POST creates, GET lists.
func (h *HTTPHandler) Requests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createRequest(w, r)
	case http.MethodGet:
		h.listRequests(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	result, err := h.requests.Create(r.Context(), &service.CreateRequestInput{
		RequestType:     body.RequestType,
		RequesterID:     body.RequesterID,
		DepartmentID:    body.DepartmentID,
		AssetCategoryID: body.AssetCategoryID,
		AssetModelID:    body.AssetModelID,
		Quantity:        body.Quantity,
		CurrentAssetID:  body.CurrentAssetID,
		Justification:   body.Justification,
		Priority:        body.Priority,
		RequiredDate:    body.RequiredDate,
		OrganizationID:  body.OrganizationID,
		CreatedBy:       &body.RequesterID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"request":  result.Request,
		"warnings": result.Warnings,
	})
}

func (h *HTTPHandler) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := repository.RequestListQuery{
		Status:          splitParam(q.Get("status")),
		RequestType:     splitParam(q.Get("request_type")),
		Priority:        splitParam(q.Get("priority")),
		RequesterID:     optParam(q.Get("requester_id")),
		DepartmentID:    optParam(q.Get("department_id")),
		AssetCategoryID: optParam(q.Get("asset_category_id")),
		OrganizationID:  optParam(q.Get("organization_id")),
		Search:          optParam(q.Get("search")),
		SortBy:          q.Get("sort_by"),
		SortOrder:       q.Get("sort_order"),
	}

	query.Page, _ = strconv.Atoi(q.Get("page"))
	if query.Page < 1 {
		query.Page = 1
	}
	query.Limit, _ = strconv.Atoi(q.Get("limit"))
	if query.Limit < 1 || query.Limit > 100 {
		query.Limit = 50
	}

	requests, total, err := h.requests.ListRequests(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    total,
		"page":     query.Page,
		"limit":    query.Limit,
	})
}

// GetRequest handles get request HTTP requests, by id or code.
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var (
		req *repository.AssetRequest
		err error
	)
	if id := r.URL.Query().Get("id"); id != "" {
		req, err = h.requests.GetRequest(r.Context(), id)
	} else if code := r.URL.Query().Get("code"); code != "" {
		req, err = h.requests.GetRequestByCode(r.Context(), code)
	} else {
		writeError(w, errors.InvalidInput("id", "Request ID or code is required"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"request": req})
}

// GetRequestDetail returns a request with its steps, comments and audit trail.
func (h *HTTPHandler) GetRequestDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "Request ID is required"))
		return
	}

	detail, err := h.requests.GetRequestDetail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"request":    detail.Request,
		"steps":      detail.Steps,
		"comments":   detail.Comments,
		"auditTrail": detail.AuditTrail,
	})
}

// UpdateRequest edits a draft request.
func (h *HTTPHandler) UpdateRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body updateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	req, err := h.requests.Update(r.Context(), body.ID, repository.UpdateRequestParams{
		AssetCategoryID: body.AssetCategoryID,
		AssetModelID:    body.AssetModelID,
		Quantity:        body.Quantity,
		Justification:   body.Justification,
		Priority:        body.Priority,
		RequiredDate:    body.RequiredDate,
	}, body.UpdatedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"request": req})
}

// DeleteRequest removes a draft request.
func (h *HTTPHandler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "Request ID is required"))
		return
	}

	if err := h.requests.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// SubmitRequest moves a draft request into the approval flow.
func (h *HTTPHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		ID          string `json:"id"`
		SubmittedBy string `json:"submittedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	req, err := h.requests.Submit(r.Context(), body.ID, body.SubmittedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"request": req})
}

// ApproveRequest records the current approver's approval.
func (h *HTTPHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	result, err := h.requests.Approve(r.Context(), body.ID, body.ApproverID, body.Comments)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"request":         result.Request,
		"step":            result.Step,
		"isFullyApproved": result.IsFullyApproved,
		"nextStep":        result.NextStep,
	})
}

// RejectRequest records a rejection, which is always terminal.
func (h *HTTPHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}
	if body.Reason == "" {
		writeError(w, errors.InvalidInput("reason", "Rejection reason is required"))
		return
	}

	req, err := h.requests.Reject(r.Context(), body.ID, body.ApproverID, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"request": req})
}

// RequestInfo pauses the approval flow with a question to the requester.
func (h *HTTPHandler) RequestInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body infoRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	comment, err := h.requests.RequestMoreInfo(r.Context(), body.ID, body.ApproverID, body.Question)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"comment": comment})
}

// ProvideInfo resumes a paused approval flow with the requester's answer.
func (h *HTTPHandler) ProvideInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body infoResponseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	comment, err := h.requests.ProvideInfo(r.Context(), body.ID, body.CommentID, body.Response, body.RespondedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"comment": comment})
}

// CancelRequest terminates a request before approval completes.
func (h *HTTPHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body cancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	req, err := h.requests.Cancel(r.Context(), body.ID, body.CancelledBy, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"request": req})
}

// StartFulfillment marks an approved request as being worked on.
func (h *HTTPHandler) StartFulfillment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body fulfillBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	req, err := h.requests.StartFulfillment(r.Context(), body.ID, body.StartedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"request": req})
}

// FulfillRequest completes a request with the delivered asset IDs.
func (h *HTTPHandler) FulfillRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body fulfillBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	result, err := h.requests.Fulfill(r.Context(), body.ID, body.AssetIDs, body.FulfilledBy, body.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"request":     result.Request,
		"checkoutIds": result.CheckoutIDs,
	})
}

// EscalateStep reassigns an undecided approval step to a new approver.
func (h *HTTPHandler) EscalateStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body escalateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	step, err := h.requests.Escalate(r.Context(), body.StepID, body.NewApproverID, body.Reason, body.EscalatedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"step": step})
}

// ── Queues and listings ──────────────────────────────────────────────────────

// MyRequests lists the caller's own requests.
func (h *HTTPHandler) MyRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requesterID := r.URL.Query().Get("requester_id")
	if requesterID == "" {
		writeError(w, errors.InvalidInput("requester_id", "Requester ID is required"))
		return
	}

	requests, err := h.requests.MyRequests(r.Context(), requesterID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

// ApprovalQueue lists requests waiting on the given approver.
func (h *HTTPHandler) ApprovalQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		writeError(w, errors.InvalidInput("approver_id", "Approver ID is required"))
		return
	}

	requests, err := h.requests.ApprovalQueue(r.Context(), approverID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

// FulfillmentQueue lists approved and in-fulfillment requests.
func (h *HTTPHandler) FulfillmentQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requests, err := h.requests.FulfillmentQueue(r.Context(), optParam(r.URL.Query().Get("organization_id")))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

// Comments dispatches the comments endpoint: POST adds, GET lists.
func (h *HTTPHandler) Comments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body commentBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errors.InvalidInput("body", "Invalid request body"))
			return
		}
		comment, err := h.requests.AddComment(r.Context(), body.ID, body.AuthorID, body.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, map[string]interface{}{"comment": comment})

	case http.MethodGet:
		id := r.URL.Query().Get("id")
		if id == "" {
			writeError(w, errors.InvalidInput("id", "Request ID is required"))
			return
		}
		comments, err := h.requests.ListComments(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]interface{}{"comments": comments})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// AuditTrail lists a request's audit entries.
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "Request ID is required"))
		return
	}

	entries, err := h.requests.ListAuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"auditTrail": entries})
}

// Statistics aggregates request counts for dashboards.
func (h *HTTPHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.requests.Statistics(r.Context(), optParam(r.URL.Query().Get("organization_id")))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"statistics": stats})
}

// ── Template admin endpoints ─────────────────────────────────────────────────

// Templates dispatches the template collection endpoint.
func (h *HTTPHandler) Templates(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body templateBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errors.InvalidInput("body", "Invalid request body"))
			return
		}

		isActive := true
		if body.IsActive != nil {
			isActive = *body.IsActive
		}
		tpl, err := h.templates.CreateTemplate(r.Context(), &repository.ApprovalChainTemplate{
			Name:            body.Name,
			Description:     body.Description,
			AssetCategoryID: body.AssetCategoryID,
			MinValue:        body.MinValue,
			MaxValue:        body.MaxValue,
			DepartmentID:    body.DepartmentID,
			RequestType:     body.RequestType,
			Priority:        body.Priority,
			Steps:           body.Steps,
			IsActive:        isActive,
			OrganizationID:  body.OrganizationID,
			CreatedBy:       body.CreatedBy,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, map[string]interface{}{"template": tpl})

	case http.MethodGet:
		templates, err := h.templates.ListActiveTemplates(r.Context(), optParam(r.URL.Query().Get("organization_id")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, map[string]interface{}{"templates": templates})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// GetTemplate retrieves a single template.
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "Template ID is required"))
		return
	}

	tpl, err := h.templates.GetTemplate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"template": tpl})
}

// UpdateTemplate applies a partial template update.
func (h *HTTPHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "Template ID is required"))
		return
	}

	var body struct {
		Name            *string                   `json:"name"`
		Description     *string                   `json:"description"`
		AssetCategoryID *string                   `json:"assetCategoryId"`
		MinValue        *int64                    `json:"minValue"`
		MaxValue        *int64                    `json:"maxValue"`
		DepartmentID    *string                   `json:"departmentId"`
		RequestType     *string                   `json:"requestType"`
		Priority        *int                      `json:"priority"`
		Steps           []repository.ChainStepDef `json:"steps"`
		IsActive        *bool                     `json:"isActive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidInput("body", "Invalid request body"))
		return
	}

	tpl, err := h.templates.UpdateTemplate(r.Context(), id, repository.UpdateTemplateParams{
		Name:            body.Name,
		Description:     body.Description,
		AssetCategoryID: body.AssetCategoryID,
		MinValue:        body.MinValue,
		MaxValue:        body.MaxValue,
		DepartmentID:    body.DepartmentID,
		RequestType:     body.RequestType,
		Priority:        body.Priority,
		Steps:           body.Steps,
		IsActive:        body.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"template": tpl})
}

// DeleteTemplate removes a template.
func (h *HTTPHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, errors.InvalidInput("id", "Template ID is required"))
		return
	}

	if err := h.templates.DeleteTemplate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{"deleted": true})
}

// ── Response envelope ────────────────────────────────────────────────────────

func writeSuccess(w http.ResponseWriter, status int, data map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range data {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errors.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errors.Message(err),
	})
}

func splitParam(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func optParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
