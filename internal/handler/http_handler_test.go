package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pesio-ai/be-asset-requests/internal/errors"
)

func TestWriteSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeSuccess(rec, http.StatusCreated, map[string]interface{}{"id": "req-1"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("success = %v, want true", body["success"])
	}
	if body["id"] != "req-1" {
		t.Fatalf("id = %v, want req-1", body["id"])
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantError  string
	}{
		{errors.New(errors.ErrCodeUnauthorized, "Cannot approve your own request"), http.StatusForbidden, "Cannot approve your own request"},
		{errors.New(errors.ErrCodeConflict, "Request is not pending approval"), http.StatusConflict, "Request is not pending approval"},
		{errors.NotFound("asset_request", "req-9"), http.StatusNotFound, "asset_request not found: req-9"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, tt.err)

		if rec.Code != tt.wantStatus {
			t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
		}
		var body map[string]interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if body["success"] != false {
			t.Fatalf("success = %v, want false", body["success"])
		}
		if body["error"] != tt.wantError {
			t.Fatalf("error = %v, want %q", body["error"], tt.wantError)
		}
	}
}

func TestSplitParam(t *testing.T) {
	if got := splitParam(""); got != nil {
		t.Fatalf("splitParam(\"\") = %v, want nil", got)
	}
	got := splitParam("draft, pending_approval ,,need_info")
	want := []string{"draft", "pending_approval", "need_info"}
	if len(got) != len(want) {
		t.Fatalf("splitParam = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitParam = %v, want %v", got, want)
		}
	}
}
