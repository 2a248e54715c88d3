package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"id":"abc"}` {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRespondJSON_EncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusOK, map[string]interface{}{"ch": make(chan int)})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestRespondErrorWithExtras(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondErrorWithExtras(rec, http.StatusConflict, "session is still running", map[string]interface{}{
		"resource_id": "s-1",
		"status":      "ignored",
	})

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var problem map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if problem["status"] != float64(http.StatusConflict) {
		t.Errorf("status member = %v, extras must not override it", problem["status"])
	}
	if problem["title"] != "Conflict" || problem["detail"] != "session is still running" {
		t.Errorf("unexpected problem: %v", problem)
	}
	if problem["resource_id"] != "s-1" {
		t.Errorf("extension member missing: %v", problem)
	}
	if !strings.HasPrefix(problem["type"].(string), "https://") {
		t.Errorf("type = %v", problem["type"])
	}
}

func TestParseJSON(t *testing.T) {
	var dest struct {
		Model string `json:"model"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"model":"lorem-1","extra":true}`))
	if err := ParseJSON(httptest.NewRecorder(), req, &dest); err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if dest.Model != "lorem-1" {
		t.Errorf("Model = %q", dest.Model)
	}

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	if err := ParseJSON(httptest.NewRecorder(), bad, &dest); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
