package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/path", bytes.NewBufferString("{}"))
	if req.Method != http.MethodPost {
		t.Fatalf("method = %s, want POST", req.Method)
	}
	if req.URL.Path != "/path" {
		t.Fatalf("path = %s, want /path", req.URL.Path)
	}
}

func TestNewTestRequestWithJSON(t *testing.T) {
	req := NewTestRequestWithJSON(t, http.MethodPost, "/path", map[string]string{"ok": "yes"})
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want application/json", ct)
	}
}

func TestParseJSONResponse(t *testing.T) {
	got := ParseJSONResponse(t, []byte(`{"ok":true,"count":2}`))
	if got["ok"] != true {
		t.Fatalf("ok = %v, want true", got["ok"])
	}
	if got["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", got["count"])
	}
}

func TestAssertStatusCode(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteHeader(http.StatusCreated)
	AssertStatusCode(t, rr, http.StatusCreated)
}

func TestAssertJSONContains(t *testing.T) {
	AssertJSONContains(t, []byte(`{"ok":"yes"}`), "ok", "yes")
}

func TestRandomHelpers(t *testing.T) {
	if RandomUUID() == uuid.Nil {
		t.Fatal("expected a non-nil uuid")
	}
	email := RandomEmail()
	if !strings.Contains(email, "@") {
		t.Fatalf("expected an email address, got %q", email)
	}
	if email == RandomEmail() {
		t.Fatal("expected random emails to differ")
	}
}
