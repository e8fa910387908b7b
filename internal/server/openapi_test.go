package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleOpenAPI(t *testing.T) {
	h := handleOpenAPI()
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()

	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("content-type = %q, want application/json", got)
	}

	var spec struct {
		Openapi string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&spec); err != nil {
		t.Fatalf("decoding spec: %v", err)
	}
	if !strings.HasPrefix(spec.Openapi, "3.") {
		t.Fatalf("openapi version = %q", spec.Openapi)
	}
	if _, ok := spec.Paths["/healthz"]; !ok {
		t.Fatalf("body missing /healthz path")
	}
	for _, op := range operations {
		if _, ok := spec.Paths[op.path]; !ok {
			t.Errorf("body missing %s path", op.path)
		}
	}
}

func TestDocsMounted(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/docs/", 0, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/html") {
		t.Fatalf("content-type = %q, want text/html", got)
	}
}
