package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docforge/docforge/pkg/middleware"
)

func corsHandler(cfg *middleware.CORSConfig) (http.Handler, *bool) {
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	return middleware.CORS(cfg)(next), &reached
}

func enabledConfig(t *testing.T) *middleware.CORSConfig {
	t.Helper()
	cfg := &middleware.CORSConfig{
		Enabled: true,
		Origins: []string{"https://app.example.com"},
	}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	return cfg
}

func TestCORSAllowedOrigin(t *testing.T) {
	handler, _ := corsHandler(enabledConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
	if headers := rec.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(headers, "X-Reviewer") {
		t.Errorf("Allow-Headers = %q, want X-Reviewer included", headers)
	}
}

func TestCORSUnknownOrigin(t *testing.T) {
	handler, reached := corsHandler(enabledConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want unset", got)
	}
	if !*reached {
		t.Error("non-preflight request should still reach the handler")
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	handler, reached := corsHandler(enabledConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/pipeline/abc/approve", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if *reached {
		t.Error("preflight must not reach the handler")
	}
}

func TestCORSDisabledPassesThrough(t *testing.T) {
	cfg := &middleware.CORSConfig{Enabled: false}
	handler, reached := corsHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !*reached {
		t.Error("disabled CORS should pass through")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want unset", got)
	}
	if got := rec.Header().Get("Vary"); got != "" {
		t.Errorf("Vary = %q, want unset when disabled", got)
	}
}
