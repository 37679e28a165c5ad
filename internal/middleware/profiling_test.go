package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func profilingHandler(cfg ProfilingConfig) http.Handler {
	return Profiling(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("app"))
	}))
}

func TestProfiling_DisabledPassesThrough(t *testing.T) {
	handler := profilingHandler(ProfilingConfig{Enabled: false, Environment: "development"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))

	if rec.Body.String() != "app" {
		t.Errorf("expected pprof request to fall through when disabled, got %q", rec.Body.String())
	}
}

func TestProfiling_ServesIndex(t *testing.T) {
	handler := profilingHandler(ProfilingConfig{Enabled: true, Environment: "development"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "goroutine") {
		t.Error("expected pprof index page listing profiles")
	}
}

func TestProfiling_ServesNamedProfile(t *testing.T) {
	handler := profilingHandler(ProfilingConfig{Enabled: true, Environment: "development"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/heap", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 for heap profile, got %d", rec.Code)
	}
}

func TestProfiling_RefusesProduction(t *testing.T) {
	handler := profilingHandler(ProfilingConfig{Enabled: true, Environment: "production"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))

	if rec.Body.String() != "app" {
		t.Error("expected pprof to stay disabled in production even when Enabled is set")
	}
}

func TestProfiling_NonProfilingRoutesUntouched(t *testing.T) {
	handler := profilingHandler(ProfilingConfig{Enabled: true, Environment: "development"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/discover", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "app" {
		t.Errorf("expected app handler to serve /discover, got %d %q", rec.Code, rec.Body.String())
	}
}
