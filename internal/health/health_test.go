package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type staticChecker struct {
	check Check
}

func (c staticChecker) Check() Check { return c.check }

func doRequest(handler http.HandlerFunc, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandlerServeHTTP(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Status
		wantCode   int
		wantStatus Status
	}{
		{
			name:       "all healthy",
			checks:     map[string]Status{"storage": StatusHealthy, "broker": StatusHealthy},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "degraded keeps 200",
			checks:     map[string]Status{"storage": StatusHealthy, "broker": StatusDegraded},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name:       "unhealthy wins over degraded",
			checks:     map[string]Status{"storage": StatusUnhealthy, "broker": StatusDegraded},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler("v1.2.3")
			for name, status := range tc.checks {
				handler.RegisterChecker(name, staticChecker{check: Check{Name: name, Status: status}})
			}

			w := doRequest(handler.ServeHTTP, "/healthz")
			if w.Code != tc.wantCode {
				t.Fatalf("status code %d, want %d", w.Code, tc.wantCode)
			}

			var resp Response
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tc.wantStatus {
				t.Errorf("overall status %s, want %s", resp.Status, tc.wantStatus)
			}
			if resp.Version != "v1.2.3" {
				t.Errorf("version %s, want v1.2.3", resp.Version)
			}
			if len(resp.Checks) != len(tc.checks) {
				t.Errorf("got %d checks, want %d", len(resp.Checks), len(tc.checks))
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		handler := NewHandler("v1")
		handler.RegisterChecker("storage", NewSimpleChecker("storage", func() error { return nil }))

		w := doRequest(handler.ReadinessHandler, "/readyz")
		if w.Code != http.StatusOK || w.Body.String() != "ready" {
			t.Fatalf("got %d %q, want 200 ready", w.Code, w.Body.String())
		}
	})

	t.Run("degraded still ready", func(t *testing.T) {
		handler := NewHandler("v1")
		handler.RegisterChecker("broker", staticChecker{check: Check{Name: "broker", Status: StatusDegraded}})

		w := doRequest(handler.ReadinessHandler, "/readyz")
		if w.Code != http.StatusOK {
			t.Fatalf("degraded component must not fail readiness, got %d", w.Code)
		}
	})

	t.Run("unhealthy is not ready", func(t *testing.T) {
		handler := NewHandler("v1")
		handler.RegisterChecker("storage", NewSimpleChecker("storage", func() error {
			return errors.New("connection refused")
		}))

		w := doRequest(handler.ReadinessHandler, "/readyz")
		if w.Code != http.StatusServiceUnavailable || w.Body.String() != "not ready" {
			t.Fatalf("got %d %q, want 503 not ready", w.Code, w.Body.String())
		}
	})
}

func TestLivenessHandler(t *testing.T) {
	w := doRequest(LivenessHandler, "/livez")
	if w.Code != http.StatusOK {
		t.Fatalf("liveness must answer 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("liveness body %q, want ok", w.Body.String())
	}
}

func TestSimpleChecker(t *testing.T) {
	t.Run("healthy with duration", func(t *testing.T) {
		checker := NewSimpleChecker("slow", func() error {
			time.Sleep(10 * time.Millisecond)
			return nil
		})

		check := checker.Check()
		if check.Status != StatusHealthy {
			t.Errorf("status %s, want healthy", check.Status)
		}
		if check.Duration < 10*time.Millisecond {
			t.Errorf("duration %s, want >= 10ms", check.Duration)
		}
	})

	t.Run("error becomes unhealthy message", func(t *testing.T) {
		checker := NewSimpleChecker("broken", func() error {
			return errors.New("disk full")
		})

		check := checker.Check()
		if check.Status != StatusUnhealthy {
			t.Errorf("status %s, want unhealthy", check.Status)
		}
		if check.Message != "disk full" {
			t.Errorf("message %q, want disk full", check.Message)
		}
	})
}
