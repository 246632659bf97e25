package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inksprint/server/internal/registry"
)

type nopSender struct{}

func (nopSender) Send(v any) error { return nil }
func (nopSender) Close() error     { return nil }

func TestHealth(t *testing.T) {
	t.Parallel()

	s := New(registry.New(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestStateReportsSessions(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.Attach(1, nopSender{})
	reg.Attach(2, nopSender{})

	s := New(reg, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		SessionsOnline int `json:"sessions_online"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionsOnline != 2 {
		t.Fatalf("sessions_online = %d, want 2", body.SessionsOnline)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := New(registry.New(), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("metrics output missing standard collectors")
	}
}
