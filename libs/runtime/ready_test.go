package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadyzReportsFailingChecks(t *testing.T) {
	mux := NewBaseMuxWithReady(
		ReadyCheck{Name: "db", Check: func(context.Context) error { return nil }},
		ReadyCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("no brokers") }},
	)

	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rw.Code)
	}
	var report readyReport
	if err := json.Unmarshal(rw.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Status != "unavailable" || report.Checks["db"] != "ok" || report.Checks["kafka"] != "no brokers" {
		t.Fatalf("unexpected report: %+v", report)
	}

	rw = httptest.NewRecorder()
	mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rw.Code)
	}
}

func TestReadyzWithoutChecks(t *testing.T) {
	rw := httptest.NewRecorder()
	NewBaseMuxWithReady().ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
}
