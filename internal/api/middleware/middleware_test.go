package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestCorrelationIDGenerated(t *testing.T) {
	var seen string

	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}), WithCorrelationID())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" || seen == "unknown" {
		t.Errorf("correlation id = %q, want generated", seen)
	}

	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("response header = %q, context value = %q", got, seen)
	}
}

func TestCorrelationIDPropagated(t *testing.T) {
	var seen string

	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
	}), WithCorrelationID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")

	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "abc-123" {
		t.Errorf("correlation id = %q, want abc-123", seen)
	}
}

func TestRateLimitRejectsWith429(t *testing.T) {
	limiter := NewInMemoryRateLimiter(1)

	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), WithRateLimit(limiter, discardLogger()))

	var statuses []int

	// Burst capacity is 2, so the third immediate request must be rejected.
	for range 3 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		statuses = append(statuses, rec.Code)
	}

	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("statuses = %v, want final 429", statuses)
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), WithRecovery(discardLogger()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}
}

type corsSettings struct{}

func (corsSettings) GetAllowedOrigins() []string { return []string{"*"} }
func (corsSettings) GetAllowedMethods() []string { return []string{"GET", "POST"} }
func (corsSettings) GetAllowedHeaders() []string { return []string{"Content-Type"} }
func (corsSettings) GetMaxAge() int              { return 600 }

func TestCORSPreflight(t *testing.T) {
	handler := Apply(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight reached the inner handler")
	}), WithCORS(corsSettings{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q", got)
	}
}
