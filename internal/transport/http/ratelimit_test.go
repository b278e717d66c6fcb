package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterSeparatesSessions(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(session string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/reservations", nil)
		if session != "" {
			req.Header.Set("X-Session-ID", session)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("sess-a"); got != http.StatusNoContent {
		t.Fatalf("expected first request allowed, got %d", got)
	}
	if got := send("sess-a"); got != http.StatusTooManyRequests {
		t.Fatalf("expected second request throttled, got %d", got)
	}
	// A different session keeps its own bucket.
	if got := send("sess-b"); got != http.StatusNoContent {
		t.Fatalf("expected other session allowed, got %d", got)
	}
}

func TestRateLimiterFallsBackToClientIP(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter(1, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/reservations", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected request without session allowed, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reservations", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected same IP throttled, got %d", rec.Code)
	}
}
