package quota

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	// 10 requests per minute
	rl := NewRateLimiter(10)

	for i := 0; i < 10; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if rl.Allow("u1") {
		t.Error("11th request should be denied")
	}

	// Buckets are per user
	if !rl.Allow("u2") {
		t.Error("other users keep their own bucket")
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0)
	if rl.Enabled() {
		t.Error("rpm=0 should disable limiting")
	}

	for i := 0; i < 1000; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d should be allowed (unlimited)", i+1)
		}
	}
	if got := rl.RetryAfter("u1"); got != 0 {
		t.Errorf("RetryAfter = %d, want 0", got)
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(60) // 1 token per second

	for i := 0; i < 60; i++ {
		rl.Allow("u1")
	}

	if rl.Allow("u1") {
		t.Error("should be rate limited after exhausting tokens")
	}
	if got := rl.RetryAfter("u1"); got < 1 || got > 2 {
		t.Errorf("RetryAfter = %d, want 1 or 2", got)
	}

	// Wait for refill
	time.Sleep(1100 * time.Millisecond)

	if !rl.Allow("u1") {
		t.Error("should be allowed after refill")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10)
	rl.Allow("u1")
	rl.Allow("u2")

	if n := rl.Cleanup(time.Hour); n != 0 {
		t.Errorf("fresh buckets removed: %d", n)
	}

	time.Sleep(5 * time.Millisecond)
	if n := rl.Cleanup(time.Millisecond); n != 2 {
		t.Errorf("Cleanup removed %d, want 2", n)
	}
	if len(rl.buckets) != 0 {
		t.Errorf("%d buckets left", len(rl.buckets))
	}
}

type userKey struct{}

func userFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1)
	h := RateLimitMiddleware(rl, userFromCtx)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if user != "" {
			req = req.WithContext(context.WithValue(req.Context(), userKey{}, user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("u1"); rec.Code != http.StatusCreated {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := do("u1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	// Anonymous requests are not counted here; auth rejects them upstream.
	for i := 0; i < 3; i++ {
		if rec := do(""); rec.Code != http.StatusCreated {
			t.Fatalf("anonymous request status = %d", rec.Code)
		}
	}
}
