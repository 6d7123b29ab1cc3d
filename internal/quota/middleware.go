package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/propnest/backend/internal/logging"
	"github.com/propnest/backend/internal/metrics"
)

// UserIDFromContext extracts the user ID from the request context.
// This function type allows decoupling from the auth package.
type UserIDFromContext func(ctx context.Context) string

// RateLimitMiddleware returns middleware that enforces per-user rate limits.
func RateLimitMiddleware(limiter *RateLimiter, getUserID UserIDFromContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := getUserID(r.Context())
			if userID == "" {
				// No user context (unauthenticated request) - let it pass
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(userID) {
				metrics.RecordRateLimitHit()
				retryAfter := limiter.RetryAfter(userID)
				logging.WithContext(r.Context()).Info("upload rate limited",
					zap.String("user_id", userID),
					zap.Int("retry_after", retryAfter))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error": "rate limit exceeded",
					"code":  http.StatusTooManyRequests,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
