package middleware

import (
	"net/http"
	"strconv"
	"time"

	"storefront/internal/ratelimit"

	"go.uber.org/zap"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerWindow int           // Number of requests allowed per window
	Window            time.Duration // Time window for rate limiting
	KeyPrefix         string        // Counter key prefix
}

// RateLimitMiddleware limits requests per client through the shared limiter.
// The auth service counts login attempts through the same component.
func RateLimitMiddleware(limiter *ratelimit.Limiter, config RateLimitConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Client identifier: user ID when authenticated, IP otherwise
			clientID := r.RemoteAddr
			if userID, ok := GetUserID(r.Context()); ok {
				clientID = userID
			}

			key := config.KeyPrefix + ":" + clientID

			allowed, remaining, retryAfter, err := limiter.Allow(r.Context(), key, config.RequestsPerWindow, config.Window)
			if err != nil {
				logger.Error("Failed to check rate limit",
					zap.Error(err),
					zap.String("key", key),
				)
				// Fail open so a cache outage does not take requests down
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				logger.Warn("Rate limit exceeded",
					zap.String("client_id", clientID),
					zap.Int("limit", config.RequestsPerWindow),
				)

				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))

				RespondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			next.ServeHTTP(w, r)
		})
	}
}
