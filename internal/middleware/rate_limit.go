package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// IPRateLimitConfig holds the transport-level per-IP limit. This is a coarse
// first line of defense; the per-account sliding windows enforced by the
// rate limit service run underneath it.
type IPRateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns the per-IP limit for auth endpoints
func DefaultAuthRateLimit() IPRateLimitConfig {
	return IPRateLimitConfig{
		RequestsPerMinute: 20,
	}
}

// RateLimitByIP rejects clients exceeding the per-IP request limit
func RateLimitByIP(config IPRateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}
