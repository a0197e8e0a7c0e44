package middleware

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

const burstCapacityMultiplier = 2

type (
	// RateLimiter decides whether an incoming request may proceed.
	//
	// The in-memory implementation is a single token bucket shared by all
	// clients, which fits a single-node developer tool. A distributed
	// limiter can slot in behind the same interface.
	RateLimiter interface {
		// Allow reports whether a request should be allowed right now.
		Allow() bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate
	// with a burst of twice the sustained rate.
	InMemoryRateLimiter struct {
		limiter *rate.Limiter
	}
)

// NewInMemoryRateLimiter creates a token-bucket limiter allowing rps
// sustained requests per second.
func NewInMemoryRateLimiter(rps int) *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), rps*burstCapacityMultiplier),
	}
}

// Allow implements the RateLimiter interface.
func (rl *InMemoryRateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// RateLimit returns a middleware that enforces rate limits on incoming
// requests. When a request exceeds the limit the middleware responds 429
// with an RFC 7807 body.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("Rate limit exceeded",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
				)

				writeProblem(w, r, logger, http.StatusTooManyRequests,
					"Too Many Requests",
					"Rate limit exceeded. Please retry after some time.")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
