// Package ratelimit sheds load with a process-wide token bucket.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/janisto/greetings-api/internal/platform/logging"
	"github.com/janisto/greetings-api/internal/platform/respond"
)

// RetryAfterSeconds is the Retry-After value sent with every rejection.
const RetryAfterSeconds = 1

// Middleware admits at most limit requests per second with the given burst.
// A limit of zero or less disables limiting. Rejected requests get a 429
// problem and onReject, when set, is called once per rejection. Paths that
// start with one of skipPaths are never limited.
func Middleware(limit float64, burst int, onReject func(), skipPaths ...string) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	retryAfter := strconv.Itoa(RetryAfterSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range skipPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			if !limiter.Allow() {
				if onReject != nil {
					onReject()
				}
				logging.LogWarn(r.Context(), "rate limit exceeded",
					zap.Float64("limit", limit),
					zap.Int("burst", burst),
				)
				w.Header().Set("Retry-After", retryAfter)
				respond.WriteProblem(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
