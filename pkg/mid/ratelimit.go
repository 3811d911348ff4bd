package mid

import (
	"net/http"

	"github.com/StratumAI/stratum-mvp/pkg/resilience"
)

// RateLimit rejects requests with 429 once the limiter's bucket is empty.
// A nil limiter disables limiting.
func RateLimit(l *resilience.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l != nil && !l.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
