package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/postreview/internal/identity"
)

const idleLimiterTTL = 30 * time.Minute

// Throttle limits each reviewer to perMinute requests with the given burst.
// Reviewers are keyed by identity, so identity.Middleware must run first.
// A non-positive perMinute disables throttling.
func Throttle(perMinute, burst int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	t := &throttle{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		limiters: make(map[string]*reviewerLimiter),
		now:      time.Now,
	}
	return t.middleware
}

type reviewerLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

type throttle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*reviewerLimiter
	lastGC   time.Time
	now      func() time.Time
}

func (t *throttle) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastGC) > idleLimiterTTL {
		for k, l := range t.limiters {
			if now.Sub(l.seen) > idleLimiterTTL {
				delete(t.limiters, k)
			}
		}
		t.lastGC = now
	}

	l, ok := t.limiters[key]
	if !ok {
		l = &reviewerLimiter{lim: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[key] = l
	}
	l.seen = now
	return l.lim.AllowN(now, 1)
}

func (t *throttle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := identity.ReviewerFromContext(r.Context()) + "|" + identity.IPFromRequest(r)
		if !t.allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
