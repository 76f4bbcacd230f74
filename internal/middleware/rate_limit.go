package middleware

import (
	"net"
	"net/http"
	"time"

	"infinite-experiment/logbook/internal/common"
	"infinite-experiment/logbook/internal/metrics"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per caller. Buckets of callers idle
// longer than the expiry are evicted.
type RateLimiter struct {
	limiters *cache.Cache
	rps      rate.Limit
	burst    int
	metrics  *metrics.MetricsRegistry
}

func NewRateLimiter(rps float64, burst int, m *metrics.MetricsRegistry) *RateLimiter {
	return &RateLimiter{
		limiters: cache.New(10*time.Minute, 5*time.Minute),
		rps:      rate.Limit(rps),
		burst:    burst,
		metrics:  m,
	}
}

func (l *RateLimiter) getLimiter(key string) *rate.Limiter {
	if v, found := l.limiters.Get(key); found {
		// Touch so active callers are not evicted.
		l.limiters.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.rps, l.burst)
	if err := l.limiters.Add(key, limiter, cache.DefaultExpiration); err != nil {
		// Lost a race with another request for the same key.
		if v, found := l.limiters.Get(key); found {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// Middleware limits by authenticated user, falling back to the client IP.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := UserIDFromRequest(r)
		if key == "" {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			key = "ip:" + ip
		}

		if !l.getLimiter(key).Allow() {
			l.metrics.ObserveRateLimited()
			w.Header().Set("Retry-After", "1")
			common.RespondError(w, time.Now(), nil, "Too many requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
