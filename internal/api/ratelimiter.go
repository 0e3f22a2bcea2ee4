package api

import (
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

const (
	defaultRequestRPS   = 25
	defaultRequestBurst = 50

	// Each selection change triggers a background store write.
	defaultWriteRPS   = 2
	defaultWriteBurst = 5
)

type rateLimiter interface {
	Allow() bool
}

type limiterAdapter struct {
	limiter *rate.Limiter
}

func newTokenBucketLimiter(ratePerSecond float64, burst int) rateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}

	return &limiterAdapter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

func (l *limiterAdapter) Allow() bool {
	if l == nil || l.limiter == nil {
		return true
	}
	return l.limiter.Allow()
}

// retryAfterSeconds is the whole-second wait until the next token, at least 1.
func (l *limiterAdapter) retryAfterSeconds() int {
	if l == nil || l.limiter == nil || l.limiter.Limit() <= 0 {
		return 1
	}
	secs := int(1 / float64(l.limiter.Limit()))
	if secs < 1 {
		return 1
	}
	return secs
}

func rateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		setRetryAfter(w, limiter)
		writeError(w, http.StatusTooManyRequests, "Too many requests", "rate limit exceeded, please retry shortly")
	})
}

// writeRateLimitMiddleware limits only requests that change the selection.
func writeRateLimitMiddleware(limiter rateLimiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if limiter.Allow() {
			next.ServeHTTP(w, r)
			return
		}
		setRetryAfter(w, limiter)
		writeError(w, http.StatusTooManyRequests, "Too many endpoint changes", "endpoint selection is changing too quickly, please retry shortly")
	})
}

func setRetryAfter(w http.ResponseWriter, limiter rateLimiter) {
	secs := 1
	if adapter, ok := limiter.(*limiterAdapter); ok {
		secs = adapter.retryAfterSeconds()
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
