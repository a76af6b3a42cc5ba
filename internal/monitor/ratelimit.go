package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vodkeeper/vodkeeper"
)

const (
	// rateLimitFloor is the most conservative ceiling the limiter will shrink
	// to, and the value EmergencyReset pins it at.
	rateLimitFloor = 5
	// backoffCap bounds the exponential failure backoff.
	backoffCap = 300 * time.Second
	// backoffExponentCap keeps 2^n in sane territory.
	backoffExponentCap = 8
)

// RateLimiter is a sliding-window gate with an adaptive ceiling: +1 request
// per minute per success (up to the configured maximum), halved on every
// rate-limit response (down to a fixed floor). The asymmetry is the point:
// recovery is slow and deliberate, backoff is immediate.
type RateLimiter struct {
	mu sync.Mutex

	window      time.Duration
	ceiling     int // configured maximum, never exceeded
	maxRequests int // current adaptive ceiling

	requests            []time.Time
	consecutiveFailures int
	lastFailure         time.Time

	log *zap.SugaredLogger
	now func() time.Time
}

func NewRateLimiter(cfg vodkeeper.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		window:      cfg.TimeWindow,
		ceiling:     cfg.MaxRequestsPerMinute,
		maxRequests: cfg.MaxRequestsPerMinute,
		log:         zap.S().Named("ratelimit"),
		now:         time.Now,
	}
}

// CanRequest evicts expired timestamps and reports whether another request
// fits in the window. Eviction and comparison happen under a single lock.
func (r *RateLimiter) CanRequest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(r.now())
	return len(r.requests) < r.maxRequests
}

// RecordRequest registers an outbound request at the current instant.
func (r *RateLimiter) RecordRequest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, r.now())
}

// RecordSuccess clears the failure streak and grows the ceiling by one, up
// to the configured maximum.
func (r *RateLimiter) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures = 0
	if r.maxRequests < r.ceiling {
		r.maxRequests++
		r.log.Debugw("ceiling raised", "max_requests", r.maxRequests)
	}
}

// RecordFailure notes a failed attempt. A rate-limit response additionally
// halves the ceiling immediately, floored at the minimum.
func (r *RateLimiter) RecordFailure(isRateLimit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutiveFailures++
	r.lastFailure = r.now()
	if isRateLimit {
		halved := r.maxRequests / 2
		if halved < rateLimitFloor {
			halved = rateLimitFloor
		}
		if halved != r.maxRequests {
			r.maxRequests = halved
			r.log.Warnw("rate limited, ceiling halved", "max_requests", r.maxRequests)
		}
	}
}

// WaitTime returns how long a caller should hold off before the next
// request: the larger of the time until the oldest in-window request
// expires (only when at the ceiling) and the remaining exponential failure
// backoff. Zero means go ahead.
func (r *RateLimiter) WaitTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.evictLocked(now)

	var wait time.Duration
	if len(r.requests) >= r.maxRequests && len(r.requests) > 0 {
		wait = r.requests[0].Add(r.window).Sub(now)
	}
	if r.consecutiveFailures > 0 {
		exponent := r.consecutiveFailures
		if exponent > backoffExponentCap {
			exponent = backoffExponentCap
		}
		backoff := time.Duration(1<<exponent) * time.Second
		if backoff > backoffCap {
			backoff = backoffCap
		}
		if remaining := backoff - now.Sub(r.lastFailure); remaining > wait {
			wait = remaining
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// ForceBackoff is the recovery sweep's aggressive manual reset: halve the
// ceiling, forget the failure streak, and drop the whole request window.
func (r *RateLimiter) ForceBackoff() {
	r.mu.Lock()
	defer r.mu.Unlock()
	halved := r.maxRequests / 2
	if halved < rateLimitFloor {
		halved = rateLimitFloor
	}
	r.maxRequests = halved
	r.consecutiveFailures = 0
	r.requests = r.requests[:0]
	r.log.Warnw("forced backoff", "max_requests", r.maxRequests)
}

// EmergencyReset pins the limiter at its most conservative settings.
func (r *RateLimiter) EmergencyReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxRequests = rateLimitFloor
	r.consecutiveFailures = 0
	r.requests = r.requests[:0]
	r.log.Warnw("emergency reset", "max_requests", r.maxRequests)
}

// MaxRequests exposes the current adaptive ceiling for status reporting.
func (r *RateLimiter) MaxRequests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRequests
}

func (r *RateLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.requests = r.requests[i:]
	}
}
