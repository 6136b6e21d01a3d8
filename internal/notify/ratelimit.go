package notify

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter accepts at most one message per event kind within the
// configured interval. The first message of a kind is always accepted.
type RateLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	kinds map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter. An interval of 0 accepts everything.
func NewRateLimiter(interval time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		interval: interval,
		now:      now,
		kinds:    make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a message of kind may be sent now, and records
// the send when it may
func (r *RateLimiter) Allow(kind string) bool {
	if r == nil || r.interval <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.kinds[kind]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.interval), 1)
		r.kinds[kind] = l
	}
	return l.AllowN(r.now(), 1)
}
