// Package ratelimit implements a token-bucket facet bounding how fast a
// subsystem's request builder may issue response-required sends, a
// backpressure control complementary to the queue's overflow policy
// (spec.md §4.9). Grounded on the teacher's per-exchange request limiter
// (babyman-slug-lang internal/util, mirroring thrasher-corp/gocryptotrader's
// golang.org/x/time/rate use for exchange rate limits), generalized from
// a per-endpoint limiter keyed by exchange name into a per-subsystem
// limiter keyed by path prefix.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"mycelia/internal/kernelerr"
)

// Limit configures a token bucket: Rate tokens/sec, Burst capacity.
type Limit struct {
	RatePerSec float64
	Burst      int
}

// Limiter wraps one or more named token buckets (keyed by subsystem name
// or request-builder label) so a single facet can bound several request
// streams independently.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	defaults Limit
}

// New builds a Limiter whose default bucket configuration is defaults;
// individual keys may be configured explicitly via Configure.
func New(defaults Limit) *Limiter {
	if defaults.RatePerSec <= 0 {
		defaults.RatePerSec = 10
	}
	if defaults.Burst <= 0 {
		defaults.Burst = 1
	}
	return &Limiter{buckets: make(map[string]*rate.Limiter), defaults: defaults}
}

// Configure sets an explicit bucket configuration for key, replacing any
// existing bucket (its accumulated tokens are discarded).
func (l *Limiter) Configure(key string, limit Limit) {
	if limit.RatePerSec <= 0 {
		limit.RatePerSec = l.defaults.RatePerSec
	}
	if limit.Burst <= 0 {
		limit.Burst = l.defaults.Burst
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[key] = rate.NewLimiter(rate.Limit(limit.RatePerSec), limit.Burst)
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.defaults.RatePerSec), l.defaults.Burst)
		l.buckets[key] = b
	}
	return b
}

// Allow reports whether a request under key may proceed immediately,
// consuming a token if so. Used by a request builder that should reject
// rather than queue when over budget.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

// Wait blocks until a token for key is available or ctx is cancelled. A
// cancelled context surfaces as kernelerr.OperationCancelled rather than
// the raw context error, matching the closed error taxonomy sends report
// through.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if err := l.bucketFor(key).Wait(ctx); err != nil {
		return kernelerr.NewOperationCancelled(err.Error())
	}
	return nil
}

// Reserve returns the delay until a token for key becomes available,
// without blocking the caller, for callers that want to schedule a retry
// rather than hold a goroutine on Wait.
func (l *Limiter) Reserve(key string) (ok bool, delay int64) {
	r := l.bucketFor(key).Reserve()
	if !r.OK() {
		return false, 0
	}
	return true, r.Delay().Milliseconds()
}
