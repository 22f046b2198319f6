package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// ErrBudgetExhausted is returned when a prefix has used its remote call budget.
var ErrBudgetExhausted = errors.New("delta call budget exhausted")

// Budget limits remote calls per path prefix with one token bucket each.
type Budget struct {
	mu      sync.Mutex
	rpm     int
	clock   clockwork.Clock
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewBudget creates a budget allowing rpm calls per minute per prefix, with
// bursts up to rpm. rpm=0 means unlimited.
func NewBudget(rpm int, clock clockwork.Clock) *Budget {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Budget{
		rpm:     rpm,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// get must be called with b.mu held.
func (b *Budget) get(prefix string, now time.Time) *bucket {
	bk, ok := b.buckets[prefix]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(b.rpm)/60.0), b.rpm)}
		b.buckets[prefix] = bk
	}
	bk.lastSeen = now
	return bk
}

// Wait takes one token for prefix, blocking until the bucket refills. If the
// refill would come after ctx's deadline it returns ErrBudgetExhausted at once
// and leaves the bucket as it was.
func (b *Budget) Wait(ctx context.Context, prefix string) error {
	if b.rpm <= 0 {
		return nil
	}

	b.mu.Lock()
	now := b.clock.Now()
	r := b.get(prefix, now).limiter.ReserveN(now, 1)
	b.mu.Unlock()

	if !r.OK() {
		return ErrBudgetExhausted
	}
	d := r.DelayFrom(now)
	if d <= 0 {
		return nil
	}
	// deadlines are wall-clock, so compare against real time left
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < d {
		r.CancelAt(now)
		return fmt.Errorf("%w: retry in %s", ErrBudgetExhausted, d)
	}

	select {
	case <-b.clock.After(d):
		return nil
	case <-ctx.Done():
		r.CancelAt(b.clock.Now())
		return ctx.Err()
	}
}

// Cleanup removes buckets for prefixes that haven't been seen recently.
func (b *Budget) Cleanup(maxAge time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.clock.Now().Add(-maxAge)
	for prefix, bk := range b.buckets {
		if bk.lastSeen.Before(cutoff) {
			delete(b.buckets, prefix)
		}
	}
}
