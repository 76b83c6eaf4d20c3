package natsclient

import (
	"sync"
	"time"
)

// breaker rejects work for a backoff period once threshold consecutive
// failures have been seen. Every time it opens the next backoff doubles, up
// to max. A success closes it and resets the backoff.
type breaker struct {
	mu        sync.Mutex
	threshold int
	base      time.Duration
	max       time.Duration
	now       func() time.Time

	failures  int
	backoff   time.Duration
	openUntil time.Time
}

func newBreaker(threshold int, base, max time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		base:      base,
		max:       max,
		backoff:   base,
		now:       time.Now,
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// fail records one failure. It returns the time the breaker stays open when
// this failure opened it, and zero otherwise.
func (b *breaker) fail() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.now().Before(b.openUntil) {
		return 0
	}
	b.failures++
	if b.failures < b.threshold {
		return 0
	}

	wait := b.backoff
	b.openUntil = b.now().Add(wait)
	b.failures = 0
	b.backoff = min(b.backoff*2, b.max)
	return wait
}

func (b *breaker) succeed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.backoff = b.base
	b.openUntil = time.Time{}
}

func (b *breaker) stats() (failures int, backoff time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures, b.backoff
}
