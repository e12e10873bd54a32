package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned while the breaker is refusing calls.
var ErrBreakerOpen = errors.New("circuit breaker open")

const (
	breakerFailureThreshold = 5
	breakerOpenInterval     = 30 * time.Second
)

// Breaker is a minimal circuit breaker for a single backend. After
// breakerFailureThreshold consecutive failures it opens and rejects calls
// for breakerOpenInterval, then lets a single probe through (half-open).
// Safe for concurrent use.
type Breaker struct {
	mu       sync.Mutex
	failures int
	openedAt time.Time
}

func NewBreaker() *Breaker {
	return &Breaker{}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < breakerFailureThreshold {
		return true
	}
	// Open: permit one probe after the cool-down.
	if time.Since(b.openedAt) >= breakerOpenInterval {
		b.openedAt = time.Now()
		return true
	}
	return false
}

// Record feeds a call outcome back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == breakerFailureThreshold {
		b.openedAt = time.Now()
	}
}

// Call wraps fn with the breaker.
func (b *Breaker) Call(fn func() error) error {
	if !b.Allow() {
		return ErrBreakerOpen
	}
	err := fn()
	b.Record(err)
	return err
}
