package util

import (
	"context"
	"sync"
	"time"
)

// Backoff is an exponential backoff calculator.
// It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	current  time.Duration
	initial  time.Duration
	maxDelay time.Duration
	factor   float64
}

// NewBackoff returns a new Backoff with the given initial and maximum delays.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		current:  initial,
		initial:  initial,
		maxDelay: maxDelay,
		factor:   2.0,
	}
}

// Next returns the current delay and advances to the next value.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.current
	b.current = min(time.Duration(float64(b.current)*b.factor), b.maxDelay)
	return current
}

// Reset sets the backoff back to the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
}

// Retry calls fn up to attempts times, sleeping with b between failures.
// It stops early when fn succeeds, when retryable reports false for the error,
// or when ctx is done. The last error is returned.
func Retry(ctx context.Context, b *Backoff, attempts int, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := range attempts {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(b.Next()):
		}
	}
	return err
}
