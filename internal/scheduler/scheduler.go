// Package scheduler runs the periodic level evaluation.
//
// A single goroutine owns the ticker. Interval changes requested from other
// goroutines are parked in a one-slot mailbox and applied by the owner between
// ticks, so a tick never observes a half-applied change.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MinInterval is the shortest evaluation period in seconds.
	MinInterval = 1
	// MaxInterval is the longest evaluation period in seconds.
	MaxInterval = 15
	// DefaultInterval is the evaluation period used when none is configured.
	DefaultInterval = 5
)

// Sentinel errors for scheduler operations.
var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrStopTimeout    = errors.New("scheduler did not stop in time")
)

// ClampInterval limits seconds to [MinInterval, MaxInterval].
func ClampInterval(seconds int) int {
	return max(MinInterval, min(seconds, MaxInterval))
}

// TickFunc is called on every tick from the scheduler goroutine.
type TickFunc func(ctx context.Context, now time.Time)

// ChangeFunc is called from the scheduler goroutine after an interval change is applied.
type ChangeFunc func(old, current int)

// Scheduler calls a TickFunc on a reconfigurable period.
type Scheduler struct {
	fn       TickFunc
	onChange ChangeFunc
	unit     time.Duration

	interval atomic.Int64 // applied interval
	pending  atomic.Int64 // requested interval, 0 when none
	wake     chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithChangeHandler registers a callback for applied interval changes.
func WithChangeHandler(fn ChangeFunc) Option {
	return func(s *Scheduler) { s.onChange = fn }
}

// New creates a scheduler with the given interval in seconds (clamped).
func New(seconds int, fn TickFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		fn:   fn,
		unit: time.Second,
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.interval.Store(int64(ClampInterval(seconds)))
	return s
}

// Interval returns the applied interval in seconds.
func (s *Scheduler) Interval() int {
	return int(s.interval.Load())
}

// SetInterval requests a new interval and returns the clamped value.
// It is safe to call from any goroutine and never blocks. The change takes
// effect after the current tick completes; the next tick fires one new
// interval after it is applied.
func (s *Scheduler) SetInterval(seconds int) int {
	clamped := ClampInterval(seconds)
	s.pending.Store(int64(clamped))
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return clamped
}

// Start runs the scheduler in a new goroutine until Stop or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer s.release(done)
		s.run(ctx)
	}()
	return nil
}

// release clears the run state if it still belongs to the run that owns done.
// A parent context cancellation ends the run without Stop.
func (s *Scheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == done {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
}

// Stop signals the scheduler goroutine and waits for it to exit, up to timeout.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (s *Scheduler) run(ctx context.Context) {
	s.applyPending(nil)
	ticker := time.NewTicker(s.Period())
	defer ticker.Stop()

	slog.Debug("scheduler started", "interval", s.Interval())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fn(ctx, now)
			s.applyPending(ticker)
		case <-s.wake:
			s.applyPending(ticker)
		}
	}
}

// applyPending takes the mailbox value and re-arms the ticker if the interval changed.
func (s *Scheduler) applyPending(ticker *time.Ticker) {
	requested := int(s.pending.Swap(0))
	old := s.Interval()
	if requested == 0 || requested == old {
		return
	}
	s.interval.Store(int64(requested))
	if ticker != nil {
		ticker.Reset(s.Period())
	}

	slog.Info("evaluation interval changed", "from", old, "to", requested)
	if s.onChange != nil {
		s.onChange(old, requested)
	}
}

// Period returns the applied interval as a duration.
func (s *Scheduler) Period() time.Duration {
	return time.Duration(s.Interval()) * s.unit
}
