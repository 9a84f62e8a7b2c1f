package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUnit = 10 * time.Millisecond

func newTestScheduler(seconds int, fn TickFunc, opts ...Option) *Scheduler {
	s := New(seconds, fn, opts...)
	s.unit = testUnit
	return s
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{5, 5},
		{15, 15},
		{16, 15},
		{100, 15},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampInterval(tt.in), "ClampInterval(%d)", tt.in)
	}
}

func TestNewClampsInterval(t *testing.T) {
	assert.Equal(t, 1, New(0, func(context.Context, time.Time) {}).Interval())
	assert.Equal(t, 15, New(100, func(context.Context, time.Time) {}).Interval())
	assert.Equal(t, DefaultInterval, New(DefaultInterval, func(context.Context, time.Time) {}).Interval())
}

func TestSchedulerTicks(t *testing.T) {
	var ticks atomic.Int32
	s := newTestScheduler(1, func(context.Context, time.Time) { ticks.Add(1) })

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, testUnit)
	require.NoError(t, s.Stop(time.Second))

	after := ticks.Load()
	time.Sleep(5 * testUnit)
	assert.Equal(t, after, ticks.Load(), "no ticks after Stop")
	assert.NoError(t, s.Stop(time.Second), "second Stop is a no-op")
}

func TestSchedulerSetIntervalAppliedByOwner(t *testing.T) {
	var ticks atomic.Int32
	var mu sync.Mutex
	var changes [][2]int

	s := newTestScheduler(1, func(context.Context, time.Time) { ticks.Add(1) },
		WithChangeHandler(func(old, current int) {
			mu.Lock()
			changes = append(changes, [2]int{old, current})
			mu.Unlock()
		}))
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(time.Second) }()

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, testUnit)

	assert.Equal(t, 15, s.SetInterval(100))
	assert.Eventually(t, func() bool { return s.Interval() == 15 }, time.Second, testUnit)

	before := ticks.Load()
	time.Sleep(8 * testUnit)
	assert.LessOrEqual(t, ticks.Load()-before, int32(1), "slow interval in effect")

	// Requesting the applied value is not a change.
	s.SetInterval(15)
	time.Sleep(2 * testUnit)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]int{{1, 15}}, changes)
}

func TestSchedulerSetIntervalBeforeStart(t *testing.T) {
	s := newTestScheduler(5, func(context.Context, time.Time) {})
	assert.Equal(t, 1, s.SetInterval(0))
	assert.Equal(t, 5, s.Interval(), "not applied until the scheduler runs")

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(time.Second) }()
	assert.Eventually(t, func() bool { return s.Interval() == 1 }, time.Second, testUnit)
}

func TestSchedulerChangeNotAppliedMidTick(t *testing.T) {
	inTick := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var seen atomic.Int32

	s := newTestScheduler(1, func(context.Context, time.Time) {})
	s.fn = func(context.Context, time.Time) {
		once.Do(func() {
			close(inTick)
			<-release
			seen.Store(int32(s.Interval()))
		})
	}
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(time.Second) }()

	<-inTick
	s.SetInterval(2)
	assert.Equal(t, 1, s.Interval(), "change waits for the tick to finish")
	close(release)

	assert.Eventually(t, func() bool { return s.Interval() == 2 }, time.Second, testUnit)
	assert.Equal(t, int32(1), seen.Load(), "first tick saw the old interval throughout")
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestScheduler(1, func(context.Context, time.Time) { ticks.Add(1) })
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool { return ticks.Load() >= 1 }, time.Second, testUnit)
	cancel()
	require.NoError(t, s.Stop(time.Second))
}

func TestSchedulerRestartsAfterContextCancel(t *testing.T) {
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestScheduler(1, func(context.Context, time.Time) { ticks.Add(1) })
	require.NoError(t, s.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.done == nil
	}, time.Second, testUnit)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
	before := ticks.Load()
	assert.Eventually(t, func() bool { return ticks.Load() > before }, time.Second, testUnit)
	require.NoError(t, s.Stop(time.Second))
}
