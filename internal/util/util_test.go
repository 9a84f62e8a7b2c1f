package util

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 350*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())
	assert.Equal(t, 350*time.Millisecond, b.Next())
	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestRetry(t *testing.T) {
	errTemp := errors.New("temporary")
	errPerm := errors.New("permanent")

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewBackoff(time.Millisecond, time.Millisecond), 3, nil, func() error {
			calls++
			if calls < 3 {
				return errTemp
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewBackoff(time.Millisecond, time.Millisecond), 5,
			func(err error) bool { return !errors.Is(err, errPerm) },
			func() error {
				calls++
				return errPerm
			})
		assert.ErrorIs(t, err, errPerm)
		assert.Equal(t, 1, calls)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), NewBackoff(time.Millisecond, time.Millisecond), 2, nil, func() error {
			calls++
			return errTemp
		})
		assert.ErrorIs(t, err, errTemp)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Retry(ctx, NewBackoff(time.Hour, time.Hour), 5, nil, func() error {
			calls++
			return errTemp
		})
		assert.ErrorIs(t, err, errTemp)
		assert.Equal(t, 1, calls)
	})
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("do thing", nil))
	base := errors.New("boom")
	err := WrapError("do thing", base)
	assert.EqualError(t, err, "failed to do thing: boom")
	assert.ErrorIs(t, err, base)
}

func TestLogPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer LogPanic("test")
		panic("boom")
	})
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 34s", FormatDuration(154*time.Second))
	assert.Equal(t, "1h 23m", FormatDuration(83*time.Minute))
	assert.Empty(t, FormatUptime(time.Time{}))
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
	assert.True(t, IsConfigured())
}
