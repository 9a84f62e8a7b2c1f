package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := NewLogger(filepath.Join(t.TempDir(), "logs", "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestPublishTransition(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.PublishLevel(ctx, &types.LevelReport{LevelDBFS: -10}))
	require.NoError(t, l.PublishTransition(ctx, &types.Transition{
		ID: "a1", From: types.AlertQuiet, To: types.AlertActive,
		LevelDBFS: -30, AmbientDBFS: -40, EnterDBFS: -34, LeaveDBFS: -37,
		Mode: types.ModeDynamic, Timestamp: ts,
	}))
	require.NoError(t, l.PublishTransition(ctx, &types.Transition{
		ID: "a2", From: types.AlertActive, To: types.AlertQuiet,
		LevelDBFS: -39, AmbientDBFS: -40, Duration: 12 * time.Second,
		Mode: types.ModeDynamic, Timestamp: ts.Add(12 * time.Second),
	}))

	events, hasMore, err := ReadLast(l.Path(), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, events, 2, "level reports are not logged")

	assert.Equal(t, AlertEnd, events[0].Type)
	assert.Equal(t, "a2", events[0].ID)
	details, ok := events[0].Details.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 12000, details["duration_ms"], 0)

	assert.Equal(t, AlertStart, events[1].Type)
	assert.True(t, events[1].Timestamp.Equal(ts))
}

func TestReadLastFilterAndPaging(t *testing.T) {
	l := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, l.LogCapture(CaptureStarted, "hifiberry", types.AudioFormat{Channels: 2, SampleRate: 48000}, ""))
	for i := range 5 {
		to := types.AlertActive
		if i%2 == 1 {
			to = types.AlertQuiet
		}
		require.NoError(t, l.PublishTransition(ctx, &types.Transition{To: to}))
	}
	require.NoError(t, l.LogInterval(5, 2))
	require.NoError(t, l.LogCapture(CaptureError, "", types.AudioFormat{}, "device lost"))

	alerts, hasMore, err := ReadLast(l.Path(), 2, 0, FilterAlert)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
	assert.True(t, hasMore)

	alerts, hasMore, err = ReadLast(l.Path(), 2, 4, FilterAlert)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.False(t, hasMore)

	capture, _, err := ReadLast(l.Path(), 10, 0, FilterCapture)
	require.NoError(t, err)
	require.Len(t, capture, 2)
	assert.Equal(t, CaptureError, capture[0].Type)

	cfg, _, err := ReadLast(l.Path(), 10, 0, FilterConfig)
	require.NoError(t, err)
	require.Len(t, cfg, 1)
	assert.Equal(t, IntervalChanged, cfg[0].Type)
}

func TestReadLastEdgeCases(t *testing.T) {
	events, hasMore, err := ReadLast(filepath.Join(t.TempDir(), "missing.jsonl"), 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, hasMore)

	path := filepath.Join(t.TempDir(), "broken.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json}\n{\"type\":\"alert_start\"}\n"), 0o600))
	events, _, err = ReadLast(path, 10, 0, FilterAll)
	require.NoError(t, err)
	assert.Len(t, events, 1, "malformed lines are skipped")

	events, _, err = ReadLast(path, 0, 0, FilterAll)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTypeFilterValid(t *testing.T) {
	assert.True(t, FilterAll.Valid())
	assert.True(t, FilterAlert.Valid())
	assert.False(t, TypeFilter("recorder").Valid())
}

func TestLogAfterClose(t *testing.T) {
	l, err := NewLogger(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.LogInterval(1, 2), os.ErrClosed)
}
