package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-levelwatch/internal/config"
	"github.com/oszuidwest/zwfm-levelwatch/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

type fakeMonitor struct {
	mu        sync.Mutex
	intervals []int
}

func (f *fakeMonitor) Status() types.MonitorStatus {
	return types.MonitorStatus{State: types.StateRunning, Alert: types.AlertQuiet}
}

func (f *fakeMonitor) LatestReport() (types.LevelReport, bool) {
	return types.LevelReport{LevelDBFS: -30}, true
}

func (f *fakeMonitor) SetInterval(seconds int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intervals = append(f.intervals, seconds)
	return seconds
}

type fakeTester struct {
	err      error
	channels chan string
}

func (f *fakeTester) Test(ctx context.Context, channel string) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	f.channels <- channel
	return f.err
}

func ptr[T any](v T) *T { return &v }

func newTestHandler(t *testing.T) (*CommandHandler, *fakeMonitor, *fakeTester) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	mon := &fakeMonitor{}
	tester := &fakeTester{channels: make(chan string, 1)}
	return NewCommandHandler(cfg, mon, tester, filepath.Join(dir, "events.jsonl")), mon, tester
}

func command(t *testing.T, typ string, data any) WSCommand {
	t.Helper()
	cmd := WSCommand{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		cmd.Data = raw
	}
	return cmd
}

func receive(t *testing.T, send <-chan any) map[string]any {
	t.Helper()
	select {
	case msg := <-send:
		raw, err := json.Marshal(msg)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func TestLevelUpdate(t *testing.T) {
	h, mon, _ := newTestHandler(t)
	send := make(chan any, 4)
	updates := 0

	h.Handle(command(t, "level/update", map[string]any{
		"dynamic":     false,
		"fixed_alert": -10.0,
		"interval":    7,
	}), send, true, func() { updates++ })

	resp := receive(t, send)
	assert.Equal(t, "level/update_result", resp["type"])
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, 1, updates)

	got := h.cfg.Thresholds()
	assert.False(t, got.Dynamic)
	assert.InDelta(t, -10, got.FixedAlertDBFS, 1e-9)
	assert.InDelta(t, config.DefaultFixedNormalDBFS, got.FixedNormalDBFS, 1e-9)
	assert.Equal(t, 7, got.IntervalSeconds)
	assert.Equal(t, []int{7}, mon.intervals)
}

func TestLevelUpdateWithoutIntervalLeavesScheduler(t *testing.T) {
	h, mon, _ := newTestHandler(t)
	send := make(chan any, 4)

	h.Handle(command(t, "level/update", map[string]any{"dynamic_alert": 9.0}), send, true, func() {})

	assert.Equal(t, true, receive(t, send)["success"])
	assert.Empty(t, mon.intervals)
}

func TestLevelUpdateValidation(t *testing.T) {
	h, mon, _ := newTestHandler(t)
	send := make(chan any, 4)

	h.Handle(command(t, "level/update", map[string]any{"interval": 3, "fixed_alert": 3.0}), send, true, func() {})

	resp := receive(t, send)
	assert.Equal(t, false, resp["success"])
	verr, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	errs := verr["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "fixed_alert", errs[0].(map[string]any)["field"])
	assert.Empty(t, mon.intervals, "nothing is applied when validation fails")
	assert.Equal(t, config.DefaultInterval, h.cfg.Thresholds().IntervalSeconds)
}

func TestLevelUpdateClampsInterval(t *testing.T) {
	h, mon, _ := newTestHandler(t)

	got, err := h.ApplyLevel(&LevelUpdateRequest{Interval: ptr(100)})
	require.NoError(t, err)
	assert.Equal(t, 15, got.IntervalSeconds)

	got, err = h.ApplyLevel(&LevelUpdateRequest{Interval: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, 1, got.IntervalSeconds)

	assert.Equal(t, []int{15, 1}, mon.intervals)
}

func TestLevelUpdateSaveFailureStillMovesScheduler(t *testing.T) {
	h, mon, _ := newTestHandler(t)
	require.NoError(t, os.Mkdir(h.cfg.Path(), 0o755))

	got, err := h.ApplyLevel(&LevelUpdateRequest{Interval: ptr(12)})
	require.Error(t, err)
	assert.Equal(t, 12, got.IntervalSeconds)
	assert.Equal(t, 12, h.cfg.Thresholds().IntervalSeconds)
	assert.Equal(t, []int{12}, mon.intervals, "scheduler follows the in-memory interval")
}

func TestValidate(t *testing.T) {
	assert.Nil(t, Validate(&IntervalRequest{Seconds: ptr(0)}))

	verr := Validate(&IntervalRequest{})
	require.NotNil(t, verr)
	assert.Equal(t, "seconds is required", verr.Error())

	verr = Validate(&EventsRequest{Filter: "audio"})
	require.NotNil(t, verr)
	assert.Equal(t, "filter must be one of: alert capture config", verr.Error())
}

func TestMutatingCommandRequiresAuthorization(t *testing.T) {
	h, mon, _ := newTestHandler(t)
	send := make(chan any, 4)

	h.Handle(command(t, "interval/set", map[string]any{"seconds": 3}), send, false, func() {})

	resp := receive(t, send)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, ErrUnauthorized.Error(), resp["error"])
	assert.Empty(t, mon.intervals)
}

func TestIntervalSet(t *testing.T) {
	h, mon, _ := newTestHandler(t)
	send := make(chan any, 4)

	h.Handle(command(t, "interval/set", map[string]any{"seconds": 3}), send, true, func() {})

	assert.Equal(t, true, receive(t, send)["success"])
	assert.Equal(t, []int{3}, mon.intervals)
	assert.Equal(t, 3, h.cfg.Thresholds().IntervalSeconds)
}

func TestNotificationTestIsAsync(t *testing.T) {
	h, _, tester := newTestHandler(t)
	tester.err = errors.New("smtp down")
	send := make(chan any, 4)

	h.Handle(command(t, "notifications/test/email", nil), send, true, func() {})

	assert.Equal(t, "email", <-tester.channels)
	resp := receive(t, send)
	assert.Equal(t, "notifications/test/email_result", resp["type"])
	assert.Equal(t, "smtp down", resp["error"])
}

func TestConfigGetHidesSecrets(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.cfg.MQTT.Password = "hunter2"
	send := make(chan any, 4)

	h.Handle(command(t, "config/get", nil), send, false, func() {})

	msg := <-send
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.Contains(t, string(raw), `"has_password":true`)
}

func TestEventsGet(t *testing.T) {
	h, _, _ := newTestHandler(t)
	logger, err := eventlog.NewLogger(h.eventPath)
	require.NoError(t, err)
	require.NoError(t, logger.LogInterval(5, 10))
	require.NoError(t, logger.Close())

	page, err := h.Events(&EventsRequest{Filter: "config"})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, eventlog.IntervalChanged, page.Events[0].Type)
	assert.False(t, page.HasMore)

	send := make(chan any, 4)
	h.Handle(command(t, "events/get", map[string]any{"filter": "bogus"}), send, false, func() {})
	assert.Equal(t, false, receive(t, send)["success"])
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "levelwatch.local", true},
		{"http://localhost:3000", "levelwatch.local", true},
		{"http://levelwatch.local", "levelwatch.local:8080", true},
		{"http://192.168.1.20", "levelwatch.local", true},
		{"https://evil.example.com", "levelwatch.local", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, checkOrigin(r), "origin %q", tt.origin)
	}
}
