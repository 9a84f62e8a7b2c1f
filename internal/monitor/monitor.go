// Package monitor provides the level watching engine.
// It connects the audio capture path to the periodic ambient and alert
// evaluation and hands every result to the configured publishers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-levelwatch/internal/audio"
	"github.com/oszuidwest/zwfm-levelwatch/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelwatch/internal/scheduler"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

// ErrAlreadyRunning is returned by Start when the monitor is running.
var ErrAlreadyRunning = errors.New("monitor already running")

// Publisher receives every level report and every alert transition.
type Publisher interface {
	PublishLevel(ctx context.Context, r *types.LevelReport) error
	PublishTransition(ctx context.Context, t *types.Transition) error
}

// ThresholdSource supplies the thresholds for each evaluation.
type ThresholdSource interface {
	Thresholds() types.ThresholdConfig
}

// EventRecorder persists capture and interval events.
type EventRecorder interface {
	LogCapture(eventType eventlog.EventType, device string, format types.AudioFormat, errMsg string) error
	LogInterval(from, to int) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithEventRecorder records capture and interval events.
func WithEventRecorder(r EventRecorder) Option {
	return func(m *Monitor) { m.events = r }
}

// WithDeviceName sets the device name used in capture events.
func WithDeviceName(name string) Option {
	return func(m *Monitor) { m.device = name }
}

// WithIntervalHandler registers a callback for applied interval changes.
func WithIntervalHandler(fn func(old, current int)) Option {
	return func(m *Monitor) { m.intervalHandlers = append(m.intervalHandlers, fn) }
}

// WithResetHandler registers a callback run on Start, after the alert state is reset.
func WithResetHandler(fn func()) Option {
	return func(m *Monitor) { m.resetHandlers = append(m.resetHandlers, fn) }
}

// Monitor owns the level store, the ambient tracker, the alert evaluator and the
// scheduler that drives them.
type Monitor struct {
	thresholds ThresholdSource
	source     audio.Source
	publisher  Publisher
	events     EventRecorder
	device     string

	store   *audio.LevelStore
	meter   *audio.Meter
	ambient *audio.AmbientTracker
	alert   *audio.AlertEvaluator
	sched   *scheduler.Scheduler

	intervalHandlers []func(old, current int)
	resetHandlers    []func()

	mu         sync.RWMutex
	state      types.MonitorState
	capture    types.CaptureState
	captureErr string
	format     types.AudioFormat
	startTime  time.Time
	ticks      uint64
	latest     types.LevelReport
}

// New creates a Monitor. A nil source runs the evaluation without audio input.
func New(thresholds ThresholdSource, source audio.Source, publisher Publisher, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds: thresholds,
		source:     source,
		publisher:  publisher,
		store:      audio.NewLevelStore(),
		ambient:    audio.NewAmbientTracker(),
		alert:      audio.NewAlertEvaluator(),
		state:      types.StateStopped,
		capture:    types.CaptureIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.meter = audio.NewMeter(m.store,
		audio.WithFormatHandler(m.onFormat),
		audio.WithStateHandler(m.onStreamState),
	)
	m.sched = scheduler.New(thresholds.Thresholds().IntervalSeconds, m.tick,
		scheduler.WithChangeHandler(m.onIntervalChanged),
	)
	return m
}

// State returns the current monitor state.
func (m *Monitor) State() types.MonitorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start opens the audio source and starts the scheduler.
// A source that fails to start is reported but does not stop the monitor.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == types.StateRunning || m.state == types.StateStarting {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.state = types.StateStarting
	m.capture = types.CaptureIdle
	m.captureErr = ""
	m.ticks = 0
	m.latest = types.LevelReport{}
	m.store.Reset()
	m.ambient.Reset()
	m.alert.Reset()
	m.mu.Unlock()

	for _, fn := range m.resetHandlers {
		fn()
	}

	m.startSource()

	if err := m.sched.Start(ctx); err != nil {
		_ = m.stopSource()
		m.setState(types.StateStopped)
		return fmt.Errorf("start scheduler: %w", err)
	}

	m.mu.Lock()
	m.state = types.StateRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("level monitor started", "interval", m.sched.Interval())
	return nil
}

func (m *Monitor) startSource() {
	if m.source == nil {
		m.setCaptureError(errors.New("no audio source configured"))
		return
	}
	if err := m.source.Start(m.meter); err != nil {
		slog.Warn("audio capture unavailable, monitoring continues without input", "error", err)
		m.setCaptureError(err)
		return
	}
	m.mu.Lock()
	m.capture = types.CaptureStreaming
	m.mu.Unlock()
}

// Stop stops the scheduler and then the audio source, releasing the source last.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.state == types.StateStopped || m.state == types.StateStopping {
		m.mu.Unlock()
		return nil
	}
	m.state = types.StateStopping
	m.mu.Unlock()

	var errs []error
	if err := m.sched.Stop(types.ShutdownTimeout); err != nil {
		slog.Warn("scheduler did not stop cleanly", "error", err)
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := m.stopSource(); err != nil {
		errs = append(errs, err)
	}

	m.setState(types.StateStopped)
	slog.Info("level monitor stopped")
	return errors.Join(errs...)
}

func (m *Monitor) stopSource() error {
	if m.source == nil {
		return nil
	}
	var errs []error
	if err := m.source.Stop(); err != nil {
		slog.Warn("failed to stop audio capture", "error", err)
		errs = append(errs, fmt.Errorf("stop capture: %w", err))
	}
	if err := m.source.Close(); err != nil {
		slog.Warn("failed to release audio capture", "error", err)
		errs = append(errs, fmt.Errorf("close capture: %w", err))
	}

	m.mu.Lock()
	wasStreaming := m.capture == types.CaptureStreaming
	m.capture = types.CaptureStopped
	format := m.format
	m.mu.Unlock()

	if wasStreaming {
		m.recordCapture(eventlog.CaptureStopped, format, "")
	}
	return errors.Join(errs...)
}

// tick runs one evaluation. It is called from the scheduler goroutine only.
func (m *Monitor) tick(ctx context.Context, now time.Time) {
	defer util.LogPanic("level evaluation")

	cfg := m.thresholds.Thresholds()
	snap := m.store.Snapshot()
	level := audio.DBFS(float64(snap.Primary()))
	amb := m.ambient.Update(level)
	ev := m.alert.Evaluate(level, amb.DBFS, cfg, now)

	peaks := make([]float64, snap.Channels)
	for i := range peaks {
		peaks[i] = float64(snap.Peaks[i])
	}
	report := &types.LevelReport{
		State:       ev.State,
		LevelDBFS:   level,
		AmbientDBFS: amb.DBFS,
		Channels:    snap.Channels,
		Peaks:       peaks,
		Mode:        ev.Mode,
		EnterDBFS:   ev.EnterDBFS,
		LeaveDBFS:   ev.LeaveDBFS,
		Bootstrap:   amb.Bootstrapping(),
		Timestamp:   now,
		Changed:     ev.Changed,
	}

	m.mu.Lock()
	m.ticks++
	report.Tick = m.ticks
	m.latest = *report
	m.mu.Unlock()

	slog.Debug("level evaluated", "level", level, "ambient", amb.DBFS, "state", ev.State, "tick", report.Tick)

	if m.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, m.sched.Period())
	defer cancel()

	if err := m.publisher.PublishLevel(pubCtx, report); err != nil {
		slog.Warn("failed to publish level report", "error", err)
	}

	if !ev.Changed {
		return
	}
	t := &types.Transition{
		ID:          uuid.NewString(),
		Event:       types.AlertEventName,
		From:        ev.Previous,
		To:          ev.State,
		LevelDBFS:   level,
		AmbientDBFS: amb.DBFS,
		Mode:        ev.Mode,
		EnterDBFS:   ev.EnterDBFS,
		LeaveDBFS:   ev.LeaveDBFS,
		Duration:    ev.Held,
		Timestamp:   now,
	}
	slog.Info("alert state changed", "from", t.From, "to", t.To, "level", level, "ambient", amb.DBFS, "mode", t.Mode)
	if err := m.publisher.PublishTransition(pubCtx, t); err != nil {
		slog.Warn("failed to publish alert transition", "id", t.ID, "error", err)
	}
}

func (m *Monitor) onFormat(f audio.Format) {
	format := types.AudioFormat{Channels: f.Channels, SampleRate: f.SampleRate}
	m.mu.Lock()
	m.format = format
	m.mu.Unlock()
	m.recordCapture(eventlog.CaptureStarted, format, "")
}

// onStreamState records failures after startup; Start reports its own.
func (m *Monitor) onStreamState(_, state audio.StreamState, err error) {
	if err == nil || state == audio.StreamStreaming || m.State() != types.StateRunning {
		return
	}
	m.setCaptureError(err)
}

func (m *Monitor) setCaptureError(err error) {
	m.mu.Lock()
	m.capture = types.CaptureUnavailable
	m.captureErr = err.Error()
	format := m.format
	m.mu.Unlock()
	m.recordCapture(eventlog.CaptureError, format, err.Error())
}

func (m *Monitor) recordCapture(eventType eventlog.EventType, format types.AudioFormat, errMsg string) {
	if m.events == nil {
		return
	}
	if err := m.events.LogCapture(eventType, m.device, format, errMsg); err != nil {
		slog.Warn("failed to log capture event", "type", eventType, "error", err)
	}
}

func (m *Monitor) onIntervalChanged(old, current int) {
	if m.events != nil {
		if err := m.events.LogInterval(old, current); err != nil {
			slog.Warn("failed to log interval change", "error", err)
		}
	}
	for _, fn := range m.intervalHandlers {
		fn(old, current)
	}
}

func (m *Monitor) setState(state types.MonitorState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// SetInterval requests a new evaluation interval and returns the clamped value.
// The change is applied by the scheduler before its next tick.
func (m *Monitor) SetInterval(seconds int) int {
	return m.sched.SetInterval(seconds)
}

// Interval returns the applied evaluation interval in seconds.
func (m *Monitor) Interval() int {
	return m.sched.Interval()
}

// LatestReport returns the report of the last tick, if any.
func (m *Monitor) LatestReport() (types.LevelReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ticks == 0 {
		return types.LevelReport{}, false
	}
	r := m.latest
	r.Peaks = append([]float64(nil), m.latest.Peaks...)
	return r, true
}

// Status returns the current monitor status.
func (m *Monitor) Status() types.MonitorStatus {
	amb := m.ambient.State()

	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := ""
	if m.state == types.StateRunning {
		uptime = util.FormatUptime(m.startTime)
	}

	return types.MonitorStatus{
		State:           m.state,
		Capture:         m.capture,
		CaptureError:    m.captureErr,
		Uptime:          uptime,
		IntervalSeconds: m.sched.Interval(),
		Alert:           m.alert.State(),
		AmbientDBFS:     amb.DBFS,
		BootstrapTicks:  amb.BootstrapTicks,
		Ticks:           m.ticks,
		Format:          m.format,
	}
}
