// Package eventlog records alert transitions and capture lifecycle events
// in a single JSON lines file.
package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// EventType represents the type of event.
type EventType string

// Alert event types.
const (
	AlertStart EventType = "alert_start"
	AlertEnd   EventType = "alert_end"
)

// Capture event types.
const (
	CaptureStarted EventType = "capture_started"
	CaptureError   EventType = "capture_error"
	CaptureStopped EventType = "capture_stopped"
)

// Config event types.
const (
	IntervalChanged EventType = "interval_changed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	ID        string    `json:"id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// AlertDetails contains alert transition details.
type AlertDetails struct {
	LevelDBFS   float64             `json:"level_dbfs"`
	AmbientDBFS float64             `json:"ambient_dbfs"`
	EnterDBFS   float64             `json:"enter_dbfs"`
	LeaveDBFS   float64             `json:"leave_dbfs"`
	Mode        types.ThresholdMode `json:"mode"`
	DurationMs  int64               `json:"duration_ms,omitempty"`
}

// CaptureDetails contains capture lifecycle details.
type CaptureDetails struct {
	Device     string `json:"device,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IntervalDetails contains an applied interval change.
type IntervalDetails struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "levelwatch", "logs", strconv.Itoa(port), "levelwatch.jsonl")
	default:
		return filepath.Join("/var/log/levelwatch", strconv.Itoa(port), "levelwatch.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

// PublishLevel ignores per-tick reports; only transitions are logged.
func (l *Logger) PublishLevel(context.Context, *types.LevelReport) error {
	return nil
}

// PublishTransition logs an alert_start or alert_end event.
func (l *Logger) PublishTransition(_ context.Context, t *types.Transition) error {
	eventType := AlertEnd
	msg := "alert cleared"
	if t.To.IsAlert() {
		eventType = AlertStart
		msg = "loud event detected"
	}
	details := &AlertDetails{
		LevelDBFS:   t.LevelDBFS,
		AmbientDBFS: t.AmbientDBFS,
		EnterDBFS:   t.EnterDBFS,
		LeaveDBFS:   t.LeaveDBFS,
		Mode:        t.Mode,
	}
	if !t.To.IsAlert() {
		details.DurationMs = t.Duration.Milliseconds()
	}
	return l.Log(&Event{
		Timestamp: t.Timestamp,
		Type:      eventType,
		ID:        t.ID,
		Message:   msg,
		Details:   details,
	})
}

// LogCapture logs a capture lifecycle event.
func (l *Logger) LogCapture(eventType EventType, device string, format types.AudioFormat, errMsg string) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &CaptureDetails{
			Device:     device,
			Channels:   format.Channels,
			SampleRate: format.SampleRate,
			Error:      errMsg,
		},
	})
}

// LogInterval logs an applied interval change.
func (l *Logger) LogInterval(from, to int) error {
	return l.Log(&Event{
		Type:    IntervalChanged,
		Details: &IntervalDetails{From: from, To: to},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterAlert   TypeFilter = "alert"
	FilterCapture TypeFilter = "capture"
	FilterConfig  TypeFilter = "config"
)

// Valid reports whether f is a known filter.
func (f TypeFilter) Valid() bool {
	switch f {
	case FilterAll, FilterAlert, FilterCapture, FilterConfig:
		return true
	}
	return false
}

func (f TypeFilter) matches(t EventType) bool {
	switch f {
	case FilterAlert:
		return IsAlertEvent(t)
	case FilterCapture:
		return IsCaptureEvent(t)
	case FilterConfig:
		return t == IntervalChanged
	default:
		return true
	}
}

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest first,
// and whether more matching events exist beyond the returned page.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// IsAlertEvent reports whether the event type is an alert transition.
func IsAlertEvent(t EventType) bool {
	return t == AlertStart || t == AlertEnd
}

// IsCaptureEvent reports whether the event type is a capture lifecycle event.
func IsCaptureEvent(t EventType) bool {
	return t == CaptureStarted || t == CaptureError || t == CaptureStopped
}
