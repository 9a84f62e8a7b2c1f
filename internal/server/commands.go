package server

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/config"
	"github.com/oszuidwest/zwfm-levelwatch/internal/eventlog"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// Limits for command handling.
const (
	DefaultEventLimit = 50               // Events returned when no limit is given
	TestTimeout       = 30 * time.Second // Upper bound for a notification test
)

// ErrUnauthorized is returned for mutating commands on a connection without the API key.
var ErrUnauthorized = errors.New("unauthorized")

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LevelMonitor is the part of the monitor the handlers use.
type LevelMonitor interface {
	Status() types.MonitorStatus
	LatestReport() (types.LevelReport, bool)
	SetInterval(seconds int) int
}

// ChannelTester sends a test message on a notification channel.
type ChannelTester interface {
	Test(ctx context.Context, channel string) error
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg       *config.Config
	monitor   LevelMonitor
	notifier  ChannelTester
	eventPath string
}

// NewCommandHandler creates a new command handler. eventPath is the event log to read.
func NewCommandHandler(cfg *config.Config, mon LevelMonitor, notifier ChannelTester, eventPath string) *CommandHandler {
	return &CommandHandler{
		cfg:       cfg,
		monitor:   mon,
		notifier:  notifier,
		eventPath: eventPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "level/update", "notifications/test/email").
// Mutating commands are rejected unless authorized is true.
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, authorized bool, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	if isMutating(namespace, action) && !authorized {
		SendError(send, cmd.Type, ErrUnauthorized)
		return
	}

	switch namespace {
	case "level":
		h.handleLevel(action, cmd, send)
	case "interval":
		h.handleInterval(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "config":
		h.handleConfig(action, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

func isMutating(namespace, action string) bool {
	switch namespace {
	case "level":
		return action == "update"
	case "interval":
		return action == "set"
	case "notifications":
		return action == "test"
	}
	return false
}

// --- Namespace handlers ---

// handleLevel routes level/* commands
func (h *CommandHandler) handleLevel(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		var req LevelUpdateRequest
		if !DecodeAndValidate(cmd, send, &req) {
			return
		}
		t, err := h.ApplyLevel(&req)
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, t)
	case "get":
		SendSuccess(send, cmd.Type, h.cfg.Thresholds())
	default:
		slog.Warn("unknown level action", "action", action)
	}
}

// handleInterval routes interval/* commands
func (h *CommandHandler) handleInterval(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "set":
		HandleCommand(cmd, send, func(req *IntervalRequest) error {
			_, err := h.ApplyLevel(&LevelUpdateRequest{Interval: req.Seconds})
			return err
		})
	default:
		slog.Warn("unknown interval action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		var req EventsRequest
		if len(cmd.Data) > 0 && !DecodeAndValidate(cmd, send, &req) {
			return
		}
		page, err := h.Events(&req)
		if err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, page)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleNotifications routes notifications/test/<channel> commands
func (h *CommandHandler) handleNotifications(action, channel string, cmd WSCommand, send chan<- any) {
	if action != "test" {
		slog.Warn("unknown notifications action", "action", action)
		return
	}
	HandleActionAsync(cmd, send, func() (any, error) {
		return nil, h.TestChannel(context.Background(), channel)
	})
}

// handleConfig routes config/* commands
func (h *CommandHandler) handleConfig(action string, send chan<- any) {
	switch action {
	case "get":
		SendData(send, types.WSConfigResponse{
			Type:   "config",
			Config: BuildConfigView(h.cfg.Snapshot()),
		})
	default:
		slog.Warn("unknown config action", "action", action)
	}
}

// handleStatus routes status/* commands. The status push follows every command.
func (h *CommandHandler) handleStatus(action string) {
	if action != "get" {
		slog.Warn("unknown status action", "action", action)
	}
}

// --- Operations shared with the HTTP API ---

// ApplyLevel persists a threshold change and hands a new interval to the monitor.
// Threshold changes take effect on the next tick. The change is in effect even
// when saving fails, so the monitor follows it and the save error is returned.
func (h *CommandHandler) ApplyLevel(req *LevelUpdateRequest) (types.ThresholdConfig, error) {
	t, err := h.cfg.UpdateLevel(req.toUpdate())
	if req.Interval != nil {
		h.monitor.SetInterval(t.IntervalSeconds)
	}
	if err != nil {
		slog.Warn("thresholds applied but not saved", "error", err)
		return t, err
	}
	slog.Info("thresholds updated", "mode", t.Mode(), "interval", t.IntervalSeconds)
	return t, nil
}

// EventPage is one page of the event log.
type EventPage struct {
	Events  []eventlog.Event `json:"events"`
	HasMore bool             `json:"has_more"`
}

// Events reads a page of the event log, newest first.
func (h *CommandHandler) Events(req *EventsRequest) (*EventPage, error) {
	events, more, err := eventlog.ReadLast(h.eventPath, cmp.Or(req.Limit, DefaultEventLimit), req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		return nil, err
	}
	return &EventPage{Events: events, HasMore: more}, nil
}

// TestChannel sends a test notification on channel, bounded by TestTimeout.
func (h *CommandHandler) TestChannel(ctx context.Context, channel string) error {
	ctx, cancel := context.WithTimeout(ctx, TestTimeout)
	defer cancel()
	if err := h.notifier.Test(ctx, channel); err != nil {
		slog.Warn("notification test failed", "channel", channel, "error", err)
		return err
	}
	slog.Info("notification test sent", "channel", channel)
	return nil
}

// Status returns the monitor status.
func (h *CommandHandler) Status() types.MonitorStatus {
	return h.monitor.Status()
}

// LatestReport returns the report of the last tick, if any.
func (h *CommandHandler) LatestReport() (types.LevelReport, bool) {
	return h.monitor.LatestReport()
}
