package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

// Webhook event names.
const (
	EventLoudDetected = "loud_detected"
	EventLoudCleared  = "loud_cleared"
	EventTest         = "test"
)

var (
	// ErrNotConfigured is returned by test sends for a channel without configuration.
	ErrNotConfigured = errors.New("notification channel not configured")
	// ErrUnknownChannel is returned for a channel name Test does not know.
	ErrUnknownChannel = errors.New("unknown notification channel")
)

// webhookClient is shared by all webhook deliveries.
var webhookClient = &http.Client{Timeout: 10000 * time.Millisecond}

// Transition webhooks are retried on transport errors and 5xx responses.
const webhookAttempts = 3

var newWebhookBackoff = func() *util.Backoff {
	return util.NewBackoff(2*time.Second, 30*time.Second)
}

var (
	// errWebhookStatus marks a non-2xx response.
	errWebhookStatus = errors.New("webhook returned error")
	// errWebhookServer marks a 5xx response.
	errWebhookServer = errors.New("server error")
)

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event       string              `json:"event"`
	ID          string              `json:"id,omitempty"`
	Station     string              `json:"station"`
	Serial      string              `json:"serial"`
	LevelDBFS   float64             `json:"level_dbfs,omitempty"`
	AmbientDBFS float64             `json:"ambient_dbfs,omitempty"`
	EnterDBFS   float64             `json:"enter_dbfs,omitempty"`
	LeaveDBFS   float64             `json:"leave_dbfs,omitempty"`
	Mode        types.ThresholdMode `json:"mode,omitempty"`
	DurationMs  int64               `json:"duration_ms,omitempty"`
	Message     string              `json:"message,omitempty"`
	Timestamp   string              `json:"timestamp"`
}

// newTransitionPayload builds the webhook body for a transition.
func newTransitionPayload(station, serial string, t *types.Transition) *WebhookPayload {
	p := &WebhookPayload{
		Event:       EventLoudCleared,
		ID:          t.ID,
		Station:     station,
		Serial:      serial,
		LevelDBFS:   t.LevelDBFS,
		AmbientDBFS: t.AmbientDBFS,
		EnterDBFS:   t.EnterDBFS,
		LeaveDBFS:   t.LeaveDBFS,
		Mode:        t.Mode,
		Timestamp:   timestampUTC(t.Timestamp),
	}
	if t.To.IsAlert() {
		p.Event = EventLoudDetected
	} else {
		p.DurationMs = t.Duration.Milliseconds()
	}
	return p
}

// SendTransitionWebhook notifies the webhook of an alert transition.
func SendTransitionWebhook(ctx context.Context, webhookURL, station, serial string, t *types.Transition) error {
	payload := newTransitionPayload(station, serial, t)
	return util.Retry(ctx, newWebhookBackoff(), webhookAttempts, isRetryableWebhook, func() error {
		return sendWebhook(ctx, webhookURL, payload)
	})
}

// isRetryableWebhook reports whether a failed delivery may succeed on a later attempt.
func isRetryableWebhook(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, errWebhookServer) || !errors.Is(err, errWebhookStatus)
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(ctx context.Context, webhookURL, station, serial string) error {
	if webhookURL == "" {
		return fmt.Errorf("%w: webhook URL", ErrNotConfigured)
	}

	return sendWebhook(ctx, webhookURL, &WebhookPayload{
		Event:     EventTest,
		Station:   station,
		Serial:    serial,
		Message:   "This is a test notification from " + station,
		Timestamp: timestampUTC(time.Now()),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(ctx context.Context, webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", AppName)

	resp, err := webhookClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %w: status %d", errWebhookStatus, errWebhookServer, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", errWebhookStatus, resp.StatusCode)
	}

	return nil
}
