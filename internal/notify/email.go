package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

// GraphConfig is the configuration for email notifications.
type GraphConfig = types.GraphConfig

// transitionEmail returns the subject and body for a transition.
func transitionEmail(station string, t *types.Transition) (subject, body string) {
	if t.To.IsAlert() {
		subject = "[ALERT] Loud Event Detected - " + station
		body = fmt.Sprintf(
			"A loud event was detected.\n\n"+
				"Level:     %.1f dBFS\n"+
				"Ambient:   %.1f dBFS\n"+
				"Threshold: %.1f dBFS (%s)\n"+
				"Time:      %s\n\n"+
				"The alert is ongoing.",
			t.LevelDBFS, t.AmbientDBFS, t.EnterDBFS, t.Mode, util.HumanTime(t.Timestamp),
		)
		return subject, body
	}

	subject = "[OK] Level Back To Normal - " + station
	body = fmt.Sprintf(
		"The level is back to normal.\n\n"+
			"Level:        %.1f dBFS\n"+
			"Ambient:      %.1f dBFS\n"+
			"Threshold:    %.1f dBFS (%s)\n"+
			"Alert lasted: %s\n"+
			"Time:         %s",
		t.LevelDBFS, t.AmbientDBFS, t.LeaveDBFS, t.Mode, util.FormatDuration(t.Duration), util.HumanTime(t.Timestamp),
	)
	return subject, body
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *GraphConfig, station string) error {
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("create Graph client: %w", err)
	}

	if err := client.ValidateAuth(ctx); err != nil {
		return err
	}

	subject := "[TEST] " + station
	body := fmt.Sprintf(
		"Test email from %s.\n\n"+
			"Time: %s\n\n"+
			"Microsoft Graph configuration is working correctly.",
		AppName, util.HumanTime(time.Now()),
	)

	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
