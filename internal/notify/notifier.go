package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/oszuidwest/zwfm-levelwatch/internal/config"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

// AlertNotifier delivers alert transitions to the configured notification channels.
type AlertNotifier struct {
	cfg *config.Config

	// mu protects the notification state fields below
	mu sync.Mutex

	// Track which notifications have been sent for the current alert
	webhookSent bool
	emailSent   bool
	zabbixSent  bool

	// Cached Graph client for email notifications
	graphClient *GraphClient

	wg sync.WaitGroup
}

// NewAlertNotifier returns an AlertNotifier configured with the given config.
func NewAlertNotifier(cfg *config.Config) *AlertNotifier {
	return &AlertNotifier{cfg: cfg}
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (n *AlertNotifier) getOrCreateGraphClient(cfg *GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.graphClient != nil {
		return n.graphClient, nil
	}

	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient = client
	return client, nil
}

// PublishLevel is a no-op; notifications only follow transitions.
func (n *AlertNotifier) PublishLevel(context.Context, *types.LevelReport) error {
	return nil
}

// PublishTransition starts delivery of a transition and returns immediately.
// Deliveries run detached from ctx so a tick deadline does not cut them short.
func (n *AlertNotifier) PublishTransition(_ context.Context, t *types.Transition) error {
	cfg := n.cfg.Snapshot()
	tr := *t

	if tr.To.IsAlert() {
		n.handleAlertStart(&cfg, &tr)
	} else {
		n.handleAlertEnd(&cfg, &tr)
	}

	if cfg.HasS3() {
		n.goSend(func() {
			n.deliver(ChannelS3, func(ctx context.Context) error {
				return ArchiveTransition(ctx, &cfg.S3, cfg.StationName, cfg.Serial, &tr)
			})
		})
	}
	return nil
}

// handleAlertStart triggers notifications when an alert begins.
func (n *AlertNotifier) handleAlertStart(cfg *config.Snapshot, t *types.Transition) {
	n.trySend(&n.webhookSent, cfg.HasWebhook(), func() { n.sendWebhook(cfg, t) })
	n.trySend(&n.emailSent, cfg.HasGraph(), func() { n.sendEmail(cfg, t) })
	n.trySend(&n.zabbixSent, cfg.HasZabbix(), func() { n.sendZabbix(cfg, t) })
}

// trySend sends a notification if the condition is met and not already sent.
func (n *AlertNotifier) trySend(sent *bool, condition bool, sender func()) {
	n.mu.Lock()
	shouldSend := !*sent && condition
	if shouldSend {
		*sent = true
	}
	n.mu.Unlock()
	if shouldSend {
		n.goSend(sender)
	}
}

// handleAlertEnd triggers recovery notifications when an alert ends.
func (n *AlertNotifier) handleAlertEnd(cfg *config.Snapshot, t *types.Transition) {
	// Only send recovery notifications if we sent the corresponding alert
	n.mu.Lock()
	webhook, email, zabbix := n.webhookSent, n.emailSent, n.zabbixSent
	n.webhookSent, n.emailSent, n.zabbixSent = false, false, false
	n.mu.Unlock()

	if webhook {
		n.goSend(func() { n.sendWebhook(cfg, t) })
	}
	if email {
		n.goSend(func() { n.sendEmail(cfg, t) })
	}
	if zabbix {
		n.goSend(func() { n.sendZabbix(cfg, t) })
	}
}

// Reset forgets which channels sent the current alert, so no recovery follows.
func (n *AlertNotifier) Reset() {
	n.mu.Lock()
	n.webhookSent = false
	n.emailSent = false
	n.zabbixSent = false
	n.mu.Unlock()
}

// Wait blocks until all in-flight deliveries have finished.
func (n *AlertNotifier) Wait() {
	n.wg.Wait()
}

func (n *AlertNotifier) goSend(fn func()) {
	n.wg.Go(func() {
		defer util.LogPanic("notification")
		fn()
	})
}

// deliver runs one send under its own timeout and logs the result.
func (n *AlertNotifier) deliver(channel string, send func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	util.LogNotifyResult(func() error { return send(ctx) }, channel)
}

func (n *AlertNotifier) sendWebhook(cfg *config.Snapshot, t *types.Transition) {
	n.deliver(ChannelWebhook, func(ctx context.Context) error {
		return SendTransitionWebhook(ctx, cfg.WebhookURL, cfg.StationName, cfg.Serial, t)
	})
}

func (n *AlertNotifier) sendZabbix(cfg *config.Snapshot, t *types.Transition) {
	n.deliver(ChannelZabbix, func(ctx context.Context) error {
		return SendTransitionZabbix(ctx, &cfg.Zabbix, t)
	})
}

func (n *AlertNotifier) sendEmail(cfg *config.Snapshot, t *types.Transition) {
	graphCfg := BuildGraphConfig(cfg)
	n.deliver(ChannelEmail, func(ctx context.Context) error {
		client, err := n.getOrCreateGraphClient(graphCfg)
		if err != nil {
			return util.WrapError("create Graph client", err)
		}
		subject, body := transitionEmail(cfg.StationName, t)
		return client.SendMail(ctx, ParseRecipients(graphCfg.Recipients), subject, body)
	})
}

// BuildGraphConfig creates a GraphConfig from the config snapshot.
func BuildGraphConfig(cfg *config.Snapshot) *GraphConfig {
	return &GraphConfig{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		FromAddress:  cfg.GraphFromAddress,
		Recipients:   cfg.GraphRecipients,
	}
}

// Test sends a test notification on one channel.
func (n *AlertNotifier) Test(ctx context.Context, channel string) error {
	cfg := n.cfg.Snapshot()
	switch channel {
	case ChannelWebhook:
		return SendTestWebhook(ctx, cfg.WebhookURL, cfg.StationName, cfg.Serial)
	case ChannelEmail:
		if !cfg.HasGraph() {
			return fmt.Errorf("%w: email", ErrNotConfigured)
		}
		return SendTestEmail(ctx, BuildGraphConfig(&cfg), cfg.StationName)
	case ChannelZabbix:
		return SendTestZabbix(ctx, &cfg.Zabbix)
	case ChannelS3:
		return TestS3(ctx, &cfg.S3)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
}
