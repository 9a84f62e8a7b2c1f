package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Level Watch"

// Channel names accepted by Notifier.Test.
const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
	ChannelZabbix  = "zabbix"
	ChannelS3      = "s3"
)

// sendTimeout bounds a single notification delivery, retries included.
const sendTimeout = 2 * time.Minute

// timestampUTC formats t as UTC RFC3339.
func timestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
