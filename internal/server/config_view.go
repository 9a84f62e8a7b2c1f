package server

import (
	"github.com/oszuidwest/zwfm-levelwatch/internal/config"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
)

// ConfigView is the configuration as shown to clients. Secrets are reduced to flags.
type ConfigView struct {
	Station    string                `json:"station"`
	Serial     string                `json:"serial"`
	Port       int                   `json:"port"`
	HasAPIKey  bool                  `json:"has_api_key"`
	Audio      AudioView             `json:"audio"`
	Thresholds types.ThresholdConfig `json:"thresholds"`
	MQTT       MQTTView              `json:"mqtt"`
	Webhook    string                `json:"webhook_url"`
	Email      EmailView             `json:"email"`
	Zabbix     types.ZabbixConfig    `json:"zabbix"`
	S3         S3View                `json:"s3"`
	EventLog   string                `json:"event_log"`
	DBus       DBusView              `json:"dbus"`
}

// AudioView describes the capture settings.
type AudioView struct {
	Device     string `json:"device"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Backend    string `json:"backend"`
}

// MQTTView describes the broker settings.
type MQTTView struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	HasPassword bool   `json:"has_password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
}

// EmailView describes the Microsoft Graph settings.
type EmailView struct {
	TenantID    string `json:"tenant_id"`
	ClientID    string `json:"client_id"`
	HasSecret   bool   `json:"has_secret"`
	FromAddress string `json:"from_address"`
	Recipients  string `json:"recipients"`
}

// S3View describes the transition archive.
type S3View struct {
	Endpoint       string `json:"endpoint"`
	Region         string `json:"region"`
	Bucket         string `json:"bucket"`
	Prefix         string `json:"prefix"`
	HasCredentials bool   `json:"has_credentials"`
}

// DBusView describes the D-Bus signal settings.
type DBusView struct {
	Enabled bool   `json:"enabled"`
	Bus     string `json:"bus"`
}

// BuildConfigView returns the client view of a configuration snapshot.
func BuildConfigView(cfg config.Snapshot) ConfigView {
	return ConfigView{
		Station:   cfg.StationName,
		Serial:    cfg.Serial,
		Port:      cfg.WebPort,
		HasAPIKey: cfg.APIKey != "",
		Audio: AudioView{
			Device:     cfg.AudioDevice,
			SampleRate: cfg.AudioSampleRate,
			Channels:   cfg.AudioChannels,
			Backend:    cfg.AudioBackend,
		},
		Thresholds: cfg.Thresholds,
		MQTT: MQTTView{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			HasPassword: cfg.MQTTPassword != "",
			TopicPrefix: cfg.MQTTTopicPrefix,
			QoS:         cfg.MQTTQoS,
		},
		Webhook: cfg.WebhookURL,
		Email: EmailView{
			TenantID:    cfg.GraphTenantID,
			ClientID:    cfg.GraphClientID,
			HasSecret:   cfg.GraphClientSecret != "",
			FromAddress: cfg.GraphFromAddress,
			Recipients:  cfg.GraphRecipients,
		},
		Zabbix: cfg.Zabbix,
		S3: S3View{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			HasCredentials: cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "",
		},
		EventLog: cfg.EventLogPath,
		DBus: DBusView{
			Enabled: cfg.DBusEnabled,
			Bus:     cfg.DBusBus,
		},
	}
}
