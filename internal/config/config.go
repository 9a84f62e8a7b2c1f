// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/zwfm-levelwatch/internal/scheduler"
	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort             = 8080
	DefaultStationName         = "ZuidWest FM"
	DefaultSerial              = "levelwatch"
	DefaultDynamic             = true
	DefaultDynamicAlertOffset  = 6.0
	DefaultDynamicNormalOffset = 3.0
	DefaultFixedAlertDBFS      = -16.0
	DefaultFixedNormalDBFS     = -20.0
	DefaultInterval            = scheduler.DefaultInterval
	DefaultZabbixPort          = 10051
	DefaultMQTTClientPrefix    = "levelwatch-"
	DefaultDBusBus             = "session"
)

// Validation patterns define regular expressions for configuration value validation.
var (
	// Station name: any printable characters except control chars (blocks CRLF injection in emails)
	stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
	// Serial is used as an MQTT topic level and must not contain separators or wildcards.
	serialPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port   int    `json:"port" yaml:"port"`       // HTTP server port
	APIKey string `json:"api_key" yaml:"api_key"` // Required for mutating API calls when set
}

// StationConfig identifies this installation.
type StationConfig struct {
	Name   string `json:"name" yaml:"name"`     // Station display name
	Serial string `json:"serial" yaml:"serial"` // Device identifier used in MQTT topics
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	Device     string `json:"device" yaml:"device"`           // Substring of the capture device name (empty = default)
	SampleRate int    `json:"sample_rate" yaml:"sample_rate"` // Requested sample rate (0 = device default)
	Channels   int    `json:"channels" yaml:"channels"`       // Requested channel count (0 = device default)
	Backend    string `json:"backend" yaml:"backend"`         // malgo backend name (empty = auto)
}

// LevelConfig holds alert thresholds. Pointer fields distinguish an explicit zero from unset.
type LevelConfig struct {
	Dynamic       *bool    `json:"dynamic" yaml:"dynamic"`               // Thresholds relative to ambient
	DynamicAlert  *float64 `json:"dynamic_alert" yaml:"dynamic_alert"`   // dB above ambient to enter alert
	DynamicNormal *float64 `json:"dynamic_normal" yaml:"dynamic_normal"` // dB above ambient to leave alert
	FixedAlert    *float64 `json:"fixed_alert" yaml:"fixed_alert"`       // dBFS to enter alert
	FixedNormal   *float64 `json:"fixed_normal" yaml:"fixed_normal"`     // dBFS to leave alert
	Interval      *int     `json:"interval" yaml:"interval"`             // Evaluation period in seconds
}

// MQTTConfig holds broker settings for level publication.
type MQTTConfig struct {
	Broker      string `json:"broker" yaml:"broker"`             // Broker URL, e.g. tcp://host:1883 (empty = disabled)
	ClientID    string `json:"client_id" yaml:"client_id"`       // Client ID (empty = derived from serial)
	Username    string `json:"username" yaml:"username"`         // Optional username
	Password    string `json:"password" yaml:"password"`         // Optional password
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"` // Prepended to every topic
	QoS         byte   `json:"qos" yaml:"qos"`                   // QoS for level and event messages
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" yaml:"url"` // Webhook URL for alert transitions
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" yaml:"tenant_id"`         // Azure AD tenant ID
	ClientID     string `json:"client_id" yaml:"client_id"`         // App registration client ID
	ClientSecret string `json:"client_secret" yaml:"client_secret"` // App registration client secret
	FromAddress  string `json:"from_address" yaml:"from_address"`   // Shared mailbox sender address
	Recipients   string `json:"recipients" yaml:"recipients"`       // Comma-separated recipient addresses
}

// ZabbixConfig holds Zabbix trapper settings.
type ZabbixConfig struct {
	Server string `json:"server" yaml:"server"` // Zabbix server or proxy host
	Port   int    `json:"port" yaml:"port"`     // Trapper port
	Host   string `json:"host" yaml:"host"`     // Monitored host name
	Key    string `json:"key" yaml:"key"`       // Trapper item key
}

// S3Config holds transition archive settings.
type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	Region          string `json:"region" yaml:"region"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"`
	Email   EmailConfig   `json:"email" yaml:"email"`
	Zabbix  ZabbixConfig  `json:"zabbix" yaml:"zabbix"`
	S3      S3Config      `json:"s3" yaml:"s3"`
}

// EventLogConfig holds the event log location.
type EventLogConfig struct {
	Path string `json:"path" yaml:"path"` // JSON lines file (empty = platform default)
}

// DBusConfig holds D-Bus signal settings.
type DBusConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Bus     string `json:"bus" yaml:"bus"` // "session" or "system"
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system" yaml:"system"`
	Station       StationConfig       `json:"station" yaml:"station"`
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Level         LevelConfig         `json:"level" yaml:"level"`
	MQTT          MQTTConfig          `json:"mqtt" yaml:"mqtt"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	EventLog      EventLogConfig      `json:"event_log" yaml:"event_log"`
	DBus          DBusConfig          `json:"dbus" yaml:"dbus"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Path returns the file the configuration is persisted to.
func (c *Config) Path() string {
	return c.filePath
}

// isYAML reports whether the file is YAML, based on its extension.
func (c *Config) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(c.filePath))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads config from file, creating a default if none exists.
// A new file gets a freshly generated API key.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if c.System.APIKey == "" {
			key, err := GenerateAPIKey()
			if err != nil {
				return util.WrapError("generate API key", err)
			}
			c.System.APIKey = key
			slog.Info("created configuration with new API key", "path", c.filePath)
		}
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if c.isYAML() {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	name := c.Station.Name
	if name == "" || len(name) > 30 || !stationNamePattern.MatchString(name) {
		return fmt.Errorf("%w: station name %q must be 1-30 printable characters", ErrInvalidConfig, name)
	}
	if !serialPattern.MatchString(c.Station.Serial) {
		return fmt.Errorf("%w: serial %q may only contain letters, digits, '.', '_' and '-'", ErrInvalidConfig, c.Station.Serial)
	}
	if c.System.Port < 1 || c.System.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.System.Port)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos %d must be 0, 1 or 2", ErrInvalidConfig, c.MQTT.QoS)
	}
	if c.DBus.Bus != "session" && c.DBus.Bus != "system" {
		return fmt.Errorf("%w: dbus bus %q must be session or system", ErrInvalidConfig, c.DBus.Bus)
	}

	if t := c.thresholdsLocked(); t.Inverted() {
		enter, leave := t.Bounds(0)
		slog.Warn("alert threshold is not above normal threshold, alerts will not settle",
			"mode", t.Mode(), "alert", enter, "normal", leave)
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.Station.Name == "" {
		c.Station.Name = DefaultStationName
	}
	if c.Station.Serial == "" {
		c.Station.Serial = DefaultSerial
	}
	if c.Level.Dynamic == nil {
		c.Level.Dynamic = ptr(DefaultDynamic)
	}
	if c.Level.DynamicAlert == nil {
		c.Level.DynamicAlert = ptr(DefaultDynamicAlertOffset)
	}
	if c.Level.DynamicNormal == nil {
		c.Level.DynamicNormal = ptr(DefaultDynamicNormalOffset)
	}
	if c.Level.FixedAlert == nil {
		c.Level.FixedAlert = ptr(DefaultFixedAlertDBFS)
	}
	if c.Level.FixedNormal == nil {
		c.Level.FixedNormal = ptr(DefaultFixedNormalDBFS)
	}
	c.Level.Interval = ptr(scheduler.ClampInterval(deref(c.Level.Interval, DefaultInterval)))
	if c.Notifications.Zabbix.Port == 0 {
		c.Notifications.Zabbix.Port = DefaultZabbixPort
	}
	if c.DBus.Bus == "" {
		c.DBus.Bus = DefaultDBusBus
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	var data []byte
	var err error
	if c.isYAML() {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Thresholds ---

// Thresholds returns the thresholds for one evaluation.
func (c *Config) Thresholds() types.ThresholdConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholdsLocked()
}

func (c *Config) thresholdsLocked() types.ThresholdConfig {
	return types.ThresholdConfig{
		Dynamic:             deref(c.Level.Dynamic, DefaultDynamic),
		DynamicAlertOffset:  deref(c.Level.DynamicAlert, DefaultDynamicAlertOffset),
		DynamicNormalOffset: deref(c.Level.DynamicNormal, DefaultDynamicNormalOffset),
		FixedAlertDBFS:      deref(c.Level.FixedAlert, DefaultFixedAlertDBFS),
		FixedNormalDBFS:     deref(c.Level.FixedNormal, DefaultFixedNormalDBFS),
		IntervalSeconds:     scheduler.ClampInterval(deref(c.Level.Interval, DefaultInterval)),
	}
}

// LevelUpdate carries a partial threshold change. Nil fields are left unchanged.
type LevelUpdate struct {
	Dynamic       *bool
	DynamicAlert  *float64
	DynamicNormal *float64
	FixedAlert    *float64
	FixedNormal   *float64
	Interval      *int
}

// UpdateLevel applies u, clamps the interval, saves and returns the new thresholds.
// The returned thresholds are in effect even when saving fails.
func (c *Config) UpdateLevel(u LevelUpdate) (types.ThresholdConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u.Dynamic != nil {
		c.Level.Dynamic = ptr(*u.Dynamic)
	}
	if u.DynamicAlert != nil {
		c.Level.DynamicAlert = ptr(*u.DynamicAlert)
	}
	if u.DynamicNormal != nil {
		c.Level.DynamicNormal = ptr(*u.DynamicNormal)
	}
	if u.FixedAlert != nil {
		c.Level.FixedAlert = ptr(*u.FixedAlert)
	}
	if u.FixedNormal != nil {
		c.Level.FixedNormal = ptr(*u.FixedNormal)
	}
	if u.Interval != nil {
		c.Level.Interval = ptr(scheduler.ClampInterval(*u.Interval))
	}

	t := c.thresholdsLocked()
	if t.Inverted() {
		slog.Warn("alert threshold is not above normal threshold, alerts will not settle", "mode", t.Mode())
	}
	return t, c.saveLocked()
}

// --- Getters and setters for individual settings ---

// APIKey returns the key required for mutating API calls.
func (c *Config) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.APIKey
}

// GraphConfig returns a copy of the current Graph/Email configuration.
func (c *Config) GraphConfig() types.GraphConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.GraphConfig{
		TenantID:     c.Notifications.Email.TenantID,
		ClientID:     c.Notifications.Email.ClientID,
		ClientSecret: c.Notifications.Email.ClientSecret,
		FromAddress:  c.Notifications.Email.FromAddress,
		Recipients:   c.Notifications.Email.Recipients,
	}
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort int
	APIKey  string

	// Station
	StationName string
	Serial      string

	// Audio
	AudioDevice     string
	AudioSampleRate int
	AudioChannels   int
	AudioBackend    string

	// Level
	Thresholds types.ThresholdConfig

	// MQTT
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
	MQTTQoS         byte

	// Notifications
	WebhookURL        string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string
	Zabbix            types.ZabbixConfig
	S3                types.S3Config

	// Event log
	EventLogPath string

	// D-Bus
	DBusEnabled bool
	DBusBus     string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := &c.Notifications
	return Snapshot{
		WebPort: c.System.Port,
		APIKey:  c.System.APIKey,

		StationName: c.Station.Name,
		Serial:      c.Station.Serial,

		AudioDevice:     c.Audio.Device,
		AudioSampleRate: c.Audio.SampleRate,
		AudioChannels:   c.Audio.Channels,
		AudioBackend:    c.Audio.Backend,

		Thresholds: c.thresholdsLocked(),

		MQTTBroker:      c.MQTT.Broker,
		MQTTClientID:    cmp.Or(c.MQTT.ClientID, DefaultMQTTClientPrefix+c.Station.Serial),
		MQTTUsername:    c.MQTT.Username,
		MQTTPassword:    c.MQTT.Password,
		MQTTTopicPrefix: c.MQTT.TopicPrefix,
		MQTTQoS:         c.MQTT.QoS,

		WebhookURL:        n.Webhook.URL,
		GraphTenantID:     n.Email.TenantID,
		GraphClientID:     n.Email.ClientID,
		GraphClientSecret: n.Email.ClientSecret,
		GraphFromAddress:  n.Email.FromAddress,
		GraphRecipients:   n.Email.Recipients,
		Zabbix: types.ZabbixConfig{
			Server: n.Zabbix.Server,
			Port:   cmp.Or(n.Zabbix.Port, DefaultZabbixPort),
			Host:   n.Zabbix.Host,
			Key:    n.Zabbix.Key,
		},
		S3: types.S3Config{
			Endpoint:        n.S3.Endpoint,
			Region:          n.S3.Region,
			Bucket:          n.S3.Bucket,
			Prefix:          n.S3.Prefix,
			AccessKeyID:     n.S3.AccessKeyID,
			SecretAccessKey: n.S3.SecretAccessKey,
		},

		EventLogPath: c.EventLog.Path,

		DBusEnabled: c.DBus.Enabled,
		DBusBus:     cmp.Or(c.DBus.Bus, DefaultDBusBus),
	}
}

// HasMQTT reports whether a broker is configured.
func (s *Snapshot) HasMQTT() bool {
	return s.MQTTBroker != ""
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret,
		s.GraphFromAddress, s.GraphRecipients)
}

// HasZabbix reports whether Zabbix trapper notifications are configured.
func (s *Snapshot) HasZabbix() bool {
	return util.IsConfigured(s.Zabbix.Server, s.Zabbix.Host, s.Zabbix.Key)
}

// HasS3 reports whether the S3 archive is configured.
func (s *Snapshot) HasS3() bool {
	return s.S3.IsConfigured()
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}

func ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
