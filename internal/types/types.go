// Package types provides shared type definitions used across the level watcher.
package types

import (
	"time"
)

// MonitorState represents the current state of the level monitor.
type MonitorState string

const (
	// StateStopped indicates the monitor is not running.
	StateStopped MonitorState = "stopped"
	// StateStarting indicates the monitor is initializing.
	StateStarting MonitorState = "starting"
	// StateRunning indicates the monitor is evaluating levels.
	StateRunning MonitorState = "running"
	// StateStopping indicates the monitor is shutting down.
	StateStopping MonitorState = "stopping"
)

// CaptureState represents the state of the audio capture path.
type CaptureState string

const (
	// CaptureIdle indicates capture has not been started.
	CaptureIdle CaptureState = "idle"
	// CaptureStreaming indicates buffers are being delivered.
	CaptureStreaming CaptureState = "streaming"
	// CaptureUnavailable indicates capture setup failed; the monitor runs without buffers.
	CaptureUnavailable CaptureState = "unavailable"
	// CaptureStopped indicates capture was stopped.
	CaptureStopped CaptureState = "stopped"
)

// AlertState is the output of the hysteresis state machine.
type AlertState string

const (
	// AlertQuiet indicates the level is not considered loud.
	AlertQuiet AlertState = "quiet"
	// AlertActive indicates a loud event is in progress.
	AlertActive AlertState = "alert"
)

// IsAlert reports whether the state is AlertActive.
func (s AlertState) IsAlert() bool {
	return s == AlertActive
}

// ThresholdMode selects how alert thresholds are derived.
type ThresholdMode string

const (
	// ModeDynamic compares the level to the ambient floor plus offsets.
	ModeDynamic ThresholdMode = "dynamic"
	// ModeFixed compares the level to absolute dBFS thresholds.
	ModeFixed ThresholdMode = "fixed"
)

// ThresholdConfig holds the alert thresholds used for one evaluation.
type ThresholdConfig struct {
	Dynamic             bool    `json:"dynamic"`        // Relative to the ambient floor
	DynamicAlertOffset  float64 `json:"dynamic_alert"`  // dB above ambient to enter alert
	DynamicNormalOffset float64 `json:"dynamic_normal"` // dB above ambient to leave alert
	FixedAlertDBFS      float64 `json:"fixed_alert"`    // Absolute dBFS to enter alert
	FixedNormalDBFS     float64 `json:"fixed_normal"`   // Absolute dBFS to leave alert
	IntervalSeconds     int     `json:"interval"`       // Evaluation period in seconds
}

// Mode returns the threshold mode of this configuration.
func (c ThresholdConfig) Mode() ThresholdMode {
	if c.Dynamic {
		return ModeDynamic
	}
	return ModeFixed
}

// Bounds returns the enter and leave thresholds in dBFS for the given ambient floor.
func (c ThresholdConfig) Bounds(ambientDBFS float64) (enter, leave float64) {
	if c.Dynamic {
		return ambientDBFS + c.DynamicAlertOffset, ambientDBFS + c.DynamicNormalOffset
	}
	return c.FixedAlertDBFS, c.FixedNormalDBFS
}

// Inverted reports whether the leave threshold is not below the enter threshold.
// Such a configuration makes the alert latch or flutter.
func (c ThresholdConfig) Inverted() bool {
	if c.Dynamic {
		return c.DynamicAlertOffset <= c.DynamicNormalOffset
	}
	return c.FixedAlertDBFS <= c.FixedNormalDBFS
}

// LevelReport is produced once per evaluation tick.
type LevelReport struct {
	State       AlertState    `json:"state"`            // Alert state after this tick
	LevelDBFS   float64       `json:"level"`            // Instantaneous level of the primary channel
	AmbientDBFS float64       `json:"ambient"`          // Ambient floor after this tick
	Channels    int           `json:"channels"`         // Channels in the peak snapshot
	Peaks       []float64     `json:"peaks"`            // Per-channel normalized peaks
	Mode        ThresholdMode `json:"mode"`             // Threshold mode used
	EnterDBFS   float64       `json:"enter_dbfs"`       // Level that enters alert
	LeaveDBFS   float64       `json:"leave_dbfs"`       // Level that leaves alert
	Bootstrap   bool          `json:"bootstrap"`        // Ambient still in fast-convergence phase
	Tick        uint64        `json:"tick"`             // Tick sequence number, starting at 1
	Timestamp   time.Time     `json:"timestamp"`        // Tick time
	Changed     bool          `json:"changed,omitzero"` // State changed on this tick
}

// Transition describes a change of AlertState.
type Transition struct {
	ID          string        `json:"id"`         // Unique event identifier
	Event       string        `json:"event"`      // Event name ("alert")
	From        AlertState    `json:"from"`       // Previous state
	To          AlertState    `json:"to"`         // New state
	LevelDBFS   float64       `json:"level"`      // Level that caused the transition
	AmbientDBFS float64       `json:"ambient"`    // Ambient floor at the transition
	Mode        ThresholdMode `json:"mode"`       // Threshold mode used
	EnterDBFS   float64       `json:"enter_dbfs"` // Enter threshold at the transition
	LeaveDBFS   float64       `json:"leave_dbfs"` // Leave threshold at the transition
	Duration    time.Duration `json:"duration"`   // Time spent in From, counted from the first tick for the first transition
	Timestamp   time.Time     `json:"timestamp"`  // Tick time of the transition
}

// AlertEventName is the name under which alert transitions are declared.
const AlertEventName = "alert"

// MonitorStatus contains a summary of the monitor's current operational state.
type MonitorStatus struct {
	State           MonitorState `json:"state"`                  // Current monitor state
	Capture         CaptureState `json:"capture"`                // Audio capture state
	CaptureError    string       `json:"capture_error,omitzero"` // Most recent capture error
	Uptime          string       `json:"uptime,omitzero"`        // Time since start
	IntervalSeconds int          `json:"interval"`               // Applied evaluation interval
	Alert           AlertState   `json:"alert"`                  // Current alert state
	AmbientDBFS     float64      `json:"ambient"`                // Current ambient floor
	BootstrapTicks  int          `json:"bootstrap_ticks"`        // Bootstrap ticks consumed
	Ticks           uint64       `json:"ticks"`                  // Ticks evaluated since start
	Format          AudioFormat  `json:"format"`                 // Last reported capture format
}

// AudioFormat describes the negotiated capture format.
type AudioFormat struct {
	Channels   int `json:"channels"`    // Channel count reported by the source
	SampleRate int `json:"sample_rate"` // Sample rate in Hz
}

// WSStatusResponse is sent to clients with full monitor status.
type WSStatusResponse struct {
	Type       string          `json:"type"`       // Message type identifier
	Monitor    MonitorStatus   `json:"monitor"`    // Monitor status
	Thresholds ThresholdConfig `json:"thresholds"` // Current thresholds
	Station    string          `json:"station"`    // Station name
	Serial     string          `json:"serial"`     // Device serial used in topics
	Version    VersionInfo     `json:"version"`    // Version information
}

// WSLevelsResponse is sent to clients with the latest level report.
type WSLevelsResponse struct {
	Type   string      `json:"type"`   // Message type identifier
	Report LevelReport `json:"report"` // Latest report
	Held   []float64   `json:"held"`   // Held per-channel peaks in dBFS
}

// GraphConfig contains Microsoft Graph API settings for email notifications.
type GraphConfig struct {
	TenantID     string `json:"tenant_id,omitempty"`     // Azure AD tenant ID
	ClientID     string `json:"client_id,omitempty"`     // App registration client ID
	ClientSecret string `json:"client_secret,omitempty"` // App registration client secret
	FromAddress  string `json:"from_address,omitempty"`  // Shared mailbox address (sender)
	Recipients   string `json:"recipients,omitempty"`    // Comma-separated recipients
}

// ZabbixConfig contains settings for sending trapper items to a Zabbix server.
type ZabbixConfig struct {
	Server string `json:"server,omitempty"`
	Port   int    `json:"port,omitempty"`
	Host   string `json:"host,omitempty"`
	Key    string `json:"key,omitempty"`
}

// S3Config contains settings for archiving transitions to an S3-compatible bucket.
type S3Config struct {
	Endpoint        string `json:"endpoint,omitempty"`          // S3-compatible endpoint URL (empty = AWS)
	Region          string `json:"region,omitempty"`            // Bucket region
	Bucket          string `json:"bucket,omitempty"`            // Bucket name
	Prefix          string `json:"prefix,omitempty"`            // Key prefix
	AccessKeyID     string `json:"access_key_id,omitempty"`     // Access key ID
	SecretAccessKey string `json:"secret_access_key,omitempty"` // Secret access key
}

// IsConfigured reports whether the bucket and credentials are set.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}

// ShutdownTimeout is the duration to wait for graceful shutdown.
const ShutdownTimeout = 3000 * time.Millisecond
