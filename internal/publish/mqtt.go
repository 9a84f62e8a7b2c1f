// Package publish delivers level reports and alert transitions to external systems.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oszuidwest/zwfm-levelwatch/internal/types"
	"github.com/oszuidwest/zwfm-levelwatch/internal/util"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttQuiesceMs      = 250
)

// ErrMQTTConnect is returned when the initial broker connection fails.
var ErrMQTTConnect = errors.New("mqtt connect failed")

// MQTTConfig holds the broker settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Serial      string
	QoS         byte
}

// mqttClient is the subset of mqtt.Client used for publishing.
type mqttClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

type levelMessage struct {
	State   bool    `json:"state"`
	Level   float64 `json:"level"`
	Ambient float64 `json:"ambient"`
}

type alertMessage struct {
	State     bool                `json:"state"`
	ID        string              `json:"id"`
	Level     float64             `json:"level"`
	Ambient   float64             `json:"ambient"`
	Mode      types.ThresholdMode `json:"mode"`
	Threshold float64             `json:"threshold"`
	Timestamp int64               `json:"timestamp"`
}

type connectMessage struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// MQTT publishes level reports and transitions to an MQTT broker.
type MQTT struct {
	client mqtt.Client
	pub    mqttClient
	prefix string
	serial string
	qos    byte
}

// NewMQTT creates an MQTT publisher. The connection is made by Connect.
func NewMQTT(cfg MQTTConfig) *MQTT {
	m := &MQTT{
		prefix: cfg.TopicPrefix,
		serial: cfg.Serial,
		qos:    min(cfg.QoS, 2),
	}

	offline, _ := json.Marshal(connectMessage{Connected: false})
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(mqttConnectTimeout).
		SetWill(m.topic("connect", m.serial), string(offline), 0, true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("mqtt connection lost", "error", err)
		})

	m.client = mqtt.NewClient(opts)
	m.pub = m.client
	return m
}

// Connect starts the broker connection. Reconnects happen in the background.
func (m *MQTT) Connect(ctx context.Context) error {
	if err := waitToken(ctx, m.client.Connect()); err != nil {
		return fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	return nil
}

func (m *MQTT) onConnect(_ mqtt.Client) {
	addr := localIPv4()
	slog.Info("mqtt connected", "address", addr)
	payload, _ := json.Marshal(connectMessage{Connected: true, Address: addr})
	m.pub.Publish(m.topic("connect", m.serial), 0, true, payload)
}

// topic joins the configured prefix with the given levels.
func (m *MQTT) topic(levels ...string) string {
	return path.Join(append([]string{m.prefix}, levels...)...)
}

// PublishLevel publishes the report to level/<serial>.
func (m *MQTT) PublishLevel(ctx context.Context, r *types.LevelReport) error {
	return m.publish(ctx, m.topic("level", m.serial), false, levelMessage{
		State:   r.State.IsAlert(),
		Level:   r.LevelDBFS,
		Ambient: r.AmbientDBFS,
	})
}

// PublishTransition publishes the transition to event/<serial>/alert.
func (m *MQTT) PublishTransition(ctx context.Context, t *types.Transition) error {
	threshold := t.LeaveDBFS
	if t.To.IsAlert() {
		threshold = t.EnterDBFS
	}
	return m.publish(ctx, m.topic("event", m.serial, t.Event), true, alertMessage{
		State:     t.To.IsAlert(),
		ID:        t.ID,
		Level:     t.LevelDBFS,
		Ambient:   t.AmbientDBFS,
		Mode:      t.Mode,
		Threshold: threshold,
		Timestamp: t.Timestamp.Unix(),
	})
}

func (m *MQTT) publish(ctx context.Context, topic string, retained bool, msg any) error {
	// Messages are dropped while the client reconnects.
	if !m.pub.IsConnectionOpen() {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return util.WrapError("marshal mqtt message", err)
	}
	if err := waitToken(ctx, m.pub.Publish(topic, m.qos, retained, payload)); err != nil {
		return util.WrapError("publish "+topic, err)
	}
	return nil
}

// Close announces the disconnect and closes the connection.
func (m *MQTT) Close() error {
	if m.client == nil {
		return nil
	}
	if m.client.IsConnectionOpen() {
		payload, _ := json.Marshal(connectMessage{Connected: false})
		m.client.Publish(m.topic("connect", m.serial), 0, true, payload).WaitTimeout(time.Second)
	}
	m.client.Disconnect(mqttQuiesceMs)
	return nil
}

// waitToken waits for the token or the context, whichever comes first.
func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// localIPv4 returns the first non-loopback IPv4 address of the host.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String()
			}
		}
	}
	return ""
}
