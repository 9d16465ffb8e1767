package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const providerMQTT = "mqtt"

// DefaultMQTTTopic is the topic alerts are published to when none is set.
const DefaultMQTTTopic = "fallwatch/alerts"

// ErrMQTTTimeout is returned when the broker does not acknowledge in time.
var ErrMQTTTimeout = errors.New("notify: mqtt broker timeout")

// MQTTConfig configures publishing alerts to an MQTT broker, e.g. for a
// home-automation hub or a nurse-call bridge.
type MQTTConfig struct {
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool

	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// publisher is the part of mqtt.Client used for sending.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each alert as a JSON message.
type MQTT struct {
	cfg    MQTTConfig
	pub    publisher
	client mqtt.Client
	logger *slog.Logger
}

// NewMQTT connects to the broker. The client reconnects on its own after
// the initial connection succeeds.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, wrap(providerMQTT, ErrMissingRecipient)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("fallwatch-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, wrap(providerMQTT, ErrMQTTTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, wrap(providerMQTT, fmt.Errorf("connect %s: %w", cfg.Broker, err))
	}

	m := newMQTT(cfg, client)
	m.client = client
	m.logger.Info("connected to broker", "broker", cfg.Broker, "topic", m.cfg.Topic)
	return m, nil
}

func newMQTT(cfg MQTTConfig, pub publisher) *MQTT {
	if cfg.Topic == "" {
		cfg.Topic = DefaultMQTTTopic
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MQTT{cfg: cfg, pub: pub, logger: cfg.Logger.With("component", "notify.mqtt")}
}

func (m *MQTT) SendAlert(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(webhookPayload{Alert: a, Title: a.Title(), Text: a.Text()})
	if err != nil {
		return wrap(providerMQTT, err)
	}

	token := m.pub.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return wrap(providerMQTT, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return wrap(providerMQTT, fmt.Errorf("publish %s: %w", m.cfg.Topic, err))
	}

	m.logger.Debug("alert published", "alert", a.ID, "topic", m.cfg.Topic)
	return nil
}

func (m *MQTT) Name() string { return providerMQTT }

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

var _ Notifier = (*MQTT)(nil)
