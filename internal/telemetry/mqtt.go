// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// brokerSubscriberID is the single pseudo-subscriber an MQTT transport
// exposes: the broker's telemetry topic.
const brokerSubscriberID = "broker"

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	TelemetryTopic string
	ControlTopic   string
	// PublishTimeout bounds Send.
	PublishTimeout time.Duration
	// ConnectTimeout bounds Start.
	ConnectTimeout time.Duration
	// ReannounceDelay is how long after a Drop the broker is offered as a
	// subscriber again.
	ReannounceDelay time.Duration
	EventBuffer     int
}

// DefaultMQTTConfig returns conservative timeouts for a LAN broker.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:          "tcp://localhost:1883",
		ClientID:        "imu-telemetry",
		TelemetryTopic:  "imu/telemetry",
		ControlTopic:    "imu/control",
		PublishTimeout:  5 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		ReannounceDelay: time.Second,
		EventBuffer:     64,
	}
}

// MQTTTransport mirrors every message to a broker topic and accepts control
// commands from a second topic. The broker appears to the Broadcaster as
// one subscriber that connects whenever the client (re)connects.
type MQTTTransport struct {
	cfg    MQTTConfig
	logger *zap.Logger

	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client

	events chan Event
	closed chan struct{}
	once   sync.Once
}

// NewMQTTTransport creates a transport; call Start to connect.
func NewMQTTTransport(cfg MQTTConfig, logger *zap.Logger) *MQTTTransport {
	def := DefaultMQTTConfig()
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ReannounceDelay <= 0 {
		cfg.ReannounceDelay = def.ReannounceDelay
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	return &MQTTTransport{
		cfg:       cfg,
		logger:    logger,
		newClient: mqtt.NewClient,
		events:    make(chan Event, cfg.EventBuffer),
		closed:    make(chan struct{}),
	}
}

// Name implements Transport.
func (t *MQTTTransport) Name() string { return "mqtt" }

// Events implements Transport.
func (t *MQTTTransport) Events() <-chan Event { return t.events }

// Start connects to the broker. port is unused.
func (t *MQTTTransport) Start(int) error {
	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost)

	t.client = t.newClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt: connect to %s: timed out after %s", t.cfg.Broker, t.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", t.cfg.Broker, err)
	}
	t.logger.Info("connected to MQTT broker", zap.String("broker", t.cfg.Broker))
	return nil
}

func (t *MQTTTransport) onConnect(c mqtt.Client) {
	token := c.Subscribe(t.cfg.ControlTopic, 0, t.onControl)
	if token.WaitTimeout(t.cfg.ConnectTimeout) && token.Error() != nil {
		t.logger.Warn("mqtt control subscribe failed", zap.String("topic", t.cfg.ControlTopic), zap.Error(token.Error()))
	} else {
		t.logger.Info("subscribed to MQTT control topic", zap.String("topic", t.cfg.ControlTopic))
	}
	t.emit(Event{Kind: EventConnect, ID: brokerSubscriberID, Remote: t.cfg.Broker})
}

func (t *MQTTTransport) onConnectionLost(_ mqtt.Client, err error) {
	t.logger.Warn("MQTT connection lost", zap.Error(err))
	t.emit(Event{Kind: EventDisconnect, ID: brokerSubscriberID})
}

func (t *MQTTTransport) onControl(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	t.emit(Event{Kind: EventMessage, ID: brokerSubscriberID, Payload: payload})
}

// emit never blocks a paho callback goroutine; events that do not fit are
// dropped.
func (t *MQTTTransport) emit(ev Event) {
	select {
	case <-t.closed:
		return
	default:
	}
	if ev.Kind == EventMessage {
		select {
		case t.events <- ev:
		default:
			t.logger.Warn("mqtt event dropped, buffer full", zap.Stringer("kind", ev.Kind))
		}
		return
	}
	// Lifecycle events wait for room so the subscriber set stays in sync.
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case t.events <- ev:
	case <-t.closed:
	case <-timer.C:
		t.logger.Warn("mqtt lifecycle event dropped, buffer full",
			zap.Stringer("kind", ev.Kind), zap.Duration("waited", t.cfg.ConnectTimeout))
	}
}

// Send publishes payload to the telemetry topic at QoS 0, not retained.
func (t *MQTTTransport) Send(id string, payload []byte) error {
	if id != brokerSubscriberID {
		return fmt.Errorf("mqtt: send to %s: %w", id, ErrUnknownSubscriber)
	}
	if t.client == nil || !t.client.IsConnectionOpen() {
		return errors.New("mqtt: not connected")
	}
	token := t.client.Publish(t.cfg.TelemetryTopic, 0, false, payload)
	if !token.WaitTimeout(t.cfg.PublishTimeout) {
		return fmt.Errorf("mqtt: publish to %s: timed out", t.cfg.TelemetryTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", t.cfg.TelemetryTopic, err)
	}
	return nil
}

// Drop removes the broker as a subscriber; it is offered again after
// ReannounceDelay if the connection is still up.
func (t *MQTTTransport) Drop(id string) error {
	if id != brokerSubscriberID {
		return fmt.Errorf("mqtt: drop %s: %w", id, ErrUnknownSubscriber)
	}
	time.AfterFunc(t.cfg.ReannounceDelay, func() {
		if t.client != nil && t.client.IsConnectionOpen() {
			t.emit(Event{Kind: EventConnect, ID: brokerSubscriberID, Remote: t.cfg.Broker})
		}
	})
	return nil
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		if t.client != nil {
			t.client.Disconnect(250)
		}
	})
	return nil
}
