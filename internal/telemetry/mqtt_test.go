// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/orientation"
)

type fakeToken struct {
	err      error
	timedOut bool
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Payload() []byte { return m.payload }

type fakeClient struct {
	mqtt.Client
	opts *mqtt.ClientOptions

	connectErr error
	publishErr error
	open       atomic.Bool

	mu          sync.Mutex
	subscribed  []string
	published   map[string][][]byte
	onControl   mqtt.MessageHandler
	disconnects int
}

func (c *fakeClient) Connect() mqtt.Token {
	if c.connectErr != nil {
		return &fakeToken{err: c.connectErr}
	}
	c.open.Store(true)
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(c)
	}
	return &fakeToken{}
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open.Load() }

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	c.onControl = cb
	return &fakeToken{}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &fakeToken{err: c.publishErr}
	}
	c.published[topic] = append(c.published[topic], payload.([]byte))
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
	c.open.Store(false)
}

func newFakeMQTT(t *testing.T, cfg MQTTConfig) (*MQTTTransport, *fakeClient) {
	t.Helper()
	fc := &fakeClient{published: make(map[string][][]byte)}
	tr := NewMQTTTransport(cfg, zap.NewNop())
	tr.newClient = func(o *mqtt.ClientOptions) mqtt.Client {
		fc.opts = o
		return fc
	}
	return tr, fc
}

func nextEvent(t *testing.T, tr Transport) Event {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestMQTTConnectAnnouncesBroker(t *testing.T) {
	tr, fc := newFakeMQTT(t, DefaultMQTTConfig())
	require.NoError(t, tr.Start(0))

	ev := nextEvent(t, tr)
	assert.Equal(t, EventConnect, ev.Kind)
	assert.Equal(t, brokerSubscriberID, ev.ID)
	assert.Equal(t, "tcp://localhost:1883", ev.Remote)
	assert.Equal(t, []string{"imu/control"}, fc.subscribed)
	assert.Equal(t, "imu-telemetry", fc.opts.ClientID)
	assert.True(t, fc.opts.AutoReconnect)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, fc.disconnects)
}

func TestMQTTConnectError(t *testing.T) {
	tr, fc := newFakeMQTT(t, DefaultMQTTConfig())
	fc.connectErr = errors.New("connection refused")

	err := tr.Start(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, fc.connectErr)
}

func TestMQTTSendPublishesToTelemetryTopic(t *testing.T) {
	tr, fc := newFakeMQTT(t, DefaultMQTTConfig())
	require.NoError(t, tr.Start(0))

	require.NoError(t, tr.Send(brokerSubscriberID, []byte(`{"pitch":"0.00"}`)))
	assert.Equal(t, [][]byte{[]byte(`{"pitch":"0.00"}`)}, fc.published["imu/telemetry"])

	assert.ErrorIs(t, tr.Send("other", nil), ErrUnknownSubscriber)

	fc.publishErr = errors.New("queue full")
	assert.ErrorIs(t, tr.Send(brokerSubscriberID, nil), fc.publishErr)

	fc.open.Store(false)
	assert.Error(t, tr.Send(brokerSubscriberID, nil))
}

func TestMQTTControlAndConnectionLost(t *testing.T) {
	tr, fc := newFakeMQTT(t, DefaultMQTTConfig())
	require.NoError(t, tr.Start(0))
	nextEvent(t, tr)

	buf := []byte("calibrate")
	fc.onControl(fc, fakeMessage{payload: buf})
	buf[0] = 'X' // paho may reuse the buffer

	ev := nextEvent(t, tr)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "calibrate", string(ev.Payload))

	fc.opts.OnConnectionLost(fc, errors.New("eof"))
	ev = nextEvent(t, tr)
	assert.Equal(t, EventDisconnect, ev.Kind)
	assert.Equal(t, brokerSubscriberID, ev.ID)
}

func TestMQTTFullBufferDropsOnlyMessages(t *testing.T) {
	cfg := DefaultMQTTConfig()
	cfg.EventBuffer = 1
	tr, fc := newFakeMQTT(t, cfg)
	require.NoError(t, tr.Start(0))
	nextEvent(t, tr)

	fc.onControl(fc, fakeMessage{payload: []byte("first")})
	fc.onControl(fc, fakeMessage{payload: []byte("second")})

	lost := make(chan struct{})
	go func() {
		fc.opts.OnConnectionLost(fc, errors.New("eof"))
		close(lost)
	}()

	ev := nextEvent(t, tr)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "first", string(ev.Payload))

	ev = nextEvent(t, tr)
	assert.Equal(t, EventDisconnect, ev.Kind)
	assert.Equal(t, brokerSubscriberID, ev.ID)

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("connection lost handler still blocked")
	}
	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}

func TestMQTTLifecycleEventReleasedOnClose(t *testing.T) {
	cfg := DefaultMQTTConfig()
	cfg.EventBuffer = 1
	tr, fc := newFakeMQTT(t, cfg)
	require.NoError(t, tr.Start(0))

	// Buffer holds the initial connect; the disconnect has to wait.
	lost := make(chan struct{})
	go func() {
		fc.opts.OnConnectionLost(fc, errors.New("eof"))
		close(lost)
	}()

	require.NoError(t, tr.Close())
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("connection lost handler still blocked after close")
	}
}

func TestMQTTDropReannounces(t *testing.T) {
	cfg := DefaultMQTTConfig()
	cfg.ReannounceDelay = 10 * time.Millisecond
	tr, fc := newFakeMQTT(t, cfg)
	require.NoError(t, tr.Start(0))
	nextEvent(t, tr)

	require.NoError(t, tr.Drop(brokerSubscriberID))
	ev := nextEvent(t, tr)
	assert.Equal(t, EventConnect, ev.Kind)
	assert.Equal(t, brokerSubscriberID, ev.ID)

	assert.ErrorIs(t, tr.Drop("other"), ErrUnknownSubscriber)

	// No re-announce while disconnected.
	fc.open.Store(false)
	require.NoError(t, tr.Drop(brokerSubscriberID))
	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMQTTBrokerAsSubscriber(t *testing.T) {
	tr, fc := newFakeMQTT(t, DefaultMQTTConfig())
	b := NewBroadcaster(DefaultConfig(), NewJSONEncoder(), zap.NewNop(), tr)
	require.NoError(t, b.Start(0))
	defer b.Close()

	b.Poll()
	require.Equal(t, 1, b.SubscriberCount())
	assert.Equal(t, "mqtt", b.Subscribers()[0].Transport())

	b.Publish(orientation.Pose{Roll: 1}, nil)
	require.Len(t, fc.published["imu/telemetry"], 1)
	assert.JSONEq(t, `{"pitch":"0.00","roll":"1.00","yaw":"0.00"}`, string(fc.published["imu/telemetry"][0]))
}
