// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry fans orientation estimates out to network subscribers.
//
// The Broadcaster is driven from the sampling loop: Publish after every
// estimate, Poll once per tick. Transports run their own I/O goroutines but
// only report through their Events channel, so the subscriber set is touched
// by the loop goroutine alone and needs no locking.
package telemetry

import (
	"bytes"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/imu"
	"github.com/relabs-tech/imu_telemetry/internal/orientation"
)

// CalibrateCommand is the only inbound command recognized.
const CalibrateCommand = "calibrate"

// Config holds the broadcaster tuning.
type Config struct {
	Verbosity Verbosity
	// MaxEventsPerPoll bounds the work done by one Poll.
	MaxEventsPerPoll int
}

// DefaultConfig returns basic verbosity and 64 events per poll.
func DefaultConfig() Config {
	return Config{Verbosity: Basic, MaxEventsPerPoll: 64}
}

// Subscriber is one connected peer.
type Subscriber struct {
	ID          string
	Remote      string
	ConnectedAt time.Time

	transport Transport
	alive     bool
}

// Transport returns the name of the transport the subscriber is on.
func (s *Subscriber) Transport() string { return s.transport.Name() }

// Stats are cumulative counters.
type Stats struct {
	Published    uint64 // Publish calls that reached at least one subscriber
	Sent         uint64 // successful per-subscriber sends
	SendFailures uint64
	Calibrations uint64
}

// Broadcaster manages subscribers across transports and publishes messages.
type Broadcaster struct {
	cfg        Config
	transports []Transport
	encoder    Encoder
	logger     *zap.Logger

	subs  []*Subscriber
	index map[string]*Subscriber

	onCalibrate func()
	stats       Stats
}

// NewBroadcaster creates a broadcaster over the given transports.
func NewBroadcaster(cfg Config, encoder Encoder, logger *zap.Logger, transports ...Transport) *Broadcaster {
	if cfg.MaxEventsPerPoll <= 0 {
		cfg.MaxEventsPerPoll = DefaultConfig().MaxEventsPerPoll
	}
	return &Broadcaster{
		cfg:        cfg,
		transports: transports,
		encoder:    encoder,
		logger:     logger,
		index:      make(map[string]*Subscriber),
	}
}

// OnCalibrate registers the hook run when a subscriber asks for calibration.
// The hook runs on the Poll caller's goroutine and may block it.
func (b *Broadcaster) OnCalibrate(fn func()) {
	b.onCalibrate = fn
}

// Start starts every transport. Calling Start twice is not supported.
func (b *Broadcaster) Start(port int) error {
	for i, t := range b.transports {
		if err := t.Start(port); err != nil {
			for _, started := range b.transports[:i] {
				_ = started.Close()
			}
			return fmt.Errorf("telemetry: start %s transport: %w", t.Name(), err)
		}
		b.logger.Info("telemetry transport started", zap.String("transport", t.Name()), zap.Int("port", port))
	}
	return nil
}

// Close stops every transport.
func (b *Broadcaster) Close() error {
	var firstErr error
	for _, t := range b.transports {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("telemetry: close %s transport: %w", t.Name(), err)
		}
	}
	return firstErr
}

// Publish encodes the estimate once and sends it to every live subscriber.
// A failed send marks that subscriber for removal on the next Poll; the
// remaining subscribers still get the message. With no subscribers nothing
// is encoded or sent.
func (b *Broadcaster) Publish(pose orientation.Pose, sample *imu.Sample) {
	if b.SubscriberCount() == 0 {
		return
	}

	payload, err := b.encoder.Encode(pose, sample, b.cfg.Verbosity)
	if err != nil {
		b.logger.Error("telemetry encode failed", zap.Error(err))
		return
	}

	b.stats.Published++
	for _, s := range b.subs {
		if !s.alive {
			continue
		}
		if err := s.transport.Send(s.ID, payload); err != nil {
			s.alive = false
			b.stats.SendFailures++
			b.logger.Warn("telemetry send failed, dropping subscriber",
				zap.String("transport", s.transport.Name()),
				zap.String("subscriber", s.ID),
				zap.Error(err))
			continue
		}
		b.stats.Sent++
	}
}

// Poll reaps subscribers whose last send failed, then handles pending
// transport events without blocking. A calibration request runs the hook at
// most once per Poll, after the events have been drained.
func (b *Broadcaster) Poll() {
	b.reap()

	calibrate := false
	handled := 0
	for _, t := range b.transports {
	drain:
		for handled < b.cfg.MaxEventsPerPoll {
			select {
			case ev, ok := <-t.Events():
				if !ok {
					break drain
				}
				handled++
				if b.handle(t, ev) {
					calibrate = true
				}
			default:
				break drain
			}
		}
	}

	if calibrate && b.onCalibrate != nil {
		b.stats.Calibrations++
		b.onCalibrate()
	}
}

// handle applies one event and reports whether it was a calibration request.
func (b *Broadcaster) handle(t Transport, ev Event) bool {
	key := subscriberKey(t, ev.ID)

	switch ev.Kind {
	case EventConnect:
		if old, ok := b.index[key]; ok {
			b.remove(old)
		}
		s := &Subscriber{
			ID:          ev.ID,
			Remote:      ev.Remote,
			ConnectedAt: time.Now(),
			transport:   t,
			alive:       true,
		}
		b.subs = append(b.subs, s)
		b.index[key] = s
		b.logger.Info("subscriber connected",
			zap.String("transport", t.Name()),
			zap.String("subscriber", ev.ID),
			zap.String("remote", ev.Remote),
			zap.Int("subscribers", b.SubscriberCount()))

	case EventDisconnect:
		if s, ok := b.index[key]; ok {
			b.remove(s)
			b.logger.Info("subscriber disconnected",
				zap.String("transport", t.Name()),
				zap.String("subscriber", ev.ID),
				zap.Int("subscribers", b.SubscriberCount()))
		}

	case EventMessage:
		if bytes.Equal(ev.Payload, []byte(CalibrateCommand)) {
			b.logger.Info("calibration requested",
				zap.String("transport", t.Name()),
				zap.String("subscriber", ev.ID))
			return true
		}
		b.logger.Debug("ignoring unrecognized command",
			zap.String("transport", t.Name()),
			zap.String("subscriber", ev.ID),
			zap.Int("bytes", len(ev.Payload)))
	}
	return false
}

func (b *Broadcaster) reap() {
	for _, s := range b.subs {
		if s.alive {
			continue
		}
		if err := s.transport.Drop(s.ID); err != nil {
			b.logger.Debug("drop after failed send", zap.String("subscriber", s.ID), zap.Error(err))
		}
	}
	kept := b.subs[:0]
	for _, s := range b.subs {
		if s.alive {
			kept = append(kept, s)
			continue
		}
		delete(b.index, subscriberKey(s.transport, s.ID))
	}
	clear(b.subs[len(kept):])
	b.subs = kept
}

func (b *Broadcaster) remove(target *Subscriber) {
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	delete(b.index, subscriberKey(target.transport, target.ID))
}

// SubscriberCount returns the number of live subscribers. Advisory only.
func (b *Broadcaster) SubscriberCount() int {
	n := 0
	for _, s := range b.subs {
		if s.alive {
			n++
		}
	}
	return n
}

// Subscribers returns a snapshot of the live subscribers.
func (b *Broadcaster) Subscribers() []Subscriber {
	out := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.alive {
			out = append(out, *s)
		}
	}
	return out
}

// Stats returns the cumulative counters.
func (b *Broadcaster) Stats() Stats { return b.stats }

// Verbosity returns the configured message verbosity.
func (b *Broadcaster) Verbosity() Verbosity { return b.cfg.Verbosity }

func subscriberKey(t Transport, id string) string {
	return t.Name() + "/" + id
}
