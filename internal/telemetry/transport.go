// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import "errors"

// ErrUnknownSubscriber is returned by Send/Drop for an id the transport does
// not (or no longer) know.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// EventKind tells what happened on a transport.
type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is a connect/disconnect notification or an inbound message.
type Event struct {
	Kind    EventKind
	ID      string // subscriber id, unique per transport
	Remote  string // peer address, informational
	Payload []byte // EventMessage only
}

// Transport is the network layer the Broadcaster drives. Implementations may
// run their own goroutines but must only report activity through Events.
type Transport interface {
	// Name identifies the transport in logs and subscriber keys.
	Name() string
	// Start begins accepting subscribers. Transports without a listening
	// socket ignore port.
	Start(port int) error
	// Events delivers connect/disconnect/message events.
	Events() <-chan Event
	// Send delivers one message to one subscriber; it must not block longer
	// than the transport's write timeout.
	Send(id string, payload []byte) error
	// Drop disconnects a subscriber.
	Drop(id string) error
	// Close stops the transport and disconnects everyone.
	Close() error
}
