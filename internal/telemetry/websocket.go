// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketConfig configures the websocket transport.
type WebSocketConfig struct {
	// WebRoot, when set, is served as static files for non-upgrade requests
	// on "/" (the browser visualizer).
	WebRoot string
	// WriteTimeout bounds every Send.
	WriteTimeout time.Duration
	// EventBuffer is the capacity of the Events channel.
	EventBuffer int
	// ReadLimit caps inbound message size in bytes.
	ReadLimit int64
}

// DefaultWebSocketConfig returns a 5 ms write timeout and small inbound limit.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout: 5 * time.Millisecond,
		EventBuffer:  256,
		ReadLimit:    4096,
	}
}

// WebSocketTransport accepts websocket subscribers on "/" and "/ws".
type WebSocketTransport struct {
	cfg    WebSocketConfig
	logger *zap.Logger

	upgrader websocket.Upgrader
	events   chan Event
	closed   chan struct{}

	mu    sync.Mutex
	conns map[string]*websocket.Conn

	server   *http.Server
	listener net.Listener
}

// NewWebSocketTransport creates a transport; call Start to listen.
func NewWebSocketTransport(cfg WebSocketConfig, logger *zap.Logger) *WebSocketTransport {
	def := DefaultWebSocketConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	return &WebSocketTransport{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // the visualizer may be served from anywhere on the LAN
			},
		},
		events: make(chan Event, cfg.EventBuffer),
		closed: make(chan struct{}),
		conns:  make(map[string]*websocket.Conn),
	}
}

// Name implements Transport.
func (t *WebSocketTransport) Name() string { return "websocket" }

// Events implements Transport.
func (t *WebSocketTransport) Events() <-chan Event { return t.events }

// Handler returns the HTTP handler serving websocket upgrades and, when
// configured, the static web client.
func (t *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", t.serveWS)

	var files http.Handler
	if t.cfg.WebRoot != "" {
		files = http.FileServer(http.Dir(t.cfg.WebRoot))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			t.serveWS(w, r)
			return
		}
		if files == nil {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
	return mux
}

// Start listens on port (0 picks a free port, see Addr).
func (t *WebSocketTransport) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("websocket: listen on port %d: %w", port, err)
	}
	t.listener = ln
	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("websocket server stopped", zap.Error(err))
		}
	}()
	t.logger.Info("websocket server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (t *WebSocketTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *WebSocketTransport) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	conn.SetReadLimit(t.cfg.ReadLimit)

	id := uuid.NewString()
	t.mu.Lock()
	t.conns[id] = conn
	t.mu.Unlock()

	if !t.emit(Event{Kind: EventConnect, ID: id, Remote: r.RemoteAddr}) {
		t.forget(id)
		conn.Close()
		return
	}
	go t.readPump(id, conn)
}

func (t *WebSocketTransport) readPump(id string, conn *websocket.Conn) {
	defer func() {
		t.forget(id)
		conn.Close()
		t.emit(Event{Kind: EventDisconnect, ID: id})
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Debug("websocket read error", zap.String("subscriber", id), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !t.emit(Event{Kind: EventMessage, ID: id, Payload: data}) {
			return
		}
	}
}

// emit queues an event; it gives up once the transport is closed.
func (t *WebSocketTransport) emit(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.closed:
		return false
	}
}

func (t *WebSocketTransport) forget(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
}

func (t *WebSocketTransport) conn(id string) (*websocket.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[id]
	return c, ok
}

// Send writes one text message with the configured write deadline.
func (t *WebSocketTransport) Send(id string, payload []byte) error {
	c, ok := t.conn(id)
	if !ok {
		return fmt.Errorf("websocket: send to %s: %w", id, ErrUnknownSubscriber)
	}
	if err := c.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("websocket: set write deadline: %w", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("websocket: write to %s: %w", id, err)
	}
	return nil
}

// Drop closes a subscriber's connection. Its read pump then reports the
// disconnect.
func (t *WebSocketTransport) Drop(id string) error {
	c, ok := t.conn(id)
	if !ok {
		return fmt.Errorf("websocket: drop %s: %w", id, ErrUnknownSubscriber)
	}
	t.forget(id)
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
	return c.Close()
}

// Close stops the HTTP server and closes every connection.
func (t *WebSocketTransport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}

	var err error
	if t.server != nil {
		err = t.server.Close()
	}

	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*websocket.Conn)
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	return err
}
