// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_telemetry/internal/orientation"
)

func startWebSocket(t *testing.T, cfg WebSocketConfig) (*WebSocketTransport, *Broadcaster, string) {
	t.Helper()
	// Read pumps may still log after the test returns, so no test logger.
	logger := zap.NewNop()
	tr := NewWebSocketTransport(cfg, logger)
	b := NewBroadcaster(DefaultConfig(), NewJSONEncoder(), logger, tr)
	require.NoError(t, b.Start(0))
	t.Cleanup(func() { _ = b.Close() })

	addr, ok := tr.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tr, b, fmt.Sprintf("ws://127.0.0.1:%d", addr.Port)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// pollUntil drives the broadcaster like the sampling loop until cond holds.
func pollUntil(t *testing.T, b *Broadcaster, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		b.Poll()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func TestWebSocketPublishAndDisconnect(t *testing.T) {
	_, b, url := startWebSocket(t, WebSocketConfig{WriteTimeout: time.Second})

	c1 := dial(t, url)
	c2 := dial(t, url+"/ws")
	pollUntil(t, b, func() bool { return b.SubscriberCount() == 2 })

	b.Publish(orientation.Pose{Pitch: 1, Roll: 2, Yaw: 3}, nil)

	for _, c := range []*websocket.Conn{c1, c2} {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		mt, data, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.JSONEq(t, `{"pitch":"1.00","roll":"2.00","yaw":"3.00"}`, string(data))
	}

	require.NoError(t, c1.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	pollUntil(t, b, func() bool { return b.SubscriberCount() == 1 })
}

func TestWebSocketCalibrateCommand(t *testing.T) {
	_, b, url := startWebSocket(t, WebSocketConfig{})
	var calls atomic.Int32
	b.OnCalibrate(func() { calls.Add(1) })

	c := dial(t, url)
	pollUntil(t, b, func() bool { return b.SubscriberCount() == 1 })

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("calibrate")))
	pollUntil(t, b, func() bool { return calls.Load() == 1 })
}

func TestWebSocketSendToUnknownSubscriber(t *testing.T) {
	tr := NewWebSocketTransport(WebSocketConfig{}, zap.NewNop())
	err := tr.Send("nobody", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownSubscriber)
	assert.ErrorIs(t, tr.Drop("nobody"), ErrUnknownSubscriber)
	assert.Nil(t, tr.Addr())
	assert.NoError(t, tr.Close())
}

func TestWebSocketDropClosesPeer(t *testing.T) {
	tr, b, url := startWebSocket(t, WebSocketConfig{})
	c := dial(t, url)
	pollUntil(t, b, func() bool { return b.SubscriberCount() == 1 })

	id := b.Subscribers()[0].ID
	require.NoError(t, tr.Drop(id))

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)

	assert.ErrorIs(t, tr.Send(id, []byte("x")), ErrUnknownSubscriber)
}

func TestWebSocketServesStaticFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>imu</h1>"), 0o644))

	tr := NewWebSocketTransport(WebSocketConfig{WebRoot: root}, zap.NewNop())
	srv := httptest.NewServer(tr.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<h1>imu</h1>")

	bare := httptest.NewServer(NewWebSocketTransport(WebSocketConfig{}, zap.NewNop()).Handler())
	defer bare.Close()
	resp, err = http.Get(bare.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
