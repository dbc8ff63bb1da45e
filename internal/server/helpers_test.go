package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/sofarelay/internal/location"
	"github.com/Tyrowin/sofarelay/internal/metrics"
	"github.com/Tyrowin/sofarelay/internal/role"
)

const receiveTimeout = 2 * time.Second

// newTestHub starts a hub with fresh state and metrics and stops it when the
// test ends.
func newTestHub(t *testing.T, policy location.IDPolicy) *Hub {
	t.Helper()

	h := NewHub(location.NewState(policy), zaptest.NewLogger(t), metrics.NewRelay(metrics.NewRegistry()))
	go h.Run()
	t.Cleanup(func() {
		_ = h.Shutdown(time.Second)
	})
	return h
}

// newFakeClient returns a client without a network connection; the test
// reads its send channel directly.
func newFakeClient(h *Hub, r role.Role) *Client {
	return NewClient(nil, h, "192.0.2.1:1234", r, NewConfig())
}

func registerFake(t *testing.T, h *Hub, r role.Role) *Client {
	t.Helper()
	c := newFakeClient(h, r)
	require.NoError(t, h.Register(c))
	return c
}

// sendEvent feeds an inbound frame to the hub as if c had read it.
func sendEvent(t *testing.T, h *Hub, c *Client, event, data string) {
	t.Helper()
	select {
	case h.inbound <- inboundEvent{client: c, event: event, data: json.RawMessage(data)}:
	case <-time.After(receiveTimeout):
		t.Fatalf("hub did not accept %s", event)
	}
}

// syncHub waits until the hub has processed every request sent before it.
func syncHub(t *testing.T, h *Hub) location.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), receiveTimeout)
	defer cancel()
	snap, err := h.Snapshot(ctx)
	require.NoError(t, err)
	return snap
}

// receive pops the next envelope queued for c.
func receive(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for message")
	}
	return Envelope{}
}

func requireEmpty(t *testing.T, clients ...*Client) {
	t.Helper()
	for i, c := range clients {
		require.Equalf(t, 0, len(c.send), "client %d has queued messages", i)
	}
}

func requireClosed(t *testing.T, c *Client) {
	t.Helper()
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-time.After(receiveTimeout):
			t.Fatal("send channel was not closed")
		}
	}
}

func testConfig() *Config {
	cfg := NewConfig()
	cfg.StaticDir = ""
	return cfg
}

// newTestServer builds a Server behind an httptest server.
func newTestServer(t *testing.T, cfg *Config) (*Server, *httptest.Server) {
	t.Helper()

	s, err := New(cfg, zaptest.NewLogger(t), metrics.NewRegistry())
	require.NoError(t, err)
	s.StartHub()

	ts := httptest.NewServer(s.SetupRoutes())
	t.Cleanup(func() {
		ts.Close()
		_ = s.Hub().Shutdown(time.Second)
	})
	return s, ts
}

func wsURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// dial opens a WebSocket connection with the given handshake headers.
func dial(t *testing.T, url string, headers http.Header) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func adminHeaders() http.Header {
	h := http.Header{}
	h.Set("Referer", "http://localhost:3000/")
	h.Set("Origin", "http://localhost:3000")
	return h
}

func deliveryHeaders() http.Header {
	h := http.Header{}
	h.Set("Referer", "https://abcd.ngrok.io/")
	h.Set("Origin", "https://abcd.ngrok.io")
	return h
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(receiveTimeout)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: payload}))
}

func closeGracefully(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}
