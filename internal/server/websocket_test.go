package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/sofarelay/internal/role"
)

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func waitForClients(t *testing.T, s *Server, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		n, err := s.Hub().ClientCount(ctx)
		return err == nil && n == want
	}, receiveTimeout, 10*time.Millisecond)
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, msg, err := conn.ReadMessage()
	require.Errorf(t, err, "unexpected message %s", msg)
}

func TestRelayOverWebSocket(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	url := wsURL(ts.URL)

	admin := dial(t, url, adminHeaders())
	env := readEnvelope(t, admin)
	require.Equal(t, EventInit, env.Event)
	assert.JSONEq(t, `{"sofa":null,"scooters":{}}`, string(env.Data))

	a := dial(t, url, deliveryHeaders())
	writeEvent(t, a, EventScooterLocation, latLng{Lat: 1, Lng: 1})

	for _, conn := range []*websocket.Conn{admin, a} {
		env := readEnvelope(t, conn)
		assert.Equal(t, EventScooterUpdate, env.Event)
		assert.JSONEq(t, `{"id":1,"lat":1,"lng":1}`, string(env.Data))
	}

	writeEvent(t, admin, EventAdminLocation, latLng{Lat: 52.52, Lng: 13.405})
	for _, conn := range []*websocket.Conn{admin, a} {
		env := readEnvelope(t, conn)
		assert.Equal(t, EventSofaUpdate, env.Event)
		assert.JSONEq(t, `{"lat":52.52,"lng":13.405}`, string(env.Data))
	}

	closeGracefully(t, a)
	env = readEnvelope(t, admin)
	assert.Equal(t, EventScooterDisconnected, env.Event)
	assert.JSONEq(t, `1`, string(env.Data))
	waitForClients(t, s, 1)

	b := dial(t, url, deliveryHeaders())
	writeEvent(t, b, EventScooterLocation, latLng{Lat: 2, Lng: 2})
	env = readEnvelope(t, admin)
	assert.Equal(t, EventScooterUpdate, env.Event)
	assert.JSONEq(t, `{"id":1,"lat":2,"lng":2}`, string(env.Data))
}

func TestRoleMismatchOverWebSocket(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	url := wsURL(ts.URL)

	admin := dial(t, url, adminHeaders())
	readEnvelope(t, admin)
	delivery := dial(t, url, deliveryHeaders())
	waitForClients(t, s, 2)

	writeEvent(t, admin, EventScooterLocation, latLng{Lat: 1, Lng: 1})
	writeEvent(t, delivery, EventAdminLocation, latLng{Lat: 2, Lng: 2})
	require.NoError(t, delivery.WriteMessage(websocket.TextMessage, []byte("not json")))

	expectNoMessage(t, admin, 200*time.Millisecond)
	expectNoMessage(t, delivery, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := s.Hub().Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Sofa)
	assert.Empty(t, snap.Scooters)
}

func TestTokenRoleMode(t *testing.T) {
	cfg := testConfig()
	cfg.RoleMode = RoleModeToken
	cfg.TokenSecret = validSecret
	_, ts := newTestServer(t, cfg)
	url := wsURL(ts.URL)

	token, err := role.IssueToken([]byte(validSecret), role.Admin, time.Minute)
	require.NoError(t, err)

	// a localhost referer alone no longer grants admin
	spoofed := dial(t, url, adminHeaders())
	expectNoMessage(t, spoofed, 200*time.Millisecond)

	admin := dial(t, url+"?token="+token, deliveryHeaders())
	env := readEnvelope(t, admin)
	assert.Equal(t, EventInit, env.Event)
}

func TestDisallowedOriginIsRejected(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"http://localhost:3000"}
	_, ts := newTestServer(t, cfg)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL(ts.URL), deliveryHeaders())
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := dial(t, wsURL(ts.URL), adminHeaders())
	assert.Equal(t, EventInit, readEnvelope(t, admin).Event)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 64
	s, ts := newTestServer(t, cfg)
	url := wsURL(ts.URL)

	admin := dial(t, url, adminHeaders())
	readEnvelope(t, admin)
	delivery := dial(t, url, deliveryHeaders())
	waitForClients(t, s, 2)

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'x'
	}
	writeEvent(t, delivery, EventScooterLocation, map[string]string{"note": string(big)})

	env := readEnvelope(t, admin)
	assert.Equal(t, EventScooterDisconnected, env.Event)
	waitForClients(t, s, 1)
}

func TestRapidUpdatesAreAllRelayed(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	url := wsURL(ts.URL)

	admin := dial(t, url, adminHeaders())
	readEnvelope(t, admin)
	delivery := dial(t, url, deliveryHeaders())
	waitForClients(t, s, 2)

	const updates = 50
	for i := 0; i < updates; i++ {
		writeEvent(t, delivery, EventScooterLocation, latLng{Lat: float64(i), Lng: 1})
	}

	for i := 0; i < updates; i++ {
		env := readEnvelope(t, admin)
		require.Equal(t, EventScooterUpdate, env.Event)
		var got latLng
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, float64(i), got.Lat)
	}
}

func TestLargePositionIsRelayed(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	url := wsURL(ts.URL)

	admin := dial(t, url, adminHeaders())
	readEnvelope(t, admin)
	delivery := dial(t, url, deliveryHeaders())
	waitForClients(t, s, 2)

	note := strings.Repeat("x", 8*1024)
	writeEvent(t, delivery, EventScooterLocation, map[string]string{"lat": "1", "note": note})

	env := readEnvelope(t, admin)
	require.Equal(t, EventScooterUpdate, env.Event)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, note, got["note"])
	assert.EqualValues(t, 1, got["id"])
	waitForClients(t, s, 2)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	admin := dial(t, wsURL(ts.URL), adminHeaders())
	readEnvelope(t, admin)

	require.NoError(t, s.Hub().Shutdown(2*time.Second))

	require.NoError(t, admin.SetReadDeadline(time.Now().Add(receiveTimeout)))
	_, _, err := admin.ReadMessage()
	assert.Error(t, err)
}
