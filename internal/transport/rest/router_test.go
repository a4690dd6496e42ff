package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"lototet/internal/cache"
	"lototet/internal/service"
	"lototet/internal/transport/relay"
	"lototet/internal/transport/rest/handler"
	"lototet/internal/transport/ws"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	srv *httptest.Server
	hub *ws.Hub
	net *relay.Network
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	leases := cache.NewMemoryPeerCache()
	leaseSvc := service.NewLeaseService("test-secret")
	hub := ws.NewHub(leases, leaseSvc, time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(&Container{
		LeaseService: leaseSvc,
		Leases:       leases,
		Hub:          hub,
		PublicURL:    "https://loto.example/join",
		Logger:       logger,
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/peers"
	return &fixture{srv: srv, hub: hub, net: relay.NewNetwork(wsURL, logger)}
}

func (f *fixture) do(t *testing.T, method, path, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouter_RoomStatusFollowsHostPresence(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/v1/rooms/abc234", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	host, err := f.net.Open(context.Background(), "loto-ABC234", "")
	require.NoError(t, err)
	defer host.Close()

	res = f.do(t, http.MethodGet, "/v1/rooms/abc234", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var status handler.RoomStatus
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.Equal(t, "ABC234", status.RoomCode)
	assert.Equal(t, "loto-ABC234", status.HostPeerID)
	assert.True(t, status.Open)
	assert.Equal(t, "https://loto.example/join?room=ABC234", status.JoinURL)
}

func TestRouter_RejectsShortCode(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/v1/rooms/ABC", "", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRouter_QRIsPNG(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/v1/rooms/ABC234/qr", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))

	head := make([]byte, 8)
	_, err := res.Body.Read(head)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), head)
}

func TestRouter_ScanResolvesJoinURL(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodPost, "/v1/rooms/scan", "", []byte(`{"text":"https://loto.example/join?room=xyz789"}`))
	require.Equal(t, http.StatusOK, res.StatusCode)

	var status handler.RoomStatus
	require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
	assert.Equal(t, "XYZ789", status.RoomCode)
	assert.False(t, status.Open)
}

func TestRouter_ReleaseLease(t *testing.T) {
	f := newFixture(t)
	peer, err := f.net.Open(context.Background(), "loto-ABC234", "")
	require.NoError(t, err)
	token := peer.Token()

	res := f.do(t, http.MethodDelete, "/v1/leases", token, nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	require.NoError(t, peer.Close())
	require.Eventually(t, func() bool { return !f.hub.Online("loto-ABC234") }, 2*time.Second, 10*time.Millisecond)

	res = f.do(t, http.MethodDelete, "/v1/leases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = f.do(t, http.MethodDelete, "/v1/leases", token, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	again, err := f.net.Open(context.Background(), "loto-ABC234", "")
	require.NoError(t, err)
	again.Close()
}
