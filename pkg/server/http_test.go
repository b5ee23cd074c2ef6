package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	srv, err := NewServer(testConfig(), testCatalog(t), testKey(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Test Server", body["name"])
	assert.EqualValues(t, 0, body["sessions"])
	assert.Contains(t, body["protocol"], "Wired")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := startServer(t, nil)
	c := dialRaw(t, srv, "guest", "")
	c.login(t, "guest", "")

	resp, err := http.Get("http://" + srv.HTTPAddr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wired_server_active_sessions")
	assert.Contains(t, string(body), `wired_server_messages_total{direction="in",message="wired.send_login"}`)
	assert.Contains(t, string(body), "wired_wire_handshakes_total")
}

func TestWebSocketRejectsPlainHTTP(t *testing.T) {
	srv, err := NewServer(testConfig(), testCatalog(t), testKey(t))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, srv.Sessions().Count())
}
