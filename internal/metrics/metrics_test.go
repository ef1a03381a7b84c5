package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestManager_Records(t *testing.T) {
	m := NewManager(DefaultConfig())
	require.True(t, m.Enabled())

	m.RecordTransition("", "disconnected")
	m.RecordTransition("disconnected", "connecting")
	m.RecordTransition("connecting", "connected")
	m.RecordConnectAttempt("open", 120*time.Millisecond)
	m.RecordReconnect("scheduled")
	m.RecordSend("sent")
	m.RecordSend("queued")
	m.RecordQueueDrop()
	m.RecordEvent("open")
	m.RecordHandlerFailure("message")
	m.RecordParseFailure()

	body := scrape(t, m)

	assert.Contains(t, body, `ws_connections{state="connected"} 1`)
	assert.Contains(t, body, `ws_connections{state="disconnected"} 0`)
	assert.Contains(t, body, `ws_connect_attempts_total{outcome="open"} 1`)
	assert.Contains(t, body, `ws_connect_duration_seconds_count{outcome="open"} 1`)
	assert.Contains(t, body, `ws_reconnects_total{decision="scheduled"} 1`)
	assert.Contains(t, body, `ws_outbound_messages_total{result="queued"} 1`)
	assert.Contains(t, body, `ws_outbound_queue_dropped_total 1`)
	assert.Contains(t, body, `ws_events_dispatched_total{kind="open"} 1`)
	assert.Contains(t, body, `ws_handler_failures_total{kind="message"} 1`)
	assert.Contains(t, body, `ws_message_parse_failures_total 1`)
}

func TestManager_TransitionToRemoved(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RecordTransition("", "disconnected")
	m.RecordTransition("disconnected", "")
	m.RecordTransition("connected", "connected")

	assert.Contains(t, scrape(t, m), `ws_connections{state="disconnected"} 0`)
}

func TestNoOpManager(t *testing.T) {
	m := NoOpManager()
	assert.False(t, m.Enabled())
	assert.Nil(t, m.Registry())

	assert.NotPanics(t, func() {
		m.RecordTransition("", "connected")
		m.RecordConnectAttempt("timeout", time.Second)
		m.RecordReconnect("exhausted")
		m.RecordSend("dropped")
		m.RecordQueueDrop()
		m.RecordEvent("close")
		m.RecordHandlerFailure("open")
		m.RecordParseFailure()
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.False(t, m.Enabled())
	assert.NotPanics(t, func() { m.RecordEvent("open") })
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	assert.False(t, NewManager(cfg).Enabled())
}
