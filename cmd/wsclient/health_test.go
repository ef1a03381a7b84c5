package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/sns-ws/internal/config"
	"github.com/rickgao/sns-ws/internal/connection"
	"github.com/rickgao/sns-ws/internal/metrics"
)

type nopTransport struct{}

func (nopTransport) Send([]byte) error       { return nil }
func (nopTransport) Close(int, string) error { return nil }

func testApp(t *testing.T, openNow bool) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Metrics.Enabled = true

	dialer := connection.DialerFunc(func(_ context.Context, _ string, ev connection.TransportEvents) (connection.Transport, error) {
		if openNow {
			go ev.OnOpen()
		}
		return nopTransport{}, nil
	})

	m := metrics.NewManager(cfg.ToMetricsConfig())
	rc := cfg.ToRegistryConfig()
	rc.EnableLogging = false
	reg := connection.NewRegistry(rc, nil, connection.WithDialer(dialer), connection.WithMetrics(m))
	t.Cleanup(reg.Teardown)

	return &app{cfg: cfg, logger: newLogger(cfg.Logging), metrics: m, registry: reg}
}

func TestHealth_Healthy(t *testing.T) {
	a := testApp(t, true)
	_, err := a.registry.Open(context.Background(), connection.NotificationsKey)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	newHTTPHandler(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var report healthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, connection.StateConnected, report.Connections[connection.NotificationsKey].State)
	assert.Equal(t, int64(1), report.Events)
}

func TestHealth_Unhealthy(t *testing.T) {
	a := testApp(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.registry.Open(ctx, "/circle/1/chat/")
	require.Error(t, err)

	report := buildHealth(a.registry)
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, connection.StateConnecting, report.Connections["/circle/1/chat/"].State)
}

func TestHealth_Metrics(t *testing.T) {
	a := testApp(t, true)
	_, err := a.registry.Open(context.Background(), "/circle/1/chat/")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	newHTTPHandler(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ws_connections{state="connected"} 1`)
}
