package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/sns-ws/internal/connection"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
server:
  base_url: ws://sns.local:8000/ws
  username: alice
  connect_timeout: 3s
reconnect:
  policy: doubling
connections:
  - key: /circle/notifications/
  - key: /circle/42/chat/
    username: bob
    auto_reconnect: false
`
	cfg, err := Load(writeTempFile(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "ws://sns.local:8000/ws", cfg.Server.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Server.ConnectTimeout)
	assert.Equal(t, PolicyDoubling, cfg.Reconnect.Policy)
	require.Len(t, cfg.Connections, 2)
	assert.Equal(t, "bob", cfg.Connections[1].Username)
	require.NotNil(t, cfg.Connections[1].AutoReconnect)
	assert.False(t, *cfg.Connections[1].AutoReconnect)
	assert.Nil(t, cfg.Connections[0].AutoReconnect)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_SNS_USER", "carol")

	yaml := `
server:
  base_url: ws://localhost:8000/ws
  username: ${TEST_SNS_USER}
`
	cfg, err := Load(writeTempFile(t, yaml))
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Server.Username)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	assert.ErrorContains(t, err, "parse config yaml")
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWithDefaults(writeTempFile(t, "connections:\n  - key: /circle/1/chat/\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.Server.BaseURL)
	assert.Equal(t, DefaultConnectTimeout, cfg.Server.ConnectTimeout)
	assert.Equal(t, DefaultQueueCapacity, cfg.Server.QueueCapacity)
	assert.Equal(t, PolicyDecay, cfg.Reconnect.Policy)
	assert.Equal(t, DefaultPingInterval, cfg.Transport.PingInterval)
	assert.Equal(t, DefaultMetricsPort, cfg.Metrics.Port)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := LoadAndValidate(writeTempFile(t, "server:\n  username: dave\n"))
	require.NoError(t, err)
	assert.Equal(t, "dave", cfg.Server.Username)

	_, err = LoadAndValidate(writeTempFile(t, "reconnect:\n  policy: linear\n"))
	assert.ErrorContains(t, err, "validate config")
}

func TestValidate_Default(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate_FieldErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "not a url"
	cfg.Reconnect.Policy = "linear"
	cfg.Reconnect.Decay = 0.5
	cfg.Metrics.Port = 70000
	cfg.Logging.Format = "xml"
	cfg.Connections = []ConnectionConfig{{Key: ""}}

	err := cfg.Validate()
	require.Error(t, err)

	var details ValidationErrors
	require.True(t, errors.As(err, &details))

	fields := map[string]string{}
	for _, d := range details {
		fields[d.Field] = d.Message
	}
	assert.Equal(t, "must be a URL", fields["server.base_url"])
	assert.Equal(t, "must be one of [decay doubling]", fields["reconnect.policy"])
	assert.Equal(t, "must be greater than or equal to 1", fields["reconnect.decay"])
	assert.Equal(t, "must be at most 65535", fields["metrics.port"])
	assert.Equal(t, "must be one of [text json]", fields["logging.format"])
	assert.Equal(t, "this field is required", fields["connections[0].key"])

	assert.Contains(t, err.Error(), "configuration validation failed:")
}

func TestValidate_DuplicateKeys(t *testing.T) {
	cfg := Default()
	cfg.Connections = []ConnectionConfig{
		{Key: "/circle/1/chat/"},
		{Key: "circle/1/chat/"},
	}

	err := cfg.Validate()
	var details ValidationErrors
	require.True(t, errors.As(err, &details))
	require.Len(t, details, 1)
	assert.Equal(t, "connections[1].key", details[0].Field)
}

func TestToRegistryConfig(t *testing.T) {
	cfg := Default()
	cfg.Server.BaseURL = "wss://sns.example/ws"

	rc := cfg.ToRegistryConfig()
	assert.Equal(t, "wss://sns.example/ws", rc.BaseURL)
	assert.Equal(t, connection.DecayPolicy(), rc.Reconnect)
	assert.Equal(t, 5*time.Second, rc.ConnectTimeout)
	assert.Equal(t, 100, rc.QueueCapacity)
	assert.True(t, rc.EnableLogging)

	off := false
	cfg.Logging.Enabled = &off
	assert.False(t, cfg.ToRegistryConfig().EnableLogging)
}

func TestReconnectPolicy(t *testing.T) {
	assert.Equal(t, connection.DecayPolicy(), ReconnectConfig{Policy: PolicyDecay}.ReconnectPolicy())
	assert.Equal(t, connection.DoublingPolicy(), ReconnectConfig{Policy: PolicyDoubling}.ReconnectPolicy())

	p := ReconnectConfig{
		Policy:       PolicyDoubling,
		MaxInterval:  10 * time.Second,
		MaxAttempts:  3,
		BaseInterval: 500 * time.Millisecond,
	}.ReconnectPolicy()
	assert.Equal(t, 500*time.Millisecond, p.BaseInterval)
	assert.Equal(t, 10*time.Second, p.MaxInterval)
	assert.Equal(t, 2.0, p.Decay)
	assert.Equal(t, 3, p.MaxAttempts)
}

func TestToTransportAndMetricsConfig(t *testing.T) {
	cfg := Default()
	cfg.Transport.PingInterval = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9191

	tc := cfg.ToTransportConfig()
	assert.Equal(t, DefaultHandshakeTimeout, tc.HandshakeTimeout)
	assert.Equal(t, time.Duration(0), tc.PingInterval)
	assert.Equal(t, int64(DefaultReadLimit), tc.ReadLimit)

	mc := cfg.ToMetricsConfig()
	assert.True(t, mc.Enabled)
	assert.Equal(t, 9191, mc.Port)
	assert.Equal(t, "/metrics", mc.Path)
}

func TestConnectionConfig_OpenOptions(t *testing.T) {
	assert.Empty(t, ConnectionConfig{Key: "/a/"}.OpenOptions(""))
	assert.Len(t, ConnectionConfig{Key: "/a/"}.OpenOptions("alice"), 1)

	on := true
	c := ConnectionConfig{Key: "/a/", Username: "bob", AutoReconnect: &on, QueueMessages: &on}
	assert.Len(t, c.OpenOptions("alice"), 3)
}

func TestLoggingConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LoggingConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LoggingConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LoggingConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LoggingConfig{}.SlogLevel())
}
