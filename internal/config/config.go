package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/sns-ws/internal/connection"
	"github.com/rickgao/sns-ws/internal/metrics"
)

// ClientConfig is the top-level configuration.
type ClientConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Reconnect   ReconnectConfig    `yaml:"reconnect"`
	Transport   TransportConfig    `yaml:"transport"`
	Connections []ConnectionConfig `yaml:"connections" validate:"dive"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Logging     LoggingConfig      `yaml:"logging"`
}

// ServerConfig describes the backend the client talks to.
type ServerConfig struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	Username       string        `yaml:"username"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
	QueueCapacity  int           `yaml:"queue_capacity" validate:"min=1"`
}

// ReconnectConfig selects the backoff policy. Non-zero fields override
// the preset named by Policy.
type ReconnectConfig struct {
	Policy       string        `yaml:"policy" validate:"oneof=decay doubling"`
	BaseInterval time.Duration `yaml:"base_interval" validate:"gte=0"`
	MaxInterval  time.Duration `yaml:"max_interval" validate:"gte=0"`
	Decay        float64       `yaml:"decay" validate:"omitempty,gte=1"`
	MaxAttempts  int           `yaml:"max_attempts" validate:"gte=0"`
}

// TransportConfig holds WebSocket socket settings.
type TransportConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" validate:"gt=0"`
	WriteTimeout     time.Duration `yaml:"write_timeout" validate:"gt=0"`
	PingInterval     time.Duration `yaml:"ping_interval" validate:"gte=0"`
	PingTimeout      time.Duration `yaml:"ping_timeout" validate:"gte=0"`
	ReadLimit        int64         `yaml:"read_limit" validate:"gte=0"`
}

// ConnectionConfig is one logical connection to open at startup.
type ConnectionConfig struct {
	Key           string `yaml:"key" validate:"required"`
	Username      string `yaml:"username"`
	AutoReconnect *bool  `yaml:"auto_reconnect"`
	QueueMessages *bool  `yaml:"queue_messages"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
	Path    string `yaml:"path" validate:"startswith=/"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Level   string `yaml:"level" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"oneof=text json"`
}

// ToRegistryConfig converts to the registry's configuration.
func (c *ClientConfig) ToRegistryConfig() connection.Config {
	return connection.Config{
		BaseURL:        c.Server.BaseURL,
		Reconnect:      c.Reconnect.ReconnectPolicy(),
		ConnectTimeout: c.Server.ConnectTimeout,
		QueueCapacity:  c.Server.QueueCapacity,
		EnableLogging:  c.Logging.Enabled == nil || *c.Logging.Enabled,
	}
}

// ToTransportConfig converts to the WebSocket dialer's configuration.
func (c *ClientConfig) ToTransportConfig() connection.TransportConfig {
	cfg := connection.DefaultTransportConfig()
	cfg.HandshakeTimeout = c.Transport.HandshakeTimeout
	cfg.WriteTimeout = c.Transport.WriteTimeout
	cfg.PingInterval = c.Transport.PingInterval
	cfg.PingTimeout = c.Transport.PingTimeout
	cfg.ReadLimit = c.Transport.ReadLimit
	return cfg
}

// ToMetricsConfig converts to the metrics manager's configuration.
func (c *ClientConfig) ToMetricsConfig() metrics.Config {
	cfg := metrics.DefaultConfig()
	cfg.Enabled = c.Metrics.Enabled
	cfg.Port = c.Metrics.Port
	cfg.Path = c.Metrics.Path
	return cfg
}

// ReconnectPolicy resolves the configured preset and overrides.
func (r ReconnectConfig) ReconnectPolicy() connection.ReconnectPolicy {
	p := connection.DecayPolicy()
	if r.Policy == PolicyDoubling {
		p = connection.DoublingPolicy()
	}

	if r.BaseInterval > 0 {
		p.BaseInterval = r.BaseInterval
	}
	if r.MaxInterval > 0 {
		p.MaxInterval = r.MaxInterval
	}
	if r.Decay > 0 {
		p.Decay = r.Decay
	}
	if r.MaxAttempts > 0 {
		p.MaxAttempts = r.MaxAttempts
	}
	return p
}

// OpenOptions returns the options for opening this connection. The
// connection's username wins over the server-wide one.
func (c ConnectionConfig) OpenOptions(defaultUsername string) []connection.OpenOption {
	var opts []connection.OpenOption

	username := c.Username
	if username == "" {
		username = defaultUsername
	}
	if username != "" {
		opts = append(opts, connection.WithParam("username", username))
	}
	if c.AutoReconnect != nil {
		opts = append(opts, connection.WithAutoReconnect(*c.AutoReconnect))
	}
	if c.QueueMessages != nil {
		opts = append(opts, connection.WithQueueMessages(*c.QueueMessages))
	}
	return opts
}

// SlogLevel maps Level to a slog level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
