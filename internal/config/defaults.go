package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL          = "ws://localhost:8000/ws"
	DefaultConnectTimeout   = 5 * time.Second
	DefaultQueueCapacity    = 100
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultReadLimit        = 512 * 1024
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// Reconnect policy presets.
const (
	PolicyDecay    = "decay"
	PolicyDoubling = "doubling"
)

// Default returns a configuration with every default applied.
func Default() *ClientConfig {
	cfg := &ClientConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *ClientConfig) applyDefaults() {
	// Server defaults
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = DefaultBaseURL
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Server.QueueCapacity == 0 {
		c.Server.QueueCapacity = DefaultQueueCapacity
	}

	if c.Reconnect.Policy == "" {
		c.Reconnect.Policy = PolicyDecay
	}

	// Transport defaults
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PingTimeout == 0 {
		c.Transport.PingTimeout = DefaultPingTimeout
	}
	if c.Transport.ReadLimit == 0 {
		c.Transport.ReadLimit = DefaultReadLimit
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
