package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/sns-ws/internal/config"
	"github.com/rickgao/sns-ws/internal/connection"
	"github.com/rickgao/sns-ws/internal/metrics"
	"github.com/rickgao/sns-ws/internal/version"
)

type cliArgs struct {
	ConfigFile string
	JSONLog    bool
	LogLevel   string
	Username   string
}

var cmdArgs cliArgs

func main() {
	app := &cli.App{
		Name:    "wsclient",
		Version: version.String(),
		Usage:   "multiplexed WebSocket client for the SNS backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "YAML config file; defaults apply when empty",
				Aliases:     []string{"c"},
				EnvVars:     []string{"WSCLIENT_CONFIG"},
				Destination: &cmdArgs.ConfigFile,
			},
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Destination: &cmdArgs.JSONLog,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error], overrides the config file",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Destination: &cmdArgs.LogLevel,
			},
			&cli.StringFlag{
				Name:        "username",
				Usage:       "Username passed as a connection query parameter",
				Aliases:     []string{"u"},
				EnvVars:     []string{"SNS_USERNAME"},
				Destination: &cmdArgs.Username,
			},
		},
		Commands: []*cli.Command{
			{
				Name:        "listen",
				Usage:       "Open the configured connections and log every event",
				Description: "Serves /metrics and /health while connected",
				Action:      runListen,
			},
			{
				Name:      "chat",
				Usage:     "Join a circle chat room; lines read from stdin are sent",
				ArgsUsage: "<circle-id>",
				Action:    runChat,
			},
			{
				Name:   "notifications",
				Usage:  "Print circle notifications as they arrive",
				Action: runNotifications,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is everything a command needs.
type app struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	metrics  *metrics.Manager
	registry *connection.Registry
}

// setup loads configuration and builds the registry.
func setup() (*app, error) {
	cfg := config.Default()
	if cmdArgs.ConfigFile != "" {
		loaded, err := config.LoadAndValidate(cmdArgs.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cmdArgs.LogLevel != "" {
		cfg.Logging.Level = cmdArgs.LogLevel
	}
	if cmdArgs.JSONLog {
		cfg.Logging.Format = "json"
	}
	if cmdArgs.Username != "" {
		cfg.Server.Username = cmdArgs.Username
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	m := metrics.NewManager(cfg.ToMetricsConfig())
	registry := connection.NewRegistry(
		cfg.ToRegistryConfig(),
		logger,
		connection.WithDialer(connection.NewWSDialer(cfg.ToTransportConfig(), logger)),
		connection.WithMetrics(m),
	)

	logger.Info("starting wsclient",
		"version", version.Version,
		"commit", version.Commit,
		"base_url", cfg.Server.BaseURL,
		"config", cmdArgs.ConfigFile,
	)

	return &app{cfg: cfg, logger: logger, metrics: m, registry: registry}, nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
