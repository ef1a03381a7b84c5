package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sns-ws/internal/connection"
	"github.com/rickgao/sns-ws/internal/router"
)

func runListen(c *cli.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context)
	defer stop()

	a.registry.On(router.KindOpen, func(ev router.Event) {
		a.logger.Info("open", "key", ev.Key)
	})
	a.registry.On(router.KindClose, func(ev router.Event) {
		a.logger.Info("close", "key", ev.Key, "code", ev.Code, "reason", ev.Reason)
	})
	a.registry.On(router.KindError, func(ev router.Event) {
		a.logger.Warn("error", "key", ev.Key, "error", ev.Err)
	})
	a.registry.On(router.KindMessage, func(ev router.Event) {
		a.logger.Info("message", "key", ev.Key, "type", ev.Type(), "data", ev.Text())
	})

	conns := a.cfg.Connections
	if len(conns) == 0 {
		a.logger.Info("no connections configured, opening notifications")
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
			Handler:           newHTTPHandler(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("starting http server", "port", a.cfg.Metrics.Port, "metrics_path", a.cfg.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	// Initial connects are best effort; the scheduler keeps retrying.
	if len(conns) == 0 {
		openOne(ctx, a, connection.NotificationsKey, connection.WithParam("username", a.cfg.Server.Username))
	}
	for _, cc := range conns {
		openOne(ctx, a, cc.Key, cc.OpenOptions(a.cfg.Server.Username)...)
	}

	a.logger.Info("wsclient running", "connected", a.registry.Connected())

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down...")
		a.registry.Teardown()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("wsclient stopped")
	return nil
}

func openOne(ctx context.Context, a *app, key string, opts ...connection.OpenOption) {
	openCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ConnectTimeout+time.Second)
	defer cancel()

	if _, err := a.registry.Open(openCtx, key, opts...); err != nil {
		a.logger.Warn("initial connect failed", "key", key, "error", err)
	}
}
