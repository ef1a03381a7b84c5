package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/sns-ws/internal/connection"
)

type healthConn struct {
	State    connection.State `json:"state"`
	Attempts int              `json:"reconnect_attempts"`
	Queued   int              `json:"queued_messages"`
	Dropped  int64            `json:"dropped_messages"`
}

type healthReport struct {
	Status      string                `json:"status"`
	Connections map[string]healthConn `json:"connections"`
	Events      int64                 `json:"events_dispatched"`
	Failures    int64                 `json:"handler_failures"`
}

// newHTTPHandler serves metrics and a health summary of the registry.
func newHTTPHandler(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := buildHealth(a.registry)

		w.Header().Set("Content-Type", "application/json")
		if report.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(report); err != nil {
			a.logger.Error("failed to encode health response", "error", err)
		}
	})
	return mux
}

// buildHealth is healthy when every connection is open, degraded when
// some are, and unhealthy when none are.
func buildHealth(registry *connection.Registry) healthReport {
	stats := registry.Stats()
	rs := registry.Router().Stats()

	report := healthReport{
		Status:      "healthy",
		Connections: make(map[string]healthConn, len(stats)),
		Events:      rs.EventsDispatched,
		Failures:    rs.HandlerFailures,
	}

	connected := 0
	for key, s := range stats {
		report.Connections[key] = healthConn{
			State:    s.State,
			Attempts: s.ReconnectAttempts,
			Queued:   s.QueuedMessages,
			Dropped:  s.DroppedMessages,
		}
		if s.State == connection.StateConnected {
			connected++
		}
	}

	switch {
	case connected == len(stats):
	case connected > 0:
		report.Status = "degraded"
	default:
		report.Status = "unhealthy"
	}
	return report
}
