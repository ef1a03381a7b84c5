package connection

import (
	"net/url"
	"time"

	"github.com/rickgao/sns-ws/internal/metrics"
	"github.com/rickgao/sns-ws/internal/router"
)

// openOptions are the per-connection settings given to Open.
type openOptions struct {
	autoReconnect bool
	queueMessages bool
	params        url.Values
	handlers      []boundHandler
}

type boundHandler struct {
	kind    router.Kind
	handler router.Handler
}

func defaultOpenOptions() openOptions {
	return openOptions{
		autoReconnect: true,
		queueMessages: true,
	}
}

// OpenOption configures a connection at Open time.
type OpenOption func(*openOptions)

// WithAutoReconnect toggles reconnecting after abnormal closure.
func WithAutoReconnect(on bool) OpenOption {
	return func(o *openOptions) { o.autoReconnect = on }
}

// WithQueueMessages toggles queueing of sends made while not connected.
func WithQueueMessages(on bool) OpenOption {
	return func(o *openOptions) { o.queueMessages = on }
}

// WithParams sets the query parameters appended to the connection URL.
func WithParams(v url.Values) OpenOption {
	return func(o *openOptions) {
		if o.params == nil {
			o.params = url.Values{}
		}
		for k, vals := range v {
			o.params[k] = append([]string(nil), vals...)
		}
	}
}

// WithParam sets a single query parameter, e.g. WithParam("username", "alice").
func WithParam(key, value string) OpenOption {
	return func(o *openOptions) {
		if o.params == nil {
			o.params = url.Values{}
		}
		o.params.Set(key, value)
	}
}

// WithHandler subscribes h to kind on this connection before it dials,
// so the first open event is not missed.
func WithHandler(kind router.Kind, h router.Handler) OpenOption {
	return func(o *openOptions) {
		o.handlers = append(o.handlers, boundHandler{kind: kind, handler: h})
	}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) RegistryOption {
	return func(r *Registry) { r.dialer = d }
}

// WithRouter shares an existing router.
func WithRouter(rt *router.Router) RegistryOption {
	return func(r *Registry) { r.router = rt }
}

// WithMetrics records registry activity in m.
func WithMetrics(m *metrics.Manager) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// withAfterFunc replaces time.AfterFunc. Tests use it to capture timers.
func withAfterFunc(fn func(time.Duration, func()) *time.Timer) RegistryOption {
	return func(r *Registry) { r.afterFunc = fn }
}
