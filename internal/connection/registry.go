package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sns-ws/internal/metrics"
	"github.com/rickgao/sns-ws/internal/router"
)

// Registry manages named logical WebSocket connections.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	dialer  Dialer
	router  *router.Router
	metrics *metrics.Manager

	afterFunc func(time.Duration, func()) *time.Timer

	// Lock order: mu before Connection.mu.
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry creates a Connection Registry.
func NewRegistry(cfg Config, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.EnableLogging {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}

	r := &Registry{
		cfg:       cfg,
		logger:    logger,
		afterFunc: time.AfterFunc,
		conns:     make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.metrics == nil {
		r.metrics = metrics.NoOpManager()
	}
	if r.router == nil {
		r.router = router.NewRouter(logger, r.metrics)
	}
	if r.dialer == nil {
		r.dialer = NewWSDialer(DefaultTransportConfig(), logger)
	}

	return r
}

// Router returns the event router.
func (r *Registry) Router() *router.Router {
	return r.router
}

// Open connects key, creating its record on first use. It blocks until
// the connection opens, the attempt fails, or ctx is done.
//
// Opening a key that is already connected returns immediately; opening a
// key that is connecting waits on the attempt in flight.
func (r *Registry) Open(ctx context.Context, key string, opts ...OpenOption) (*Connection, error) {
	key = NormalizeKey(key)

	o := defaultOpenOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	c, exists := r.conns[key]
	if !exists {
		c = newConnection(r, key, o)
		r.conns[key] = c
		r.metrics.RecordTransition("", string(StateDisconnected))
		r.logger.Debug("connection registered", "key", key)
	}

	c.mu.Lock()
	for _, b := range o.handlers {
		c.handlers.Add(b.kind, b.handler)
	}

	var (
		a  *attempt
		fx effects
	)
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		r.mu.Unlock()
		r.logger.Debug("already connected", "key", key)
		return c, nil

	case StateConnecting:
		a = c.pending

	default:
		// Explicit open restarts a connection that is waiting to reconnect
		// or has exhausted its attempts.
		if exists {
			o.handlers = nil
			c.opts = o
		}
		c.attempts = 0
		a, fx = c.connectLocked()
	}
	c.mu.Unlock()
	r.mu.Unlock()

	c.apply(fx)

	if err := a.wait(ctx); err != nil {
		return c, &ConnectError{Key: key, Err: err}
	}
	return c, nil
}

// OpenMany opens keys in parallel and returns the first error.
func (r *Registry) OpenMany(ctx context.Context, keys []string, opts ...OpenOption) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		g.Go(func() error {
			_, err := r.Open(ctx, key, opts...)
			return err
		})
	}
	return g.Wait()
}

// Close closes key with a normal closure. Pending reconnect and connect
// timers are cancelled before the transport is asked to close.
// It reports false for an unknown key.
func (r *Registry) Close(key string) bool {
	key = NormalizeKey(key)

	r.mu.Lock()
	c, ok := r.conns[key]
	if !ok {
		r.mu.Unlock()
		r.logger.Debug("close: unknown connection", "key", key)
		return false
	}
	delete(r.conns, key)

	c.mu.Lock()
	r.mu.Unlock()
	fx := c.closeLocked("client disconnect")
	c.mu.Unlock()

	r.logger.Info("closing connection", "key", key)
	c.apply(fx)
	return true
}

// CloseAll closes every connection.
func (r *Registry) CloseAll() {
	for _, key := range r.keys() {
		r.Close(key)
	}
}

// Teardown closes every connection and drops global subscribers.
func (r *Registry) Teardown() {
	r.CloseAll()
	r.router.Reset()
	r.logger.Info("registry torn down")
}

// Send writes payload on key. It reports true only when the frame was
// handed to a live transport; otherwise the frame is queued or dropped
// according to the connection's options.
func (r *Registry) Send(key string, payload []byte) bool {
	c := r.lookup(key)
	if c == nil {
		r.metrics.RecordSend("dropped")
		r.logger.Warn("send: unknown connection", "key", key)
		return false
	}
	return c.send(payload)
}

// SendJSON marshals v and sends it. Strings and byte slices are sent as is.
func (r *Registry) SendJSON(key string, v any) bool {
	var payload []byte
	switch val := v.(type) {
	case string:
		payload = []byte(val)
	case []byte:
		payload = val
	default:
		b, err := json.Marshal(v)
		if err != nil {
			r.logger.Error("send: marshal payload", "key", key, "error", err)
			return false
		}
		payload = b
	}
	return r.Send(key, payload)
}

// Get returns the connection for key.
func (r *Registry) Get(key string) (*Connection, bool) {
	c := r.lookup(key)
	return c, c != nil
}

// IsConnected reports whether key is open.
func (r *Registry) IsConnected(key string) bool {
	c := r.lookup(key)
	return c != nil && c.State() == StateConnected
}

// Connected returns the open keys, sorted.
func (r *Registry) Connected() []string {
	var out []string
	for _, key := range r.keys() {
		if r.IsConnected(key) {
			out = append(out, key)
		}
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns a snapshot of every connection.
func (r *Registry) Stats() map[string]ConnStats {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	out := make(map[string]ConnStats, len(conns))
	for _, c := range conns {
		out[c.key] = c.Stats()
	}
	return out
}

// On subscribes h to kind across all connections.
func (r *Registry) On(kind router.Kind, h router.Handler) string {
	return r.router.Subscribe(kind, h)
}

// OnKey subscribes h to kind on one connection.
func (r *Registry) OnKey(key string, kind router.Kind, h router.Handler) (string, error) {
	c := r.lookup(key)
	if c == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownConnection, NormalizeKey(key))
	}
	return c.On(kind, h), nil
}

// Off removes a global subscription.
func (r *Registry) Off(id string) bool {
	return r.router.Unsubscribe(id)
}

// OffKey removes a subscription made with OnKey.
func (r *Registry) OffKey(key, id string) bool {
	c := r.lookup(key)
	return c != nil && c.Off(id)
}

func (r *Registry) lookup(key string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[NormalizeKey(key)]
}

func (r *Registry) keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.conns))
	for key := range r.conns {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Strings(keys)
	return keys
}
