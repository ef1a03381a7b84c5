package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/sns-ws/internal/metrics"
)

// subscription is one registered handler.
type subscription struct {
	id      string
	handler Handler
}

// Table is an ordered set of handlers keyed by event kind.
// Every logical connection owns one; the Router owns the global one.
type Table struct {
	mu   sync.RWMutex
	subs map[Kind][]subscription
}

// NewTable creates an empty subscriber table.
func NewTable() *Table {
	return &Table{subs: make(map[Kind][]subscription)}
}

// Add appends a handler for kind and returns its subscription ID.
func (t *Table) Add(kind Kind, h Handler) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	t.subs[kind] = append(t.subs[kind], subscription{id: id, handler: h})
	return id
}

// Remove deletes the subscription with the given ID.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for kind, subs := range t.subs {
		for i, sub := range subs {
			if sub.id != id {
				continue
			}
			// Copy so in-flight dispatch snapshots stay intact
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			t.subs[kind] = next
			return true
		}
	}
	return false
}

// Clear removes every subscription.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = make(map[Kind][]subscription)
}

// Len returns the number of registered handlers across all kinds.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, subs := range t.subs {
		n += len(subs)
	}
	return n
}

// snapshot returns the handlers for kind. The slice must not be modified.
func (t *Table) snapshot(kind Kind) []subscription {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.subs[kind]
}

// Router dispatches events to per-connection and global subscribers.
type Router struct {
	logger  *slog.Logger
	metrics *metrics.Manager
	global  *Table

	// Stats
	dispatched    atomic.Int64
	calls         atomic.Int64
	failures      atomic.Int64
	parseFailures atomic.Int64
}

// NewRouter creates a new Event Router.
func NewRouter(logger *slog.Logger, m *metrics.Manager) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NoOpManager()
	}

	return &Router{
		logger:  logger,
		metrics: m,
		global:  NewTable(),
	}
}

// Subscribe registers a global handler for kind.
func (r *Router) Subscribe(kind Kind, h Handler) string {
	return r.global.Add(kind, h)
}

// Unsubscribe removes a global handler.
func (r *Router) Unsubscribe(id string) bool {
	return r.global.Remove(id)
}

// Reset drops every global handler.
func (r *Router) Reset() {
	r.global.Clear()
}

// NewMessage builds a message event for key. The payload is decoded as
// JSON; when that fails the raw text is delivered instead.
func (r *Router) NewMessage(key string, data []byte) Event {
	ev := Event{
		Key:  key,
		Kind: KindMessage,
		At:   time.Now(),
		Raw:  data,
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		r.parseFailures.Add(1)
		r.metrics.RecordParseFailure()
		r.logger.Debug("message is not JSON, delivering raw text",
			"key", key,
			"bytes", len(data),
		)
		ev.Data = string(data)
		return ev
	}

	ev.Data = decoded
	return ev
}

// Dispatch delivers ev to the handlers in local, then to global handlers.
// A panicking handler is logged and skipped.
func (r *Router) Dispatch(ev Event, local *Table) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	r.dispatched.Add(1)
	r.metrics.RecordEvent(string(ev.Kind))

	for _, sub := range local.snapshot(ev.Kind) {
		r.invoke(sub, ev, "connection")
	}
	for _, sub := range r.global.snapshot(ev.Kind) {
		r.invoke(sub, ev, "global")
	}
}

// invoke runs one handler, containing any panic it raises.
func (r *Router) invoke(sub subscription, ev Event, scope string) {
	r.calls.Add(1)

	defer func() {
		if rec := recover(); rec != nil {
			r.failures.Add(1)
			r.metrics.RecordHandlerFailure(string(ev.Kind))
			r.logger.Error("event handler failed",
				"key", ev.Key,
				"kind", ev.Kind,
				"scope", scope,
				"subscription", sub.id,
				"error", fmt.Sprint(rec),
			)
		}
	}()

	sub.handler(ev)
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		EventsDispatched: r.dispatched.Load(),
		HandlerCalls:     r.calls.Load(),
		HandlerFailures:  r.failures.Load(),
		ParseFailures:    r.parseFailures.Load(),
		GlobalHandlers:   r.global.Len(),
	}
}
