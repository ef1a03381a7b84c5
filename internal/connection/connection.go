package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rickgao/sns-ws/internal/router"
)

// attempt is one in-flight connect. Every Open waiting on the same
// connection shares it.
type attempt struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newAttempt() *attempt {
	return &attempt{done: make(chan struct{})}
}

func (a *attempt) resolve(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *attempt) wait(ctx context.Context) error {
	if a == nil {
		return nil
	}
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// effects are computed under Connection.mu and applied after it is released,
// so handlers may call back into the registry.
type effects struct {
	events  []router.Event
	discard Transport
	reason  string
	settle  *attempt
	err     error
}

// Connection is one named logical connection.
type Connection struct {
	reg      *Registry
	key      string
	handlers *router.Table

	mu             sync.Mutex
	opts           openOptions
	state          State
	transport      Transport
	epoch          uint64
	attempts       int
	queue          *outboundQueue
	pending        *attempt
	connectTimer   *time.Timer
	reconnectTimer *time.Timer
	dialedAt       time.Time
	removed        bool
}

func newConnection(reg *Registry, key string, opts openOptions) *Connection {
	return &Connection{
		reg:      reg,
		key:      key,
		handlers: router.NewTable(),
		opts:     opts,
		state:    StateDisconnected,
		queue:    newOutboundQueue(reg.cfg.QueueCapacity),
	}
}

// Key returns the connection key.
func (c *Connection) Key() string {
	return c.key
}

// State returns the lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the connection.
func (c *Connection) Stats() ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnStats{
		State:             c.state,
		ReconnectAttempts: c.attempts,
		QueuedMessages:    c.queue.Len(),
		DroppedMessages:   c.queue.Dropped(),
	}
}

// On subscribes h to kind on this connection only.
func (c *Connection) On(kind router.Kind, h router.Handler) string {
	return c.handlers.Add(kind, h)
}

// Off removes a subscription made with On.
func (c *Connection) Off(id string) bool {
	return c.handlers.Remove(id)
}

func (c *Connection) event(kind router.Kind) router.Event {
	return router.Event{Key: c.key, Kind: kind, At: time.Now()}
}

func (c *Connection) errorEvent(err error) router.Event {
	ev := c.event(router.KindError)
	ev.Err = err
	return ev
}

func (c *Connection) closeEvent(code int, reason string, err error) router.Event {
	ev := c.event(router.KindClose)
	ev.Code = code
	ev.Reason = reason
	ev.Err = err
	return ev
}

func (c *Connection) apply(fx effects) {
	for _, ev := range fx.events {
		c.reg.router.Dispatch(ev, c.handlers)
	}
	if fx.discard != nil {
		if err := fx.discard.Close(CloseNormal, fx.reason); err != nil {
			c.reg.logger.Debug("transport close failed", "key", c.key, "error", err)
		}
	}
	if fx.settle != nil {
		fx.settle.resolve(fx.err)
	}
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.reg.metrics.RecordTransition(string(c.state), string(s))
	c.state = s
}

// connectLocked dials a new transport. The state must be disconnected.
func (c *Connection) connectLocked() (*attempt, effects) {
	c.stopReconnectTimerLocked()
	c.epoch++
	epoch := c.epoch

	c.setStateLocked(StateConnecting)
	a := newAttempt()
	c.pending = a
	c.dialedAt = time.Now()

	u := resolveURL(c.reg.cfg.BaseURL, c.key, c.opts.params)
	c.reg.logger.Info("connecting", "key", c.key, "url", u, "attempt", c.attempts)

	t, err := c.reg.dialer.Dial(context.Background(), u, c.transportEvents(epoch))
	if err != nil {
		return a, c.failLocked(fmt.Errorf("%w: %w", ErrTransport, err), "dial_error")
	}

	c.transport = t
	if timeout := c.reg.cfg.ConnectTimeout; timeout > 0 {
		c.connectTimer = c.reg.afterFunc(timeout, func() { c.onConnectTimeout(epoch) })
	}
	return a, effects{}
}

// failLocked abandons a connect attempt.
func (c *Connection) failLocked(err error, outcome string) effects {
	c.stopConnectTimerLocked()
	c.reg.metrics.RecordConnectAttempt(outcome, time.Since(c.dialedAt))

	fx := effects{
		discard: c.transport,
		reason:  "connect failed",
		settle:  c.pending,
		err:     err,
	}
	c.transport = nil
	c.pending = nil
	c.epoch++
	c.setStateLocked(StateDisconnected)

	c.reg.logger.Warn("connect failed", "key", c.key, "attempt", c.attempts, "error", err)

	fx.events = append(fx.events,
		c.errorEvent(err),
		c.closeEvent(CloseAbnormal, err.Error(), fmt.Errorf("%w: %w", ErrAbnormalClosure, err)),
	)
	fx.events = append(fx.events, c.afterDisconnectLocked(CloseAbnormal)...)
	return fx
}

// afterDisconnectLocked decides whether to schedule a reconnect.
func (c *Connection) afterDisconnectLocked(code int) []router.Event {
	if code == CloseNormal || !c.opts.autoReconnect {
		return nil
	}

	policy := c.reg.cfg.Reconnect
	if policy.Exhausted(c.attempts) {
		if policy.MaxAttempts <= 0 {
			return nil
		}
		c.reg.metrics.RecordReconnect("exhausted")
		c.reg.logger.Error("giving up on connection", "key", c.key, "attempt", c.attempts)
		return []router.Event{
			c.errorEvent(fmt.Errorf("%w: %s after %d attempts", ErrMaxAttemptsExceeded, c.key, c.attempts)),
		}
	}

	c.scheduleReconnectLocked()
	return nil
}

// scheduleReconnectLocked arms the reconnect timer, replacing any pending one.
func (c *Connection) scheduleReconnectLocked() {
	c.stopReconnectTimerLocked()

	delay := c.reg.cfg.Reconnect.Delay(c.attempts)
	epoch := c.epoch
	c.reconnectTimer = c.reg.afterFunc(delay, func() { c.onReconnectTimer(epoch) })

	c.reg.metrics.RecordReconnect("scheduled")
	c.reg.logger.Info("reconnect scheduled",
		"key", c.key,
		"delay", delay,
		"attempt", c.attempts+1,
	)
}

func (c *Connection) stopReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Connection) stopConnectTimerLocked() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

func (c *Connection) transportEvents(epoch uint64) TransportEvents {
	return TransportEvents{
		OnOpen:    func() { c.onOpen(epoch) },
		OnMessage: func(data []byte) { c.onMessage(epoch, data) },
		OnError:   func(err error) { c.onError(epoch, err) },
		OnClose:   func(code int, reason string) { c.onClose(epoch, code, reason) },
	}
}

func (c *Connection) onOpen(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}

	c.stopConnectTimerLocked()
	c.setStateLocked(StateConnected)
	c.attempts = 0
	c.reg.metrics.RecordConnectAttempt("open", time.Since(c.dialedAt))
	c.flushLocked()

	fx := effects{
		events: []router.Event{c.event(router.KindOpen)},
		settle: c.pending,
	}
	c.pending = nil
	c.mu.Unlock()

	c.reg.logger.Info("connected", "key", c.key)
	c.apply(fx)
}

func (c *Connection) onMessage(epoch uint64, data []byte) {
	c.mu.Lock()
	live := c.epoch == epoch && (c.state == StateConnected || c.state == StateClosing)
	c.mu.Unlock()
	if !live {
		return
	}

	c.reg.router.Dispatch(c.reg.router.NewMessage(c.key, data), c.handlers)
}

func (c *Connection) onError(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}

	if c.state == StateConnecting {
		fx := c.failLocked(fmt.Errorf("%w: %w", ErrTransport, err), "error")
		c.mu.Unlock()
		c.apply(fx)
		return
	}
	c.mu.Unlock()

	c.reg.logger.Warn("transport error", "key", c.key, "error", err)
	c.reg.router.Dispatch(c.errorEvent(fmt.Errorf("%w: %w", ErrTransport, err)), c.handlers)
}

func (c *Connection) onClose(epoch uint64, code int, reason string) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}

	var fx effects
	switch c.state {
	case StateClosing:
		c.transport = nil
		c.epoch++
		c.retireLocked()
		fx.events = []router.Event{c.closeEvent(code, reason, nil)}
		c.reg.logger.Info("connection closed", "key", c.key, "code", code)

	case StateConnecting:
		cause := ErrConnectionClosed
		if code != CloseNormal {
			cause = ErrAbnormalClosure
		}
		fx = c.failLocked(fmt.Errorf("%w: code %d before open: %s", cause, code, reason), "closed")

	case StateConnected:
		c.transport = nil
		c.epoch++
		c.setStateLocked(StateDisconnected)

		var err error
		if code != CloseNormal {
			err = fmt.Errorf("%w: code %d: %s", ErrAbnormalClosure, code, reason)
			c.reg.logger.Warn("connection lost", "key", c.key, "code", code, "reason", reason)
		} else {
			c.reg.logger.Info("connection closed by server", "key", c.key)
		}
		fx.events = []router.Event{c.closeEvent(code, reason, err)}
		fx.events = append(fx.events, c.afterDisconnectLocked(code)...)
	}
	c.mu.Unlock()

	c.apply(fx)
}

func (c *Connection) onConnectTimeout(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.connectTimer = nil

	fx := c.failLocked(fmt.Errorf("%w: no open within %s", ErrConnectTimeout, c.reg.cfg.ConnectTimeout), "timeout")
	c.mu.Unlock()

	c.apply(fx)
}

func (c *Connection) onReconnectTimer(epoch uint64) {
	c.mu.Lock()
	if c.removed || c.epoch != epoch || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.attempts++

	// Nobody waits on a scheduled attempt; failures reschedule themselves.
	_, fx := c.connectLocked()
	c.mu.Unlock()

	c.apply(fx)
}

// closeLocked starts an explicit close. The record is already detached
// from the registry.
func (c *Connection) closeLocked(reason string) effects {
	c.removed = true
	c.stopReconnectTimerLocked()
	c.stopConnectTimerLocked()

	fx := effects{settle: c.pending, err: ErrConnectionClosed}
	c.pending = nil

	if c.transport == nil {
		c.retireLocked()
		return fx
	}

	c.setStateLocked(StateClosing)
	fx.discard = c.transport
	fx.reason = reason
	return fx
}

// retireLocked marks the record disconnected and gone.
func (c *Connection) retireLocked() {
	c.setStateLocked(StateDisconnected)
	c.reg.metrics.RecordTransition(string(StateDisconnected), "")
	c.queue.Reset()
}

// flushLocked sends queued frames in order, stopping at the first failure.
// The failed frame stays at the head.
func (c *Connection) flushLocked() {
	for {
		frame, ok := c.queue.Peek()
		if !ok {
			return
		}
		if err := c.transport.Send(frame); err != nil {
			c.reg.metrics.RecordSend("failed")
			c.reg.logger.Warn("flush stopped",
				"key", c.key,
				"remaining", c.queue.Len(),
				"error", fmt.Errorf("%w: %w", ErrSendFailure, err),
			)
			return
		}
		c.queue.Pop()
		c.reg.metrics.RecordSend("sent")
	}
}

func (c *Connection) enqueueLocked(frame []byte) {
	if c.queue.Push(frame) {
		c.reg.metrics.RecordQueueDrop()
		c.reg.logger.Debug("outbound queue full, dropped oldest", "key", c.key)
	}
}

func (c *Connection) send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected && c.transport != nil {
		if c.queue.Len() > 0 {
			c.flushLocked()
		}
		if c.queue.Len() == 0 {
			err := c.transport.Send(payload)
			if err == nil {
				c.reg.metrics.RecordSend("sent")
				return true
			}
			c.reg.metrics.RecordSend("failed")
			c.reg.logger.Warn("send failed, queueing",
				"key", c.key,
				"error", fmt.Errorf("%w: %w", ErrSendFailure, err),
			)
		}
		c.enqueueLocked(payload)
		return false
	}

	if c.opts.queueMessages && !c.removed {
		c.enqueueLocked(payload)
		c.reg.metrics.RecordSend("queued")
		return false
	}

	c.reg.metrics.RecordSend("dropped")
	c.reg.logger.Debug("send dropped, not connected", "key", c.key, "state", c.state)
	return false
}
