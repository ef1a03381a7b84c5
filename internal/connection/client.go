package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TransportConfig configures WebSocket transports.
type TransportConfig struct {
	HandshakeTimeout time.Duration // Max time for the HTTP upgrade
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping period (0 disables heartbeat)
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	ReadLimit        int64         // Max inbound frame size in bytes
	Header           http.Header   // Extra handshake headers (cookies, origin)
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		ReadLimit:        512 * 1024, // 512KB
	}
}

// WSDialer dials gorilla/websocket transports.
type WSDialer struct {
	cfg    TransportConfig
	logger *slog.Logger
}

// NewWSDialer creates a WebSocket dialer.
func NewWSDialer(cfg TransportConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// Dial starts the handshake in the background and returns immediately.
func (d *WSDialer) Dial(ctx context.Context, url string, events TransportEvents) (Transport, error) {
	ctx, cancel := context.WithCancel(ctx)

	t := &wsTransport{
		cfg:    d.cfg,
		logger: d.logger.With("url", url),
		url:    url,
		events: events,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go t.run()

	return t, nil
}

// wsTransport implements Transport over a gorilla/websocket connection.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger
	url    string
	events TransportEvents

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu          sync.Mutex
	conn        *websocket.Conn
	open        bool
	closing     bool
	closeCode   int
	closeReason string
	lastPingAt  time.Time

	closeOnce sync.Once
}

// run dials, then reads until the socket fails or is closed.
func (t *wsTransport) run() {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(t.ctx, t.url, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if !t.isClosing() {
			t.reportError(err)
		}
		t.reportClose(CloseAbnormal, err.Error())
		return
	}

	t.mu.Lock()
	if t.closing {
		// Close() raced the handshake
		t.mu.Unlock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(t.closeCode, t.closeReason),
			time.Now().Add(time.Second),
		)
		conn.Close()
		t.reportClose(t.closeCode, t.closeReason)
		return
	}
	t.conn = conn
	t.open = true
	t.lastPingAt = time.Now()
	t.mu.Unlock()

	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		t.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Server responds to our ping
	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	t.logger.Debug("websocket connected")

	if t.events.OnOpen != nil {
		t.events.OnOpen()
	}

	if t.cfg.PingInterval > 0 {
		go t.heartbeatLoop(conn)
	}

	t.readLoop(conn)
}

// Send writes a text frame.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	open := t.open && !t.closing
	t.mu.Unlock()

	if !open {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears the socket down.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.closeCode = code
	t.closeReason = reason
	conn := t.conn
	t.mu.Unlock()

	// Abort an in-flight handshake; run() reports the close
	t.cancel()

	if conn == nil {
		return nil
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// readLoop delivers frames until the socket fails.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := CloseAbnormal, err.Error()

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			} else if !t.isClosing() {
				t.reportError(err)
			}

			t.reportClose(code, reason)
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if t.events.OnMessage != nil {
			t.events.OnMessage(data)
		}
	}
}

// heartbeatLoop pings the server and detects stale connections.
func (t *wsTransport) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			t.mu.Lock()
			lastPing := t.lastPingAt
			t.mu.Unlock()

			if t.cfg.PingTimeout > 0 && time.Since(lastPing) > t.cfg.PingTimeout {
				t.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", t.cfg.PingTimeout,
				)
				t.reportError(ErrStaleConnection)
				// Unblocks readLoop, which reports the close
				conn.Close()
				return
			}
		}
	}
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastPingAt = time.Now()
	t.mu.Unlock()
}

func (t *wsTransport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

func (t *wsTransport) reportError(err error) {
	if t.events.OnError != nil {
		t.events.OnError(err)
	}
}

// reportClose fires OnClose once. A locally requested close reports the
// code and reason that were passed to Close.
func (t *wsTransport) reportClose(code int, reason string) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.open = false
		if t.closing {
			code, reason = t.closeCode, t.closeReason
		}
		t.mu.Unlock()

		close(t.done)
		t.cancel()

		t.logger.Debug("websocket closed", "code", code, "reason", reason)

		if t.events.OnClose != nil {
			t.events.OnClose(code, reason)
		}
	})
}
