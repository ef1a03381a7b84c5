package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrConnectTimeout      = errors.New("connect timeout")
	ErrTransport           = errors.New("transport error")
	ErrAbnormalClosure     = errors.New("abnormal closure")
	ErrSendFailure         = errors.New("send failure")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrMaxAttemptsExceeded = errors.New("max reconnect attempts exceeded")
	ErrNotConnected        = errors.New("not connected")
	ErrConnectionClosed    = errors.New("connection closed")
	ErrStaleConnection     = errors.New("connection stale (no ping)")
)

// Close codes
const (
	CloseNormal   = websocket.CloseNormalClosure   // 1000
	CloseAbnormal = websocket.CloseAbnormalClosure // 1006
)

// State is the lifecycle state of a logical connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

// Config configures the Connection Registry.
type Config struct {
	BaseURL        string          // e.g. ws://localhost:8000/ws
	Reconnect      ReconnectPolicy // Backoff between reconnect attempts
	ConnectTimeout time.Duration   // Max time from dial to open
	QueueCapacity  int             // Outbound frames kept per connection while disconnected
	EnableLogging  bool            // false discards registry logs
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "ws://localhost:8000/ws",
		Reconnect:      DecayPolicy(),
		ConnectTimeout: 5 * time.Second,
		QueueCapacity:  100,
		EnableLogging:  true,
	}
}

// ConnStats is a point-in-time snapshot of one logical connection.
type ConnStats struct {
	State             State
	ReconnectAttempts int
	QueuedMessages    int
	DroppedMessages   int64
}

// ConnectError reports a failed Open for one key.
type ConnectError struct {
	Key string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Key, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
