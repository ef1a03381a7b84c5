package connection

import "context"

// Transport is one bidirectional, message-oriented socket.
type Transport interface {
	// Send writes a text frame.
	Send(data []byte) error

	// Close requests closure with the given close code and reason.
	// The transport reports OnClose once the socket is gone.
	Close(code int, reason string) error
}

// TransportEvents are the callbacks a Transport reports through.
// For a given transport they are invoked sequentially, never concurrently,
// and OnClose is invoked exactly once.
type TransportEvents struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Dialer creates transports.
//
// Dial must not block on the network and must not invoke any callback
// before it returns: the outcome of the handshake is reported later
// through OnOpen, or OnError followed by OnClose.
type Dialer interface {
	Dial(ctx context.Context, url string, events TransportEvents) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, events TransportEvents) (Transport, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, url string, events TransportEvents) (Transport, error) {
	return f(ctx, url, events)
}
