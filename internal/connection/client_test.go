package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoUntilClosed echoes frames back until the peer goes away.
func echoUntilClosed(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}

type closeInfo struct {
	code   int
	reason string
}

// recorder captures transport callbacks on channels.
type recorder struct {
	opened   chan struct{}
	messages chan []byte
	errors   chan error
	closed   chan closeInfo
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 16),
		errors:   make(chan error, 4),
		closed:   make(chan closeInfo, 2),
	}
}

func (r *recorder) events() TransportEvents {
	return TransportEvents{
		OnOpen:    func() { r.opened <- struct{}{} },
		OnMessage: func(data []byte) { r.messages <- data },
		OnError:   func(err error) { r.errors <- err },
		OnClose:   func(code int, reason string) { r.closed <- closeInfo{code, reason} },
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for transport callback")
	}
	var zero T
	return zero
}

func testDialer() *WSDialer {
	cfg := DefaultTransportConfig()
	cfg.PingInterval = 0
	return NewWSDialer(cfg, nil)
}

func TestWSDialer_OpenSendReceive(t *testing.T) {
	server := mockWSServer(t, echoUntilClosed)
	defer server.Close()

	rec := newRecorder()
	tr, err := testDialer().Dial(context.Background(), wsURL(server), rec.events())
	require.NoError(t, err)

	waitFor(t, rec.opened)

	require.NoError(t, tr.Send([]byte(`{"type":"ping"}`)))
	assert.Equal(t, `{"type":"ping"}`, string(waitFor(t, rec.messages)))

	require.NoError(t, tr.Close(CloseNormal, "bye"))
	info := waitFor(t, rec.closed)
	assert.Equal(t, CloseNormal, info.code)
	assert.Equal(t, "bye", info.reason)
}

func TestWSDialer_SendBeforeOpen(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	cfg := DefaultTransportConfig()
	cfg.HandshakeTimeout = 200 * time.Millisecond

	rec := newRecorder()
	tr, err := NewWSDialer(cfg, nil).Dial(context.Background(), wsURL(server), rec.events())
	require.NoError(t, err)

	assert.ErrorIs(t, tr.Send([]byte("early")), ErrNotConnected)

	require.NoError(t, tr.Close(CloseNormal, "abort"))
	info := waitFor(t, rec.closed)
	assert.Equal(t, CloseNormal, info.code)
	assert.Empty(t, rec.errors)
}

func TestWSDialer_HandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	rec := newRecorder()
	_, err := testDialer().Dial(context.Background(), wsURL(server), rec.events())
	require.NoError(t, err)

	require.Error(t, waitFor(t, rec.errors))
	info := waitFor(t, rec.closed)
	assert.Equal(t, CloseAbnormal, info.code)
	assert.Empty(t, rec.opened)
}

func TestWSDialer_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
		conn.ReadMessage()
	})
	defer server.Close()

	rec := newRecorder()
	_, err := testDialer().Dial(context.Background(), wsURL(server), rec.events())
	require.NoError(t, err)

	waitFor(t, rec.opened)
	info := waitFor(t, rec.closed)
	assert.Equal(t, websocket.CloseGoingAway, info.code)
	assert.Equal(t, "restart", info.reason)
}

func TestWSDialer_ServerDrop(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Return without a close frame
	})
	defer server.Close()

	rec := newRecorder()
	_, err := testDialer().Dial(context.Background(), wsURL(server), rec.events())
	require.NoError(t, err)

	waitFor(t, rec.opened)
	info := waitFor(t, rec.closed)
	assert.Equal(t, CloseAbnormal, info.code)
}

func TestWSDialer_CloseReportedOnce(t *testing.T) {
	server := mockWSServer(t, echoUntilClosed)
	defer server.Close()

	rec := newRecorder()
	tr, err := testDialer().Dial(context.Background(), wsURL(server), rec.events())
	require.NoError(t, err)
	waitFor(t, rec.opened)

	require.NoError(t, tr.Close(CloseNormal, "first"))
	assert.NoError(t, tr.Close(CloseNormal, "second"))

	waitFor(t, rec.closed)
	select {
	case info := <-rec.closed:
		t.Fatalf("unexpected second close: %+v", info)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSDialer_StaleConnection(t *testing.T) {
	// Server never answers pings
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.SetPingHandler(func(string) error { return nil })
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := DefaultTransportConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond

	rec := newRecorder()
	_, err := NewWSDialer(cfg, nil).Dial(context.Background(), wsURL(server), rec.events())
	require.NoError(t, err)

	waitFor(t, rec.opened)
	assert.ErrorIs(t, waitFor(t, rec.errors), ErrStaleConnection)
	info := waitFor(t, rec.closed)
	assert.Equal(t, CloseAbnormal, info.code)
}

func TestWSDialer_QueryReachesServer(t *testing.T) {
	got := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.URL.RequestURI()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		echoUntilClosed(conn)
	}))
	defer server.Close()

	rec := newRecorder()
	u := resolveURL(wsURL(server)+"/ws/", CircleChatKey("7"), map[string][]string{"username": {"alice"}})
	tr, err := testDialer().Dial(context.Background(), u, rec.events())
	require.NoError(t, err)
	defer tr.Close(CloseNormal, "")

	assert.Equal(t, "/ws/circle/7/chat/?username=alice", waitFor(t, got))
	waitFor(t, rec.opened)
}
