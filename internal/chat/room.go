package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rickgao/sns-ws/internal/connection"
	"github.com/rickgao/sns-ws/internal/router"
)

// ErrNotConnected is reported when sending to a room that is not open.
var ErrNotConnected = errors.New("not connected to chat")

// Client is the part of the connection registry a Room uses.
type Client interface {
	Open(ctx context.Context, key string, opts ...connection.OpenOption) (*connection.Connection, error)
	Close(key string) bool
	SendJSON(key string, v any) bool
	IsConnected(key string) bool
}

// TypingInterval is the minimum spacing between typing frames.
const TypingInterval = time.Second

// Room tracks one circle chat.
type Room struct {
	client   Client
	circleID string
	key      string
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	state     State
	messages  []Message
	online    []User
	typing    []User
	lastErr   string
	attached  bool
	onMessage func(Message)
	throttle  *rate.Limiter
}

// NewRoom creates a room for circleID. Nothing is dialed until Join.
func NewRoom(client Client, circleID string, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	key := connection.CircleChatKey(circleID)

	return &Room{
		client:   client,
		circleID: circleID,
		key:      key,
		logger:   logger.With("room", key),
		now:      time.Now,
		state:    StateDisconnected,
		throttle: newTypingLimiter(),
	}
}

// Key returns the connection key of the room.
func (r *Room) Key() string {
	return r.key
}

// OnMessage registers fn to be called for every message added to the history.
func (r *Room) OnMessage(fn func(Message)) {
	r.mu.Lock()
	r.onMessage = fn
	r.mu.Unlock()
}

// Join connects to the room as username.
func (r *Room) Join(ctx context.Context, username string) error {
	r.mu.Lock()
	r.state = StateConnecting
	r.lastErr = ""
	opts := []connection.OpenOption{connection.WithParam("username", username)}
	if !r.attached {
		for _, kind := range router.Kinds {
			opts = append(opts, connection.WithHandler(kind, r.handle))
		}
		r.attached = true
	}
	r.mu.Unlock()

	if _, err := r.client.Open(ctx, r.key, opts...); err != nil {
		r.mu.Lock()
		r.state = StateError
		r.lastErr = err.Error()
		r.mu.Unlock()
		return fmt.Errorf("join %s: %w", r.circleID, err)
	}

	r.mu.Lock()
	r.state = StateConnected
	r.lastErr = ""
	r.mu.Unlock()

	r.logger.Info("joined chat", "username", username)
	return nil
}

// Leave closes the room's connection and clears presence.
func (r *Room) Leave() {
	r.client.Close(r.key)

	r.mu.Lock()
	r.state = StateDisconnected
	r.lastErr = ""
	r.online = nil
	r.typing = nil
	r.attached = false
	r.mu.Unlock()
}

// Reset clears all room state including history.
func (r *Room) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateDisconnected
	r.lastErr = ""
	r.messages = nil
	r.online = nil
	r.typing = nil
}

// SendMessage posts text to the room.
func (r *Room) SendMessage(text string) bool {
	if !r.client.IsConnected(r.key) {
		r.setError(ErrNotConnected.Error())
		return false
	}
	return r.client.SendJSON(r.key, outbound{Type: TypeChatMessage, Message: text})
}

// SendTyping tells the room the user is typing. Calls closer together
// than TypingInterval are suppressed and report false.
func (r *Room) SendTyping() bool {
	if !r.client.IsConnected(r.key) {
		return false
	}

	r.mu.RLock()
	allowed := r.throttle.Allow()
	r.mu.RUnlock()
	if !allowed {
		return false
	}
	return r.client.SendJSON(r.key, outbound{Type: TypeTyping})
}

// SendStopTyping tells the room the user stopped typing.
func (r *Room) SendStopTyping() bool {
	if !r.client.IsConnected(r.key) {
		return false
	}

	// The next keystroke announces typing again right away
	r.mu.Lock()
	r.throttle = newTypingLimiter()
	r.mu.Unlock()

	return r.client.SendJSON(r.key, outbound{Type: TypeStopTyping})
}

func newTypingLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(TypingInterval), 1)
}

// State returns the connection state.
func (r *Room) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Messages returns a copy of the history.
func (r *Room) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.messages)
}

// OnlineUsers returns the users seen joining.
func (r *Room) OnlineUsers() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.online)
}

// TypingUsers returns the users currently typing.
func (r *Room) TypingUsers() []User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.typing)
}

// TypingUsernames returns the names of users currently typing.
func (r *Room) TypingUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.typing))
	for _, u := range r.typing {
		names = append(names, u.Username)
	}
	return names
}

// LastError returns the most recent error message, or "".
func (r *Room) LastError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// ClearMessages empties the history.
func (r *Room) ClearMessages() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

// ClearError clears the last error.
func (r *Room) ClearError() {
	r.mu.Lock()
	r.lastErr = ""
	r.mu.Unlock()
}

func (r *Room) setError(msg string) {
	r.mu.Lock()
	r.lastErr = msg
	r.mu.Unlock()
}

// handle applies a connection event to the room.
func (r *Room) handle(ev router.Event) {
	switch ev.Kind {
	case router.KindOpen:
		r.mu.Lock()
		r.state = StateConnected
		r.lastErr = ""
		r.mu.Unlock()

	case router.KindClose:
		r.mu.Lock()
		r.state = StateDisconnected
		r.online = nil
		r.typing = nil
		r.mu.Unlock()

	case router.KindError:
		msg := "chat connection error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		r.mu.Lock()
		r.state = StateError
		r.lastErr = msg
		r.mu.Unlock()

	case router.KindMessage:
		var f frame
		if err := ev.Decode(&f); err != nil {
			r.logger.Debug("ignoring non-JSON frame", "error", err)
			return
		}
		r.apply(f)
	}
}

func (r *Room) apply(f frame) {
	switch f.Type {
	case TypeChatMessage:
		r.addMessage(Message{
			ID:        f.MessageID,
			UserID:    f.UserID,
			Username:  f.Username,
			Text:      f.Message,
			Timestamp: r.parseTime(f.Timestamp),
		})

	case TypeUserJoined:
		r.mu.Lock()
		r.online = addUser(r.online, User{ID: f.UserID, Username: f.Username})
		r.mu.Unlock()
		r.addMessage(r.systemMessage(f.Username + " joined the chat"))

	case TypeUserLeft:
		r.mu.Lock()
		r.online = removeUser(r.online, f.UserID)
		r.mu.Unlock()
		r.addMessage(r.systemMessage(f.Username + " left the chat"))

	case TypeUserTyping:
		r.mu.Lock()
		r.typing = addUser(r.typing, User{ID: f.UserID, Username: f.Username})
		r.mu.Unlock()

	case TypeUserStopTyping:
		r.mu.Lock()
		r.typing = removeUser(r.typing, f.UserID)
		r.mu.Unlock()

	case TypeError:
		r.setError(f.Message)

	default:
		r.logger.Debug("unknown frame type", "type", f.Type)
	}
}

func (r *Room) systemMessage(text string) Message {
	return Message{
		Username:  SystemUsername,
		Text:      text,
		Timestamp: r.now(),
		System:    true,
	}
}

func (r *Room) addMessage(m Message) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	r.mu.Lock()
	r.messages = append(r.messages, m)
	fn := r.onMessage
	r.mu.Unlock()

	if fn != nil {
		fn(m)
	}
}

func (r *Room) parseTime(s string) time.Time {
	if s != "" {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
	}
	return r.now()
}

func addUser(users []User, u User) []User {
	for _, existing := range users {
		if existing.ID == u.ID {
			return users
		}
	}
	return append(users, u)
}

func removeUser(users []User, id UserID) []User {
	return slices.DeleteFunc(slices.Clone(users), func(u User) bool { return u.ID == id })
}
