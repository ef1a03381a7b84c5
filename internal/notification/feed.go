// Package notification collects circle notifications pushed over the
// per-user notification stream.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/sns-ws/internal/connection"
	"github.com/rickgao/sns-ws/internal/router"
)

// TypeCircleNotification is the frame type carrying a notification.
const TypeCircleNotification = "circle_notification"

// Notification is one circle notification.
type Notification struct {
	ID         string    `json:"notification_id"`
	CircleID   string    `json:"circle_id"`
	CircleName string    `json:"circle_name"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"-"`
	ReceivedAt time.Time `json:"-"`
}

type frame struct {
	Type string `json:"type"`
	Notification
	RawTimestamp string `json:"timestamp"`
}

// Opener is the part of the connection registry a Feed uses.
type Opener interface {
	Open(ctx context.Context, key string, opts ...connection.OpenOption) (*connection.Connection, error)
	Close(key string) bool
}

// Feed keeps the most recent notifications, newest last.
type Feed struct {
	client Opener
	logger *slog.Logger
	limit  int
	now    func() time.Time

	mu       sync.RWMutex
	items    []Notification
	unread   int
	lastErr  string
	listener func(Notification)
}

// NewFeed creates a feed that keeps at most limit notifications
// (limit <= 0 keeps all).
func NewFeed(client Opener, limit int, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		client: client,
		logger: logger.With("key", connection.NotificationsKey),
		limit:  limit,
		now:    time.Now,
	}
}

// OnNotification registers fn to be called for each new notification.
func (f *Feed) OnNotification(fn func(Notification)) {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
}

// Subscribe opens the notification stream as username.
func (f *Feed) Subscribe(ctx context.Context, username string) error {
	opts := []connection.OpenOption{
		connection.WithHandler(router.KindMessage, f.handle),
		connection.WithHandler(router.KindError, f.handle),
		// Notifications are receive-only
		connection.WithQueueMessages(false),
	}
	if username != "" {
		opts = append(opts, connection.WithParam("username", username))
	}

	if _, err := f.client.Open(ctx, connection.NotificationsKey, opts...); err != nil {
		return fmt.Errorf("subscribe notifications: %w", err)
	}
	return nil
}

// Unsubscribe closes the notification stream.
func (f *Feed) Unsubscribe() {
	f.client.Close(connection.NotificationsKey)
}

// Items returns the retained notifications.
func (f *Feed) Items() []Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.items)
}

// Unread returns how many notifications arrived since MarkRead.
func (f *Feed) Unread() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// MarkRead resets the unread counter.
func (f *Feed) MarkRead() {
	f.mu.Lock()
	f.unread = 0
	f.mu.Unlock()
}

// LastError returns the most recent stream error, or "".
func (f *Feed) LastError() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastErr
}

// Clear drops every notification.
func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.unread = 0
	f.mu.Unlock()
}

func (f *Feed) handle(ev router.Event) {
	if ev.Kind == router.KindError {
		if ev.Err != nil {
			f.setError(ev.Err.Error())
		}
		return
	}

	var fr frame
	if err := ev.Decode(&fr); err != nil {
		f.logger.Debug("ignoring non-JSON frame", "error", err)
		return
	}

	switch fr.Type {
	case TypeCircleNotification:
		n := fr.Notification
		n.ReceivedAt = f.now()
		n.Timestamp = n.ReceivedAt
		if ts, err := time.Parse(time.RFC3339Nano, fr.RawTimestamp); err == nil {
			n.Timestamp = ts
		}
		f.add(n)
	case "error":
		f.setError(fr.Message)
	default:
		f.logger.Debug("unknown frame type", "type", fr.Type)
	}
}

func (f *Feed) add(n Notification) {
	f.mu.Lock()
	f.items = append(f.items, n)
	if f.limit > 0 && len(f.items) > f.limit {
		f.items = slices.Delete(f.items, 0, len(f.items)-f.limit)
	}
	f.unread++
	fn := f.listener
	f.mu.Unlock()

	f.logger.Info("notification received",
		"circle", n.CircleName,
		"notification_id", n.ID,
	)

	if fn != nil {
		fn(n)
	}
}

func (f *Feed) setError(msg string) {
	f.mu.Lock()
	f.lastErr = msg
	f.mu.Unlock()
}
