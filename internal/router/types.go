package router

import (
	"encoding/json"
	"time"
)

// Kind identifies an event kind.
type Kind string

const (
	KindOpen    Kind = "open"
	KindClose   Kind = "close"
	KindError   Kind = "error"
	KindMessage Kind = "message"
)

// Kinds lists every event kind in dispatch-table order.
var Kinds = []Kind{KindOpen, KindClose, KindError, KindMessage}

// Handler receives a dispatched event.
type Handler func(ev Event)

// Event is a lifecycle or message event for one logical connection.
type Event struct {
	Key  string // Logical connection key (e.g. "/circle/42/chat/")
	Kind Kind
	At   time.Time

	// Message events only
	Data any    // Decoded JSON payload, or the raw text when decoding failed
	Raw  []byte // Frame bytes as received

	// Close events only
	Code   int
	Reason string

	// Error events only
	Err error
}

// Type returns the "type" discriminator of a decoded message payload,
// or "" when the payload is not a JSON object carrying one.
func (e Event) Type() string {
	obj, ok := e.Data.(map[string]any)
	if !ok {
		return ""
	}
	t, _ := obj["type"].(string)
	return t
}

// Decode unmarshals the raw message frame into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Raw, v)
}

// Text returns the raw frame as a string.
func (e Event) Text() string {
	return string(e.Raw)
}

// Stats contains runtime statistics.
type Stats struct {
	EventsDispatched int64
	HandlerCalls     int64
	HandlerFailures  int64
	ParseFailures    int64
	GlobalHandlers   int
}
