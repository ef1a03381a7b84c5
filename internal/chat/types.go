package chat

import (
	"bytes"
	"encoding/json"
	"time"
)

// State is the room's connection state as shown to users.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Inbound frame types.
const (
	TypeChatMessage    = "chat_message"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypeUserTyping     = "user_typing"
	TypeUserStopTyping = "user_stop_typing"
	TypeError          = "error"
)

// Outbound frame types.
const (
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"
)

// SystemUsername is the author of join and leave notices.
const SystemUsername = "System"

// UserID identifies a user. The backend sends it as a string or a number.
type UserID string

// UnmarshalJSON accepts both JSON strings and numbers.
func (id *UserID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = UserID(n.String())
	return nil
}

// User is a member shown in the online or typing lists.
type User struct {
	ID       UserID `json:"user_id"`
	Username string `json:"username"`
}

// Message is one entry in the room history.
type Message struct {
	ID        string
	UserID    UserID
	Username  string
	Text      string
	Timestamp time.Time
	System    bool
}

// frame is the union of every inbound frame.
type frame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
	UserID    UserID `json:"user_id"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type outbound struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}
