package ws

import (
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/session"
)

type EventType string

const (
	// client -> server
	EventAppState  EventType = "app_state"
	EventOpenRoom  EventType = "open_room"
	EventCloseRoom EventType = "close_room"
	EventInput     EventType = "input"
	EventBlur      EventType = "blur"
	EventSend      EventType = "send"

	// server -> client
	EventState       EventType = "state"
	EventMessageSent EventType = "message_sent"
	EventError       EventType = "error"
)

// IncomingMessage is what the client sends to the gateway.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// For app_state: "foreground" or "background".
	AppState string `json:"app_state,omitempty"`

	// For open_room. Counterpart fields are optional; when absent the
	// session resolves the counterpart from the message log.
	RoomID          string `json:"room_id,omitempty"`
	CounterpartID   string `json:"counterpart_id,omitempty"`
	CounterpartName string `json:"counterpart_name,omitempty"`

	// For input/send.
	Text string `json:"text,omitempty"`
}

// OutgoingMessage is what the gateway sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// StatePayload carries the full session snapshot; the client renders it
// wholesale instead of patching individual fields.
type StatePayload struct {
	Snapshot session.Snapshot `json:"snapshot"`
}

// MessageSentPayload acknowledges an optimistic send.
type MessageSentPayload struct {
	Message model.Message `json:"message"`
}
