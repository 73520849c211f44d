package chat

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------
// 🗄️ Database & API Models
// ---------------------------------------------

// Message is one persisted direct message. It is never mutated after Append.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`

	// Display attributes, only filled by history queries.
	Sender   *Profile `json:"sender,omitempty"`
	Receiver *Profile `json:"receiver,omitempty"`
}

// Profile is what the identity side knows about a participant.
type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Image    string `json:"image"`
}

// Before reports whether m sorts ahead of o within a conversation.
func (m Message) Before(o Message) bool {
	if m.CreatedAt.Equal(o.CreatedAt) {
		return m.ID < o.ID
	}
	return m.CreatedAt.Before(o.CreatedAt)
}

// ---------------------------------------------
// ⚡ Live protocol
// ---------------------------------------------

const (
	EventJoin           = "join"
	EventJoined         = "joined"
	EventSendMessage    = "send_message"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

// Envelope is a single frame on the live channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload is the `send_message` body the client sends us.
// SenderID is optional; when present it must match the binding.
type SendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	Message    string `json:"message" validate:"required"`
}

type JoinedPayload struct {
	UserID string `json:"userId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendRequest is the non-live send body.
type SendRequest struct {
	MessageContent string `json:"messageContent"`
}

// Response mirrors the history API shape.
type Response struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func encodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
