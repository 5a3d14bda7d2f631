package model

import (
	"encoding/json"
	"time"
)

// Connection lifecycle events, dispatched locally by the transport.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"
)

// Server-pushed events.
const (
	EventNotification = "notification"
	EventOrderUpdated = "order-updated"
	EventNewMessage   = "new-message"
	EventUserTyping   = "user-typing"
	EventMessageRead  = "message-read"
)

// Client-emitted events.
const (
	EventJoinOrderRoom  = "join-order-room"
	EventLeaveOrderRoom = "leave-order-room"
	EventTypingStart    = "typing-start"
	EventTypingStop     = "typing-stop"
	EventMarkRead       = "mark-read"
)

// Envelope is the wire frame for every event on the session connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// RoomRef scopes join-order-room, leave-order-room and mark-read to one order.
type RoomRef struct {
	OrderID string `json:"order_id"`
}

// TypingSignal is the payload of typing-start and typing-stop.
type TypingSignal struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
}

// UserTyping is the payload of user-typing, fanned out to the room.
type UserTyping struct {
	OrderID  string `json:"order_id"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	IsTyping bool   `json:"is_typing"`
}

// NewMessage is the payload of new-message.
type NewMessage struct {
	OrderID string  `json:"order_id"`
	Message Message `json:"message"`
}

// MessageRead is the payload of message-read.
type MessageRead struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderUpdated is the payload of order-updated.
type OrderUpdated struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status,omitempty"`
}
