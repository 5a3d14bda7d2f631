package model

import "time"

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// Message is one chat message in an order's channel. IDs are assigned by the
// backend; from the client's perspective messages are append-only, ordered by
// creation time with arrival order breaking ties.
type Message struct {
	ID          int64       `json:"id"`
	OrderID     string      `json:"order_id"`
	SenderID    string      `json:"sender_id"`
	SenderEmail string      `json:"sender_email"`
	Body        string      `json:"body"`
	Kind        MessageKind `json:"kind"`
	Read        bool        `json:"read"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// TypingEntry is one remote user currently composing in a channel.
// Absence from the set means "not typing".
type TypingEntry struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
