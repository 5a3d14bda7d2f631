package model

import "time"

type NotificationType string

const (
	NotifyOrderCreated NotificationType = "order_created"
	NotifyOrderUpdated NotificationType = "order_updated"
	NotifyOrderDeleted NotificationType = "order_deleted"
	NotifyNewMessage   NotificationType = "new_message"
	NotifyUserJoined   NotificationType = "user_joined"
	NotifyFileUploaded NotificationType = "file_uploaded"
	NotifyFileDeleted  NotificationType = "file_deleted"
	NotifySystem       NotificationType = "system"
)

type NotificationStatus string

const (
	StatusUnread   NotificationStatus = "unread"
	StatusRead     NotificationStatus = "read"
	StatusArchived NotificationStatus = "archived"
)

// Notification is one entry in the session-wide alert stream. Created
// server-side and pushed over the session connection, or fetched in bulk.
type Notification struct {
	ID          string             `json:"id"`
	RecipientID string             `json:"recipient_id"`
	Type        NotificationType   `json:"type"`
	Status      NotificationStatus `json:"status"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
	ActionURL   string             `json:"action_url,omitempty"`
	ActionLabel string             `json:"action_label,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Unread reports whether the notification still needs the user's attention.
func (n Notification) Unread() bool {
	return n.Status == StatusUnread
}
