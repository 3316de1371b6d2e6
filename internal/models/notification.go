package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Stream event types pushed over the realtime channel.
const (
	EventConnected       = "connected"
	EventNewNotification = "new_notification"
	EventHeartbeat       = "heartbeat"
	EventPong            = "pong"
)

// StreamEvent is one JSON frame on the realtime channel.
type StreamEvent struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	UserID string          `json:"userId"`
}

// Notification is the persisted record backing the notification list views.
// The realtime channel itself never stores anything.
type Notification struct {
	bun.BaseModel `bun:"table:notifications"`

	NotificationID string    `bun:"notification_id,pk" json:"notification_id"`
	UserID         string    `bun:"user_id" json:"user_id"`
	Type           string    `bun:"type" json:"type"`
	Title          string    `bun:"title" json:"title"`
	Message        string    `bun:"message" json:"message"`
	GroupID        string    `bun:"group_id,nullzero" json:"group_id,omitempty"`
	Read           bool      `bun:"read" json:"read"`
	CreatedAt      time.Time `bun:"created_at" json:"created_at"`
}
