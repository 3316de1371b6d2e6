package models

import "time"

// Kafka group event types.
const (
	GroupEventJoined    = "participant_joined"
	GroupEventLeft      = "participant_left"
	GroupEventCompleted = "group_completed"
	GroupEventClosed    = "group_closed"
)

// GroupEvent is the message published for every group-purchase state
// change and consumed by the notifier.
type GroupEvent struct {
	Type         string    `json:"type"`
	GroupID      string    `json:"group_id"`
	ProductID    string    `json:"product_id"`
	ActorID      string    `json:"actor_id,omitempty"`
	Participants int       `json:"participants"`
	Target       int       `json:"target"`
	OccurredAt   time.Time `json:"occurred_at"`
}
