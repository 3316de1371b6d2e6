package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
	"ms-groupbuy/internal/utils"
)

// ParticipantSource resolves who should hear about a group event.
type ParticipantSource interface {
	GetParticipantsByGroup(ctx context.Context, groupID string) ([]string, error)
}

// Dispatcher turns group events into persisted notifications and realtime
// frames on the hub.
type Dispatcher struct {
	Store        *Store
	Hub          *Hub
	Participants ParticipantSource
	Logger       *logger.Logger
}

func NewDispatcher(store *Store, hub *Hub, participants ParticipantSource, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		Store:        store,
		Hub:          hub,
		Participants: participants,
		Logger:       log,
	}
}

// HandleGroupEvent fans a group event out to every current participant,
// skipping the actor who caused it.
func (d *Dispatcher) HandleGroupEvent(ctx context.Context, event models.GroupEvent) {
	title, message := renderGroupEvent(event)
	if title == "" {
		d.Logger.Warn("NOTIFY", fmt.Sprintf("ignoring unknown group event type %q", event.Type))
		return
	}

	recipients, err := d.Participants.GetParticipantsByGroup(ctx, event.GroupID)
	if err != nil {
		d.Logger.Error("NOTIFY", fmt.Sprintf("failed to resolve participants for group %s: %v", event.GroupID, err))
		return
	}

	for _, userID := range recipients {
		if userID == event.ActorID {
			continue
		}
		d.Notify(ctx, userID, models.Notification{
			NotificationID: utils.GenerateNotificationID(),
			UserID:         userID,
			Type:           event.Type,
			Title:          title,
			Message:        message,
			GroupID:        event.GroupID,
			CreatedAt:      event.OccurredAt,
		})
	}
}

// Notify persists one notification and pushes a new_notification frame to
// the user's channel if connected.
func (d *Dispatcher) Notify(ctx context.Context, userID string, notification models.Notification) {
	if err := d.Store.Create(ctx, notification); err != nil {
		d.Logger.Error("NOTIFY", fmt.Sprintf("failed to persist notification for user %s: %v", userID, err))
		// Still push the ephemeral frame; the list view will catch up.
	}

	data, err := json.Marshal(notification)
	if err != nil {
		d.Logger.Error("NOTIFY", fmt.Sprintf("failed to serialize notification: %v", err))
		return
	}

	d.Hub.Emit(userID, models.StreamEvent{
		Type:   models.EventNewNotification,
		Data:   data,
		UserID: userID,
	})
}

func renderGroupEvent(event models.GroupEvent) (string, string) {
	switch event.Type {
	case models.GroupEventJoined:
		return "New participant",
			fmt.Sprintf("Your group is now %d/%d participants", event.Participants, event.Target)
	case models.GroupEventLeft:
		return "Participant left",
			fmt.Sprintf("Your group is now %d/%d participants", event.Participants, event.Target)
	case models.GroupEventCompleted:
		return "Group complete!",
			fmt.Sprintf("Your group reached its target of %d participants", event.Target)
	case models.GroupEventClosed:
		return "Group ended",
			"This group purchase has closed"
	default:
		return "", ""
	}
}
