package notify

import (
	"context"
	"sync"

	"ms-groupbuy/internal/models"
)

// Hub fans server events out to connected clients. Each user holds at most
// one logical subscription: a reconnect replaces the previous channel
// instead of piling up a second one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan models.StreamEvent
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]chan models.StreamEvent),
	}
}

// Subscribe registers the user's channel and tears it down when the
// context ends. Any previous subscription for the same user is closed.
func (h *Hub) Subscribe(ctx context.Context, userID string) chan models.StreamEvent {
	clientChan := make(chan models.StreamEvent, 16)

	h.mu.Lock()
	if old, ok := h.clients[userID]; ok {
		close(old)
	}
	h.clients[userID] = clientChan
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(userID, clientChan)
	}()

	return clientChan
}

func (h *Hub) remove(userID string, clientChan chan models.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Only drop the entry if it still belongs to this subscription; a
	// reconnect may already have replaced it.
	if current, ok := h.clients[userID]; ok && current == clientChan {
		delete(h.clients, userID)
		close(clientChan)
	}
}

// Emit delivers an event to one user's channel. The send never blocks: a
// slow consumer loses events rather than stalling the emitter. The lock is
// held across the send; channels are only closed under the write lock, so
// the send can never hit a closed channel.
func (h *Hub) Emit(userID string, event models.StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientChan, ok := h.clients[userID]
	if !ok {
		return
	}

	select {
	case clientChan <- event:
	default:
		// Channel buffer full, skip this client for now
	}
}

// EmitToAll sends the event to every connected user, used for heartbeats.
func (h *Hub) EmitToAll(event models.StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, clientChan := range h.clients {
		ev := event
		ev.UserID = userID
		select {
		case clientChan <- ev:
		default:
		}
	}
}

// Connected reports whether the user currently holds a subscription.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// ClientCount returns the number of live subscriptions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
