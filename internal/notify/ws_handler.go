package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ms-groupbuy/internal/auth"
	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
)

// StreamHandler serves the realtime notification channel over WebSocket
// and SSE. Both transports share the hub.
type StreamHandler struct {
	Hub       *Hub
	Logger    *logger.Logger
	Heartbeat time.Duration
	Verify    auth.TokenVerifier
	upgrader  websocket.Upgrader
}

func NewStreamHandler(hub *Hub, log *logger.Logger, heartbeat time.Duration, verify auth.TokenVerifier) *StreamHandler {
	return &StreamHandler{
		Hub:       hub,
		Logger:    log,
		Heartbeat: heartbeat,
		Verify:    verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// userFromRequest resolves the authenticated user. Browser WebSocket
// clients cannot set Authorization headers, so a token query parameter is
// accepted as well. The query token runs through the same signature
// verification as the middleware; an unverified subject never subscribes.
func (h *StreamHandler) userFromRequest(r *http.Request) (string, error) {
	if userID := auth.UserID(r.Context()); userID != "" {
		return userID, nil
	}
	if token := r.URL.Query().Get("token"); token != "" && h.Verify != nil {
		return h.Verify(r.Context(), token)
	}
	return "", fmt.Errorf("no credentials on stream request")
}

// HandleWS upgrades the connection, sends the handshake frame, and pumps
// hub events plus periodic heartbeats until either side closes.
func (h *StreamHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userFromRequest(r)
	if err != nil {
		h.Logger.Warn("STREAM", fmt.Sprintf("rejected stream connection: %v", err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("STREAM", fmt.Sprintf("upgrade failed for user %s: %v", userID, err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	eventChan := h.Hub.Subscribe(ctx, userID)
	h.Logger.LogStream("CONNECT", userID, "websocket stream opened")

	// Read pump: drains client frames (pings, close) and cancels the
	// subscription when the peer goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	handshake := models.StreamEvent{Type: models.EventConnected, UserID: userID}
	if err := conn.WriteJSON(handshake); err != nil {
		h.Logger.Error("STREAM", fmt.Sprintf("handshake write failed for user %s: %v", userID, err))
		conn.Close()
		return
	}

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				// Replaced by a newer connection for the same user.
				h.writeClose(conn, websocket.CloseNormalClosure)
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.Logger.Warn("STREAM", fmt.Sprintf("write failed for user %s: %v", userID, err))
				return
			}
		case <-ticker.C:
			heartbeat := models.StreamEvent{Type: models.EventHeartbeat, UserID: userID}
			if err := conn.WriteJSON(heartbeat); err != nil {
				h.Logger.Warn("STREAM", fmt.Sprintf("heartbeat failed for user %s: %v", userID, err))
				return
			}
		case <-ctx.Done():
			h.writeClose(conn, websocket.CloseNormalClosure)
			h.Logger.LogStream("DISCONNECT", userID, "websocket stream closed")
			return
		}
	}
}

func (h *StreamHandler) writeClose(conn *websocket.Conn, code int) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), deadline)
}

// HandleSSE streams the same events as text/event-stream for clients that
// cannot hold a WebSocket.
func (h *StreamHandler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userFromRequest(r)
	if err != nil {
		h.Logger.Warn("STREAM", fmt.Sprintf("rejected SSE connection: %v", err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	ctx := r.Context()
	eventChan := h.Hub.Subscribe(ctx, userID)

	fmt.Fprintf(w, "event: connected\ndata: {\"type\":\"connected\",\"userId\":%q}\n\n", userID)
	flusher.Flush()

	h.Logger.LogStream("CONNECT", userID, "sse stream opened")

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			jsonData, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("STREAM", fmt.Sprintf("failed to serialize event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, jsonData)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"type\":\"heartbeat\",\"userId\":%q}\n\n", userID)
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.LogStream("DISCONNECT", userID, "sse stream closed")
			return
		}
	}
}
