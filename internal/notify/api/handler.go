package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ms-groupbuy/internal/auth"
	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/notify"
	"ms-groupbuy/internal/utils"
)

type Handler struct {
	Store  *notify.Store
	Logger *logger.Logger
}

func NewHandler(store *notify.Store, log *logger.Logger) *Handler {
	return &Handler{Store: store, Logger: log}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notifications, err := h.Store.ListByUser(r.Context(), userID, limit)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("List notifications: %v", err))
		http.Error(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(notifications); err != nil {
		h.Logger.Error("API", fmt.Sprintf("List notifications: encode failed: %v", err))
	}
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	count, err := h.Store.UnreadCount(r.Context(), userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("UnreadCount: %v", err))
		http.Error(w, "Failed to count notifications", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"unread": count})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	notificationID := chi.URLParam(r, "notificationId")
	if err := h.Store.MarkRead(r.Context(), notificationID, userID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("MarkRead: %v", err))
		http.Error(w, "Failed to mark notification read", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(utils.SuccessResponse("Notification marked read", nil))
}
