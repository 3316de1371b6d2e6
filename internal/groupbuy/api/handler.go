package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-groupbuy/internal/auth"
	"ms-groupbuy/internal/groupbuy"
	"ms-groupbuy/internal/groupbuy/qr"
	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
	"ms-groupbuy/internal/utils"
)

type Handler struct {
	Service *groupbuy.Service
	Invites *qr.InviteGenerator
	Logger  *logger.Logger
}

func NewHandler(service *groupbuy.Service, invites *qr.InviteGenerator, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Invites: invites,
		Logger:  log,
	}
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Join: groupId=%s userId=%s", groupID, userID))

	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", "missing session")
		return
	}

	group, err := h.Service.Join(r.Context(), groupID, userID)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(utils.SuccessResponse("Joined group purchase", group)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Join: failed to encode response: %v", err))
	}
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())
	h.Logger.Info("API", fmt.Sprintf("Leave: groupId=%s userId=%s", groupID, userID))

	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", "missing session")
		return
	}

	group, err := h.Service.Leave(r.Context(), groupID, userID)
	if err != nil {
		h.writeBusinessError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(utils.SuccessResponse("Left group purchase", group)); err != nil {
		h.Logger.Error("API", fmt.Sprintf("Leave: failed to encode response: %v", err))
	}
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")

	snapshot, err := h.Service.Snapshot(r.Context(), groupID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetGroup: %v", err))
		h.writeError(w, http.StatusNotFound, "Group purchase not found", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetGroup: failed to encode response: %v", err))
	}
}

func (h *Handler) GetParticipation(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())

	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", "missing session")
		return
	}

	participation, err := h.Service.Participation(r.Context(), groupID, userID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetParticipation: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Failed to check participation", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(participation); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetParticipation: failed to encode response: %v", err))
	}
}

// InviteQR renders a shareable QR code for the group. The invite expires
// with the group purchase itself.
func (h *Handler) InviteQR(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	userID := auth.UserID(r.Context())

	snapshot, err := h.Service.Snapshot(r.Context(), groupID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "Group purchase not found", err.Error())
		return
	}
	if snapshot.Group.Status == models.GroupStatusEnded {
		h.writeError(w, http.StatusGone, "Group purchase has ended", groupbuy.ErrGroupClosed.Error())
		return
	}

	png, err := h.Invites.GenerateInviteQR(models.GroupInvite{
		GroupID:   groupID,
		ProductID: snapshot.Group.ProductID,
		InvitedBy: userID,
		ExpiresAt: snapshot.Group.EndTime,
	})
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("InviteQR: failed to generate QR: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Failed to generate invite", err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(time.Until(snapshot.Group.EndTime).Seconds())))
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("InviteQR: failed to write image: %v", err))
	}
}

// writeBusinessError maps the service error taxonomy onto status codes and
// remediation actions the storefront understands.
func (h *Handler) writeBusinessError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var status int
	var message, action string

	switch {
	case errors.Is(err, groupbuy.ErrProfileIncomplete):
		status = http.StatusForbidden
		message = "Add a delivery address to your profile before joining"
		action = "complete_profile"
	case errors.Is(err, groupbuy.ErrAlreadyParticipating):
		status = http.StatusConflict
		message = "You already joined this group purchase"
	case errors.Is(err, groupbuy.ErrNotParticipating):
		status = http.StatusConflict
		message = "You are not part of this group purchase"
	case errors.Is(err, groupbuy.ErrGroupFull):
		status = http.StatusConflict
		message = "This group purchase is full"
	case errors.Is(err, groupbuy.ErrGroupClosed):
		status = http.StatusGone
		message = "This group purchase has ended"
	case errors.Is(err, groupbuy.ErrGroupBusy):
		status = http.StatusServiceUnavailable
		message = "The group is busy, please retry"
		action = "retry"
	default:
		status = http.StatusInternalServerError
		message = "Something went wrong"
	}

	h.Logger.Warn("API", fmt.Sprintf("business error (%d): %v", status, err))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(utils.ErrorResponseWithAction(message, err.Error(), action))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(utils.ErrorResponse(message, detail))
}
