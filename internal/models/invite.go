package models

import "time"

// GroupInvite is the payload embedded in a shared invite QR code.
type GroupInvite struct {
	GroupID   string    `json:"group_id"`
	ProductID string    `json:"product_id"`
	InvitedBy string    `json:"invited_by"`
	ExpiresAt time.Time `json:"expires_at"`
}
