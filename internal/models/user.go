package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	UserID          string    `bun:"user_id,pk" json:"user_id"`
	Email           string    `bun:"email" json:"email"`
	FullName        string    `bun:"full_name" json:"full_name"`
	DeliveryAddress string    `bun:"delivery_address,nullzero" json:"delivery_address,omitempty"`
	CreatedAt       time.Time `bun:"created_at" json:"created_at"`
}

// HasDeliveryAddress reports whether the profile is complete enough to join
// a group purchase.
func (u *User) HasDeliveryAddress() bool {
	return u != nil && u.DeliveryAddress != ""
}
