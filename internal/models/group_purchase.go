package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	GroupStatusActive = "active"
	GroupStatusEnded  = "ended"
)

type GroupPurchase struct {
	bun.BaseModel `bun:"table:group_purchases"`

	GroupID             string    `bun:"group_id,pk" json:"group_id"`
	ProductID           string    `bun:"product_id" json:"product_id"`
	TargetParticipants  int       `bun:"target_participants" json:"target_participants"`
	MaxParticipants     int       `bun:"max_participants" json:"max_participants"`
	CurrentParticipants int       `bun:"current_participants" json:"current_participants"`
	CurrentPrice        float64   `bun:"current_price" json:"current_price"`
	Status              string    `bun:"status" json:"status"`
	EndTime             time.Time `bun:"end_time" json:"end_time"`
	CreatedAt           time.Time `bun:"created_at" json:"created_at"`
}

// GroupSnapshot is the aggregate view returned to shoppers. DisplayedPrice
// is the optimistic first-tier price; CurrentPrice is the settled,
// server-authoritative price for the participant count actually reached.
type GroupSnapshot struct {
	Group          GroupPurchase  `json:"group"`
	Product        Product        `json:"product"`
	Tiers          []DiscountTier `json:"tiers"`
	DisplayedPrice float64        `json:"displayed_price"`
	Savings        float64        `json:"savings"`
	Remaining      int            `json:"remaining_participants"`
	Complete       bool           `json:"complete"`
	Version        int64          `json:"version"`
}
