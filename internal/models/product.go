package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Product struct {
	bun.BaseModel `bun:"table:products"`

	ProductID     string    `bun:"product_id,pk" json:"product_id"`
	SellerID      string    `bun:"seller_id" json:"seller_id"`
	Name          string    `bun:"name" json:"name"`
	Description   string    `bun:"description" json:"description,omitempty"`
	OriginalPrice float64   `bun:"original_price" json:"original_price"`
	CreatedAt     time.Time `bun:"created_at" json:"created_at"`
}

// DiscountTier is a price threshold committed by the seller: once
// ParticipantCount buyers have joined, every participant pays FinalPrice.
// Tiers for a product are kept in ascending ParticipantCount order.
type DiscountTier struct {
	bun.BaseModel `bun:"table:discount_tiers"`

	TierID           string  `bun:"tier_id,pk" json:"tier_id"`
	ProductID        string  `bun:"product_id" json:"product_id"`
	ParticipantCount int     `bun:"participant_count" json:"participant_count"`
	FinalPrice       float64 `bun:"final_price" json:"final_price"`
}
