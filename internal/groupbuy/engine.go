package groupbuy

import (
	"sort"
	"time"

	"ms-groupbuy/internal/models"
)

// sortedTiers returns the tiers in ascending threshold order without
// mutating the caller's slice.
func sortedTiers(tiers []models.DiscountTier) []models.DiscountTier {
	out := make([]models.DiscountTier, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ParticipantCount < out[j].ParticipantCount
	})
	return out
}

// CurrentDiscountPrice is the price shown to shoppers. When the product has
// discount tiers, the first tier's final price is surfaced immediately as
// the target price, before any threshold is met. Sellers commit to that
// price, so the storefront shows it instead of the original price. Without
// tiers it falls back to the group's tracked current price.
func CurrentDiscountPrice(tiers []models.DiscountTier, group models.GroupPurchase) float64 {
	if len(tiers) == 0 {
		return group.CurrentPrice
	}
	return sortedTiers(tiers)[0].FinalPrice
}

// ApplicableTier is the highest tier whose threshold the participant count
// has reached. Before the first threshold it returns the first tier as a
// preview. Nil when the product has no tiers.
func ApplicableTier(tiers []models.DiscountTier, participants int) *models.DiscountTier {
	if len(tiers) == 0 {
		return nil
	}
	ordered := sortedTiers(tiers)
	applicable := ordered[0]
	for _, tier := range ordered {
		if tier.ParticipantCount <= participants {
			applicable = tier
		}
	}
	return &applicable
}

// SettledPrice is the server-authoritative price for the participant count
// actually reached: the original price until the first threshold is met,
// then the reached tier's final price.
func SettledPrice(product models.Product, tiers []models.DiscountTier, participants int) float64 {
	ordered := sortedTiers(tiers)
	price := product.OriginalPrice
	for _, tier := range ordered {
		if tier.ParticipantCount <= participants {
			price = tier.FinalPrice
		}
	}
	return price
}

func IsComplete(group models.GroupPurchase) bool {
	return group.CurrentParticipants >= group.TargetParticipants
}

func RemainingParticipants(group models.GroupPurchase) int {
	remaining := group.TargetParticipants - group.CurrentParticipants
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Savings is the difference between the original price and the displayed
// discount price, floored at zero.
func Savings(product models.Product, tiers []models.DiscountTier, group models.GroupPurchase) float64 {
	saved := product.OriginalPrice - CurrentDiscountPrice(tiers, group)
	if saved < 0 {
		return 0
	}
	return saved
}

// StatusAt derives the group's status at a point in time. A group already
// marked ended stays ended; active groups end when their end time passes.
func StatusAt(group models.GroupPurchase, now time.Time) string {
	if group.Status == models.GroupStatusEnded {
		return models.GroupStatusEnded
	}
	if !now.Before(group.EndTime) {
		return models.GroupStatusEnded
	}
	return models.GroupStatusActive
}
