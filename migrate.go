package main

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	gbdb "ms-groupbuy/internal/groupbuy/db"
	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
)

// bootstrapSchema creates the tables and optionally seeds demo data so a
// fresh checkout can be exercised without any external setup.
func bootstrapSchema(bunDB *bun.DB, seed bool, log *logger.Logger) {
	gbdb.Migrate(bunDB)

	if !seed {
		return
	}
	if err := seedDemoData(bunDB); err != nil {
		log.Error("DATABASE", fmt.Sprintf("Seeding demo data failed: %v", err))
		return
	}
	log.Info("DATABASE", "Demo data seeded")
}

func seedDemoData(bunDB *bun.DB) error {
	ctx := context.Background()
	now := time.Now()

	users := []models.User{
		{UserID: "user_alice", Email: "alice@example.com", FullName: "Alice Kim", DeliveryAddress: "12 Maple Street, Springfield", CreatedAt: now},
		{UserID: "user_bob", Email: "bob@example.com", FullName: "Bob Tran", DeliveryAddress: "48 Oak Avenue, Springfield", CreatedAt: now},
		{UserID: "user_carol", Email: "carol@example.com", FullName: "Carol Diaz", CreatedAt: now},
	}
	if _, err := bunDB.NewInsert().Model(&users).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	product := models.Product{
		ProductID:     "prod_rice_10kg",
		SellerID:      "seller_farmfresh",
		Name:          "Organic Rice 10kg",
		Description:   "Locally grown organic rice, bulk pack",
		OriginalPrice: 12.00,
		CreatedAt:     now,
	}
	if _, err := bunDB.NewInsert().Model(&product).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	tiers := []models.DiscountTier{
		{TierID: "tier_rice_5", ProductID: product.ProductID, ParticipantCount: 5, FinalPrice: 8.00},
		{TierID: "tier_rice_10", ProductID: product.ProductID, ParticipantCount: 10, FinalPrice: 6.00},
	}
	if _, err := bunDB.NewInsert().Model(&tiers).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	group := models.GroupPurchase{
		GroupID:            "group_rice_weekly",
		ProductID:          product.ProductID,
		TargetParticipants: 10,
		MaxParticipants:    25,
		CurrentPrice:       product.OriginalPrice,
		Status:             models.GroupStatusActive,
		EndTime:            now.Add(72 * time.Hour),
		CreatedAt:          now,
	}
	if _, err := bunDB.NewInsert().Model(&group).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return err
	}

	return nil
}
