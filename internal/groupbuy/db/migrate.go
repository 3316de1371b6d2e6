package db

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"ms-groupbuy/internal/models"
)

// Migrate creates the group-buy tables. Production deployments run the
// versioned migrations instead; this is the dev/test bootstrap.
func Migrate(bunDB *bun.DB) {
	ctx := context.Background()

	tables := []interface{}{
		(*models.User)(nil),
		(*models.Product)(nil),
		(*models.DiscountTier)(nil),
		(*models.GroupPurchase)(nil),
		(*models.Participation)(nil),
		(*models.Notification)(nil),
	}

	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			log.Fatalf("create table failed: %v", err)
		}
	}

	// One participation row per user per group; join reactivates via upsert.
	if _, err := bunDB.NewCreateIndex().
		Model((*models.Participation)(nil)).
		Index("idx_participations_group_user").
		Unique().
		Column("group_id", "user_id").
		IfNotExists().
		Exec(ctx); err != nil {
		log.Fatalf("create index failed: %v", err)
	}

	log.Println("group-buy tables ready")
}
