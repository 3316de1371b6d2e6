package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"ms-groupbuy/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- GROUP PURCHASES ----------------

func (d *DB) GetGroupPurchase(ctx context.Context, groupID string) (*models.GroupPurchase, error) {
	var group models.GroupPurchase
	err := d.Bun.NewSelect().
		Model(&group).
		Where("group_id = ?", groupID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// IncrementParticipants bumps the participant counter in a single guarded
// statement. Two concurrent joins can never both slip past the cap: the
// check and the write are one atomic read-modify-write in the database.
// Returns false when the cap is reached or the group is no longer active.
func (d *DB) IncrementParticipants(ctx context.Context, groupID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.GroupPurchase)(nil)).
		Set("current_participants = current_participants + 1").
		Where("group_id = ?", groupID).
		Where("current_participants < max_participants").
		Where("status = ?", models.GroupStatusActive).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DecrementParticipants lowers the counter, floored at zero by the guard.
func (d *DB) DecrementParticipants(ctx context.Context, groupID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.GroupPurchase)(nil)).
		Set("current_participants = current_participants - 1").
		Where("group_id = ?", groupID).
		Where("current_participants > 0").
		Exec(ctx)
	return err
}

func (d *DB) UpdateCurrentPrice(ctx context.Context, groupID string, price float64) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.GroupPurchase)(nil)).
		Set("current_price = ?", price).
		Where("group_id = ?", groupID).
		Exec(ctx)
	return err
}

// CloseGroup marks a group ended. There is no reverse transition.
func (d *DB) CloseGroup(ctx context.Context, groupID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.GroupPurchase)(nil)).
		Set("status = ?", models.GroupStatusEnded).
		Where("group_id = ?", groupID).
		Exec(ctx)
	return err
}

// ListActiveGroups returns all groups still marked active, used to re-arm
// the end-time watcher after a restart.
func (d *DB) ListActiveGroups(ctx context.Context) ([]models.GroupPurchase, error) {
	var groups []models.GroupPurchase
	err := d.Bun.NewSelect().
		Model(&groups).
		Where("status = ?", models.GroupStatusActive).
		Order("end_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// ---------------- PRODUCTS & TIERS ----------------

func (d *DB) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var product models.Product
	err := d.Bun.NewSelect().
		Model(&product).
		Where("product_id = ?", productID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (d *DB) GetDiscountTiers(ctx context.Context, productID string) ([]models.DiscountTier, error) {
	var tiers []models.DiscountTier
	err := d.Bun.NewSelect().
		Model(&tiers).
		Where("product_id = ?", productID).
		Order("participant_count ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tiers, nil
}

// ---------------- USERS ----------------

func (d *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ---------------- PARTICIPATIONS ----------------

// GetActiveParticipation returns the user's joined row for the group, or
// nil when none exists.
func (d *DB) GetActiveParticipation(ctx context.Context, groupID, userID string) (*models.Participation, error) {
	var participation models.Participation
	err := d.Bun.NewSelect().
		Model(&participation).
		Where("group_id = ?", groupID).
		Where("user_id = ?", userID).
		Where("status = ?", models.ParticipationJoined).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &participation, nil
}

// UpsertParticipation inserts a join row, reactivating a previous "left"
// row for the same user and group instead of duplicating it.
func (d *DB) UpsertParticipation(ctx context.Context, participation models.Participation) error {
	_, err := d.Bun.NewInsert().
		Model(&participation).
		On("CONFLICT (group_id, user_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("joined_at = EXCLUDED.joined_at").
		Set("left_at = NULL").
		Exec(ctx)
	return err
}

func (d *DB) DeactivateParticipation(ctx context.Context, groupID, userID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Participation)(nil)).
		Set("status = ?", models.ParticipationLeft).
		Set("left_at = ?", time.Now()).
		Where("group_id = ?", groupID).
		Where("user_id = ?", userID).
		Where("status = ?", models.ParticipationJoined).
		Exec(ctx)
	return err
}

// GetParticipantsByGroup returns the user IDs of everyone currently joined,
// used by the notifier to fan out group events.
func (d *DB) GetParticipantsByGroup(ctx context.Context, groupID string) ([]string, error) {
	var userIDs []string
	err := d.Bun.NewSelect().
		Column("user_id").
		Table("participations").
		Where("group_id = ?", groupID).
		Where("status = ?", models.ParticipationJoined).
		Scan(ctx, &userIDs)
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}
