package notify

import (
	"context"

	"github.com/uptrace/bun"

	"ms-groupbuy/internal/models"
)

// Store persists notifications so list views survive reconnects. The
// realtime channel itself stays ephemeral.
type Store struct {
	Bun *bun.DB
}

func NewStore(bunDB *bun.DB) *Store {
	return &Store{Bun: bunDB}
}

func (s *Store) Create(ctx context.Context, notification models.Notification) error {
	_, err := s.Bun.NewInsert().Model(&notification).Exec(ctx)
	return err
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var notifications []models.Notification
	err := s.Bun.NewSelect().
		Model(&notifications).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	return notifications, nil
}

func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.Bun.NewSelect().
		Model((*models.Notification)(nil)).
		Where("user_id = ?", userID).
		Where("read = ?", false).
		Count(ctx)
}

// MarkRead flips one notification for the owning user only.
func (s *Store) MarkRead(ctx context.Context, notificationID, userID string) error {
	_, err := s.Bun.NewUpdate().
		Model((*models.Notification)(nil)).
		Set("read = ?", true).
		Where("notification_id = ?", notificationID).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}
