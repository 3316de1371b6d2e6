package groupbuy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
	"ms-groupbuy/internal/utils"
)

// Business-rule errors surfaced to users with specific remediation copy.
var (
	ErrAlreadyParticipating = errors.New("user already participates in this group purchase")
	ErrNotParticipating     = errors.New("user does not participate in this group purchase")
	ErrGroupFull            = errors.New("group purchase has reached its participant cap")
	ErrGroupClosed          = errors.New("group purchase has ended")
	ErrProfileIncomplete    = errors.New("delivery address missing from profile")
	ErrGroupBusy            = errors.New("group purchase is busy, try again")
)

type DBLayer interface {
	GetGroupPurchase(ctx context.Context, groupID string) (*models.GroupPurchase, error)
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	GetDiscountTiers(ctx context.Context, productID string) ([]models.DiscountTier, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetActiveParticipation(ctx context.Context, groupID, userID string) (*models.Participation, error)
	IncrementParticipants(ctx context.Context, groupID string) (bool, error)
	DecrementParticipants(ctx context.Context, groupID string) error
	UpsertParticipation(ctx context.Context, participation models.Participation) error
	DeactivateParticipation(ctx context.Context, groupID, userID string) error
	UpdateCurrentPrice(ctx context.Context, groupID string, price float64) error
	CloseGroup(ctx context.Context, groupID string) error
}

type GroupCache interface {
	LockGroup(ctx context.Context, groupID, token string) (bool, error)
	UnlockGroup(ctx context.Context, groupID, token string) error
	GetSnapshot(ctx context.Context, groupID string) (*models.GroupSnapshot, error)
	StoreSnapshot(ctx context.Context, snapshot models.GroupSnapshot) error
	InvalidateSnapshot(ctx context.Context, groupID string) (int64, error)
	SnapshotVersion(ctx context.Context, groupID string) (int64, error)
}

type KafkaPublisher interface {
	PublishParticipantJoined(group models.GroupPurchase, userID string) error
	PublishParticipantLeft(group models.GroupPurchase, userID string) error
	PublishGroupCompleted(group models.GroupPurchase) error
	PublishGroupClosed(group models.GroupPurchase) error
}

type Service struct {
	DB     DBLayer
	Cache  GroupCache
	Kafka  KafkaPublisher
	Logger *logger.Logger

	now func() time.Time
}

func NewService(db DBLayer, cache GroupCache, kafka KafkaPublisher, log *logger.Logger) *Service {
	return &Service{
		DB:     db,
		Cache:  cache,
		Kafka:  kafka,
		Logger: log,
		now:    time.Now,
	}
}

const (
	lockAttempts = 40
	lockBackoff  = 25 * time.Millisecond
)

// acquireGroupLock serializes join/leave for one group. The conditional
// counter update in the DB layer is what actually prevents overshoot; the
// lock only keeps the participation check and the increment from
// interleaving between two callers.
func (s *Service) acquireGroupLock(ctx context.Context, groupID string) (string, error) {
	token := uuid.NewString()
	for attempt := 0; attempt < lockAttempts; attempt++ {
		ok, err := s.Cache.LockGroup(ctx, groupID, token)
		if err != nil {
			return "", fmt.Errorf("group lock error: %w", err)
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockBackoff):
		}
	}
	return "", ErrGroupBusy
}

// Join adds the user to a group purchase. The profile check runs before
// anything else touches the group: a user without a delivery address must
// never acquire the lock or mutate the counter.
func (s *Service) Join(ctx context.Context, groupID, userID string) (*models.GroupPurchase, error) {
	user, err := s.DB.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if !user.HasDeliveryAddress() {
		return nil, ErrProfileIncomplete
	}

	group, err := s.DB.GetGroupPurchase(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group purchase %s not found: %w", groupID, err)
	}
	if StatusAt(*group, s.now()) == models.GroupStatusEnded {
		return nil, ErrGroupClosed
	}

	token, err := s.acquireGroupLock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Cache.UnlockGroup(ctx, groupID, token); err != nil {
			s.Logger.Error("GROUP", fmt.Sprintf("failed to release lock for group %s: %v", groupID, err))
		}
	}()

	existing, err := s.DB.GetActiveParticipation(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check participation: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyParticipating
	}

	applied, err := s.DB.IncrementParticipants(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment participants: %w", err)
	}
	if !applied {
		// The guarded update rejected: either the cap was hit or the group
		// ended between the status check and now.
		fresh, ferr := s.DB.GetGroupPurchase(ctx, groupID)
		if ferr == nil && StatusAt(*fresh, s.now()) == models.GroupStatusEnded {
			return nil, ErrGroupClosed
		}
		return nil, ErrGroupFull
	}

	participation := models.Participation{
		ParticipationID: utils.GenerateParticipationID(),
		GroupID:         groupID,
		UserID:          userID,
		Status:          models.ParticipationJoined,
		JoinedAt:        s.now(),
	}
	if err := s.DB.UpsertParticipation(ctx, participation); err != nil {
		// Roll the counter back so it never drifts from the join rows.
		if derr := s.DB.DecrementParticipants(ctx, groupID); derr != nil {
			s.Logger.Error("GROUP", fmt.Sprintf("rollback decrement failed for group %s: %v", groupID, derr))
		}
		return nil, fmt.Errorf("failed to record participation: %w", err)
	}

	updated, err := s.settlePrice(ctx, groupID)
	if err != nil {
		// The participation is already durable; settlement catches up on
		// the next mutation. The response still reflects the committed join.
		s.Logger.Error("GROUP", fmt.Sprintf("price settlement failed for group %s: %v", groupID, err))
	}
	if updated == nil {
		group.CurrentParticipants++
		updated = group
	}

	if _, err := s.Cache.InvalidateSnapshot(ctx, groupID); err != nil {
		s.Logger.Error("GROUP", fmt.Sprintf("snapshot invalidation failed for group %s: %v", groupID, err))
	}

	if err := s.Kafka.PublishParticipantJoined(*updated, userID); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish participant_joined failed: %v", err))
	}
	if IsComplete(*updated) {
		if err := s.Kafka.PublishGroupCompleted(*updated); err != nil {
			s.Logger.Error("KAFKA", fmt.Sprintf("publish group_completed failed: %v", err))
		}
	}

	s.Logger.LogGroup("JOIN", groupID, fmt.Sprintf("user %s joined, participants now %d/%d",
		userID, updated.CurrentParticipants, updated.TargetParticipants))
	return updated, nil
}

// Leave removes the user's active participation and decrements the counter,
// floored at zero by the guarded update.
func (s *Service) Leave(ctx context.Context, groupID, userID string) (*models.GroupPurchase, error) {
	group, err := s.DB.GetGroupPurchase(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group purchase %s not found: %w", groupID, err)
	}
	if StatusAt(*group, s.now()) == models.GroupStatusEnded {
		return nil, ErrGroupClosed
	}

	token, err := s.acquireGroupLock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.Cache.UnlockGroup(ctx, groupID, token); err != nil {
			s.Logger.Error("GROUP", fmt.Sprintf("failed to release lock for group %s: %v", groupID, err))
		}
	}()

	existing, err := s.DB.GetActiveParticipation(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check participation: %w", err)
	}
	if existing == nil {
		return nil, ErrNotParticipating
	}

	if err := s.DB.DeactivateParticipation(ctx, groupID, userID); err != nil {
		return nil, fmt.Errorf("failed to deactivate participation: %w", err)
	}
	if err := s.DB.DecrementParticipants(ctx, groupID); err != nil {
		return nil, fmt.Errorf("failed to decrement participants: %w", err)
	}

	updated, err := s.settlePrice(ctx, groupID)
	if err != nil {
		s.Logger.Error("GROUP", fmt.Sprintf("price settlement failed for group %s: %v", groupID, err))
	}
	if updated == nil {
		if group.CurrentParticipants > 0 {
			group.CurrentParticipants--
		}
		updated = group
	}

	if _, err := s.Cache.InvalidateSnapshot(ctx, groupID); err != nil {
		s.Logger.Error("GROUP", fmt.Sprintf("snapshot invalidation failed for group %s: %v", groupID, err))
	}

	if err := s.Kafka.PublishParticipantLeft(*updated, userID); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish participant_left failed: %v", err))
	}

	s.Logger.LogGroup("LEAVE", groupID, fmt.Sprintf("user %s left, participants now %d/%d",
		userID, updated.CurrentParticipants, updated.TargetParticipants))
	return updated, nil
}

// settlePrice advances the authoritative current price to the highest tier
// the fresh participant count has reached. When a step past the reload
// fails, the freshest group it loaded comes back alongside the error.
func (s *Service) settlePrice(ctx context.Context, groupID string) (*models.GroupPurchase, error) {
	group, err := s.DB.GetGroupPurchase(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload group %s: %w", groupID, err)
	}
	product, err := s.DB.GetProduct(ctx, group.ProductID)
	if err != nil {
		return group, fmt.Errorf("failed to load product %s: %w", group.ProductID, err)
	}
	tiers, err := s.DB.GetDiscountTiers(ctx, group.ProductID)
	if err != nil {
		return group, fmt.Errorf("failed to load discount tiers: %w", err)
	}

	settled := SettledPrice(*product, tiers, group.CurrentParticipants)
	if settled != group.CurrentPrice {
		if err := s.DB.UpdateCurrentPrice(ctx, groupID, settled); err != nil {
			return group, fmt.Errorf("failed to update current price: %w", err)
		}
		group.CurrentPrice = settled
	}
	return group, nil
}

// Snapshot returns the aggregate view of a group, served from the cache
// when present. Mutations bump the version key, so a snapshot read after a
// successful join always reflects the new count.
func (s *Service) Snapshot(ctx context.Context, groupID string) (*models.GroupSnapshot, error) {
	if cached, err := s.Cache.GetSnapshot(ctx, groupID); err == nil && cached != nil {
		return cached, nil
	}

	group, err := s.DB.GetGroupPurchase(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("group purchase %s not found: %w", groupID, err)
	}
	product, err := s.DB.GetProduct(ctx, group.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", group.ProductID, err)
	}
	tiers, err := s.DB.GetDiscountTiers(ctx, group.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to load discount tiers: %w", err)
	}
	version, err := s.Cache.SnapshotVersion(ctx, groupID)
	if err != nil {
		s.Logger.Warn("GROUP", fmt.Sprintf("snapshot version unavailable for group %s: %v", groupID, err))
	}

	group.Status = StatusAt(*group, s.now())
	snapshot := models.GroupSnapshot{
		Group:          *group,
		Product:        *product,
		Tiers:          sortedTiers(tiers),
		DisplayedPrice: CurrentDiscountPrice(tiers, *group),
		Savings:        Savings(*product, tiers, *group),
		Remaining:      RemainingParticipants(*group),
		Complete:       IsComplete(*group),
		Version:        version,
	}

	if err := s.Cache.StoreSnapshot(ctx, snapshot); err != nil {
		s.Logger.Warn("GROUP", fmt.Sprintf("snapshot store failed for group %s: %v", groupID, err))
	}
	return &snapshot, nil
}

// Participation reports whether the user currently participates in the group.
func (s *Service) Participation(ctx context.Context, groupID, userID string) (*models.ParticipationResponse, error) {
	participation, err := s.DB.GetActiveParticipation(ctx, groupID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check participation: %w", err)
	}
	resp := &models.ParticipationResponse{
		GroupID:       groupID,
		UserID:        userID,
		Participating: participation != nil,
	}
	if participation != nil {
		resp.JoinedAt = participation.JoinedAt.Format(time.RFC3339)
	}
	return resp, nil
}

// Close marks a group ended. Used by the end-time watcher and by sellers
// closing a group manually. Ended groups never reactivate.
func (s *Service) Close(ctx context.Context, groupID string) error {
	group, err := s.DB.GetGroupPurchase(ctx, groupID)
	if err != nil {
		return fmt.Errorf("group purchase %s not found: %w", groupID, err)
	}
	if group.Status == models.GroupStatusEnded {
		return nil
	}

	if err := s.DB.CloseGroup(ctx, groupID); err != nil {
		return fmt.Errorf("failed to close group %s: %w", groupID, err)
	}
	group.Status = models.GroupStatusEnded

	if _, err := s.Cache.InvalidateSnapshot(ctx, groupID); err != nil {
		s.Logger.Error("GROUP", fmt.Sprintf("snapshot invalidation failed for group %s: %v", groupID, err))
	}
	if err := s.Kafka.PublishGroupClosed(*group); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("publish group_closed failed: %v", err))
	}

	s.Logger.LogGroup("CLOSE", groupID, "group purchase closed")
	return nil
}
