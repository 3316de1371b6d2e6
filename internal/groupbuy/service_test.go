package groupbuy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-groupbuy/internal/groupbuy"
	"ms-groupbuy/internal/logger"
	"ms-groupbuy/internal/models"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) GetGroupPurchase(ctx context.Context, groupID string) (*models.GroupPurchase, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GroupPurchase), args.Error(1)
}

func (m *MockDBLayer) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockDBLayer) GetDiscountTiers(ctx context.Context, productID string) ([]models.DiscountTier, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DiscountTier), args.Error(1)
}

func (m *MockDBLayer) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockDBLayer) GetActiveParticipation(ctx context.Context, groupID, userID string) (*models.Participation, error) {
	args := m.Called(ctx, groupID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participation), args.Error(1)
}

func (m *MockDBLayer) IncrementParticipants(ctx context.Context, groupID string) (bool, error) {
	args := m.Called(ctx, groupID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) DecrementParticipants(ctx context.Context, groupID string) error {
	args := m.Called(ctx, groupID)
	return args.Error(0)
}

func (m *MockDBLayer) UpsertParticipation(ctx context.Context, participation models.Participation) error {
	args := m.Called(ctx, participation)
	return args.Error(0)
}

func (m *MockDBLayer) DeactivateParticipation(ctx context.Context, groupID, userID string) error {
	args := m.Called(ctx, groupID, userID)
	return args.Error(0)
}

func (m *MockDBLayer) UpdateCurrentPrice(ctx context.Context, groupID string, price float64) error {
	args := m.Called(ctx, groupID, price)
	return args.Error(0)
}

func (m *MockDBLayer) CloseGroup(ctx context.Context, groupID string) error {
	args := m.Called(ctx, groupID)
	return args.Error(0)
}

type MockGroupCache struct {
	mock.Mock
}

func (m *MockGroupCache) LockGroup(ctx context.Context, groupID, token string) (bool, error) {
	args := m.Called(ctx, groupID, token)
	return args.Bool(0), args.Error(1)
}

func (m *MockGroupCache) UnlockGroup(ctx context.Context, groupID, token string) error {
	args := m.Called(ctx, groupID, token)
	return args.Error(0)
}

func (m *MockGroupCache) GetSnapshot(ctx context.Context, groupID string) (*models.GroupSnapshot, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GroupSnapshot), args.Error(1)
}

func (m *MockGroupCache) StoreSnapshot(ctx context.Context, snapshot models.GroupSnapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockGroupCache) InvalidateSnapshot(ctx context.Context, groupID string) (int64, error) {
	args := m.Called(ctx, groupID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGroupCache) SnapshotVersion(ctx context.Context, groupID string) (int64, error) {
	args := m.Called(ctx, groupID)
	return args.Get(0).(int64), args.Error(1)
}

type MockKafkaPublisher struct {
	mock.Mock
}

func (m *MockKafkaPublisher) PublishParticipantJoined(group models.GroupPurchase, userID string) error {
	args := m.Called(group, userID)
	return args.Error(0)
}

func (m *MockKafkaPublisher) PublishParticipantLeft(group models.GroupPurchase, userID string) error {
	args := m.Called(group, userID)
	return args.Error(0)
}

func (m *MockKafkaPublisher) PublishGroupCompleted(group models.GroupPurchase) error {
	args := m.Called(group)
	return args.Error(0)
}

func (m *MockKafkaPublisher) PublishGroupClosed(group models.GroupPurchase) error {
	args := m.Called(group)
	return args.Error(0)
}

func newTestService(db *MockDBLayer, cache *MockGroupCache, kafka *MockKafkaPublisher) *groupbuy.Service {
	return groupbuy.NewService(db, cache, kafka, logger.NewLogger())
}

func activeGroup() *models.GroupPurchase {
	return &models.GroupPurchase{
		GroupID:             "group-1",
		ProductID:           "prod-rice",
		TargetParticipants:  10,
		MaxParticipants:     25,
		CurrentParticipants: 1,
		CurrentPrice:        12.00,
		Status:              models.GroupStatusActive,
		EndTime:             time.Now().Add(time.Hour),
	}
}

func userWithAddress() *models.User {
	return &models.User{
		UserID:          "user-1",
		Email:           "user1@example.com",
		DeliveryAddress: "12 Maple Street",
	}
}

// Tests start here
func TestJoin_Success(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	group := activeGroup()
	product := &models.Product{ProductID: "prod-rice", OriginalPrice: 12.00}

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(group, nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").Return(nil, nil)
	mockDB.On("IncrementParticipants", mock.Anything, "group-1").Return(true, nil)
	mockDB.On("UpsertParticipation", mock.Anything, mock.MatchedBy(func(p models.Participation) bool {
		return p.GroupID == "group-1" && p.UserID == "user-1" && p.Status == models.ParticipationJoined
	})).Return(nil)
	mockDB.On("GetProduct", mock.Anything, "prod-rice").Return(product, nil)
	mockDB.On("GetDiscountTiers", mock.Anything, "prod-rice").Return([]models.DiscountTier{}, nil)
	mockCache.On("InvalidateSnapshot", mock.Anything, "group-1").Return(int64(1), nil)
	mockKafka.On("PublishParticipantJoined", mock.Anything, "user-1").Return(nil)

	result, err := svc.Join(context.Background(), "group-1", "user-1")

	require.NoError(t, err)
	assert.Equal(t, "group-1", result.GroupID)
	mockDB.AssertExpectations(t)
	mockCache.AssertExpectations(t)
	mockKafka.AssertExpectations(t)
}

func TestJoin_ProfileIncompleteCheckedFirst(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	// No delivery address on the profile.
	mockDB.On("GetUser", mock.Anything, "user-1").Return(&models.User{UserID: "user-1"}, nil)

	result, err := svc.Join(context.Background(), "group-1", "user-1")

	assert.ErrorIs(t, err, groupbuy.ErrProfileIncomplete)
	assert.Nil(t, result)

	// The group was never touched: no status read, no lock, no counter.
	mockDB.AssertNotCalled(t, "GetGroupPurchase", mock.Anything, mock.Anything)
	mockDB.AssertNotCalled(t, "IncrementParticipants", mock.Anything, mock.Anything)
	mockCache.AssertNotCalled(t, "LockGroup", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoin_AlreadyParticipating(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(activeGroup(), nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").
		Return(&models.Participation{GroupID: "group-1", UserID: "user-1", Status: models.ParticipationJoined}, nil)

	_, err := svc.Join(context.Background(), "group-1", "user-1")

	assert.ErrorIs(t, err, groupbuy.ErrAlreadyParticipating)
	mockDB.AssertNotCalled(t, "IncrementParticipants", mock.Anything, mock.Anything)
	mockCache.AssertExpectations(t)
}

func TestJoin_GroupFull(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	full := activeGroup()
	full.CurrentParticipants = full.MaxParticipants

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(full, nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").Return(nil, nil)
	mockDB.On("IncrementParticipants", mock.Anything, "group-1").Return(false, nil)

	_, err := svc.Join(context.Background(), "group-1", "user-1")

	assert.ErrorIs(t, err, groupbuy.ErrGroupFull)
	mockDB.AssertNotCalled(t, "UpsertParticipation", mock.Anything, mock.Anything)
}

func TestJoin_EndedGroup(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	ended := activeGroup()
	ended.Status = models.GroupStatusEnded

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(ended, nil)

	_, err := svc.Join(context.Background(), "group-1", "user-1")

	assert.ErrorIs(t, err, groupbuy.ErrGroupClosed)
	mockCache.AssertNotCalled(t, "LockGroup", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoin_RollsBackCounterWhenParticipationWriteFails(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(activeGroup(), nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").Return(nil, nil)
	mockDB.On("IncrementParticipants", mock.Anything, "group-1").Return(true, nil)
	mockDB.On("UpsertParticipation", mock.Anything, mock.Anything).Return(errors.New("insert failed"))
	mockDB.On("DecrementParticipants", mock.Anything, "group-1").Return(nil)

	_, err := svc.Join(context.Background(), "group-1", "user-1")

	assert.Error(t, err)
	// The counter never drifts from the participation rows.
	mockDB.AssertCalled(t, "DecrementParticipants", mock.Anything, "group-1")
}

func TestJoin_SettleFailureDoesNotFailDurableJoin(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	group := activeGroup()

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(group, nil).Once()
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").Return(nil, nil)
	mockDB.On("IncrementParticipants", mock.Anything, "group-1").Return(true, nil)
	mockDB.On("UpsertParticipation", mock.Anything, mock.Anything).Return(nil)

	// The settlement reload fails after the participation committed.
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(nil, errors.New("connection reset"))

	mockCache.On("InvalidateSnapshot", mock.Anything, "group-1").Return(int64(1), nil)
	mockKafka.On("PublishParticipantJoined", mock.Anything, "user-1").Return(nil)

	result, err := svc.Join(context.Background(), "group-1", "user-1")

	require.NoError(t, err, "a committed join must not surface a settlement error")
	assert.Equal(t, 2, result.CurrentParticipants, "response reflects the committed join")

	// Stale aggregates are still busted and the event still goes out.
	mockCache.AssertCalled(t, "InvalidateSnapshot", mock.Anything, "group-1")
	mockKafka.AssertCalled(t, "PublishParticipantJoined", mock.Anything, "user-1")
}

func TestLeave_Success(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	group := activeGroup()
	product := &models.Product{ProductID: "prod-rice", OriginalPrice: 12.00}

	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(group, nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").
		Return(&models.Participation{GroupID: "group-1", UserID: "user-1", Status: models.ParticipationJoined}, nil)
	mockDB.On("DeactivateParticipation", mock.Anything, "group-1", "user-1").Return(nil)
	mockDB.On("DecrementParticipants", mock.Anything, "group-1").Return(nil)
	mockDB.On("GetProduct", mock.Anything, "prod-rice").Return(product, nil)
	mockDB.On("GetDiscountTiers", mock.Anything, "prod-rice").Return([]models.DiscountTier{}, nil)
	mockCache.On("InvalidateSnapshot", mock.Anything, "group-1").Return(int64(2), nil)
	mockKafka.On("PublishParticipantLeft", mock.Anything, "user-1").Return(nil)

	result, err := svc.Leave(context.Background(), "group-1", "user-1")

	require.NoError(t, err)
	assert.Equal(t, "group-1", result.GroupID)
	mockDB.AssertExpectations(t)
	mockKafka.AssertExpectations(t)
}

func TestLeave_NotParticipating(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(activeGroup(), nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").Return(nil, nil)

	_, err := svc.Leave(context.Background(), "group-1", "user-1")

	assert.ErrorIs(t, err, groupbuy.ErrNotParticipating)
	mockDB.AssertNotCalled(t, "DecrementParticipants", mock.Anything, mock.Anything)
}

func TestJoin_CompletionPublishesEvent(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	group := activeGroup()
	group.CurrentParticipants = group.TargetParticipants // hit the target
	product := &models.Product{ProductID: "prod-rice", OriginalPrice: 12.00}

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(group, nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(true, nil)
	mockCache.On("UnlockGroup", mock.Anything, "group-1", mock.Anything).Return(nil)
	mockDB.On("GetActiveParticipation", mock.Anything, "group-1", "user-1").Return(nil, nil)
	mockDB.On("IncrementParticipants", mock.Anything, "group-1").Return(true, nil)
	mockDB.On("UpsertParticipation", mock.Anything, mock.Anything).Return(nil)
	mockDB.On("GetProduct", mock.Anything, "prod-rice").Return(product, nil)
	mockDB.On("GetDiscountTiers", mock.Anything, "prod-rice").Return([]models.DiscountTier{}, nil)
	mockCache.On("InvalidateSnapshot", mock.Anything, "group-1").Return(int64(3), nil)
	mockKafka.On("PublishParticipantJoined", mock.Anything, "user-1").Return(nil)
	mockKafka.On("PublishGroupCompleted", mock.Anything).Return(nil)

	_, err := svc.Join(context.Background(), "group-1", "user-1")

	require.NoError(t, err)
	mockKafka.AssertCalled(t, "PublishGroupCompleted", mock.Anything)
}

func TestClose_Idempotent(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	ended := activeGroup()
	ended.Status = models.GroupStatusEnded
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(ended, nil)

	err := svc.Close(context.Background(), "group-1")

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "CloseGroup", mock.Anything, mock.Anything)
	mockKafka.AssertNotCalled(t, "PublishGroupClosed", mock.Anything)
}

func TestSnapshot_ServedFromCache(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	cached := &models.GroupSnapshot{Group: *activeGroup(), Version: 7}
	mockCache.On("GetSnapshot", mock.Anything, "group-1").Return(cached, nil)

	snapshot, err := svc.Snapshot(context.Background(), "group-1")

	require.NoError(t, err)
	assert.Equal(t, int64(7), snapshot.Version)
	mockDB.AssertNotCalled(t, "GetGroupPurchase", mock.Anything, mock.Anything)
}

func TestSnapshot_BuildsAndStoresOnMiss(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	group := activeGroup()
	group.CurrentParticipants = 3
	product := &models.Product{ProductID: "prod-rice", OriginalPrice: 12.00}
	tiers := []models.DiscountTier{
		{TierID: "tier-1", ProductID: "prod-rice", ParticipantCount: 5, FinalPrice: 8.00},
		{TierID: "tier-2", ProductID: "prod-rice", ParticipantCount: 10, FinalPrice: 6.00},
	}

	mockCache.On("GetSnapshot", mock.Anything, "group-1").Return(nil, nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(group, nil)
	mockDB.On("GetProduct", mock.Anything, "prod-rice").Return(product, nil)
	mockDB.On("GetDiscountTiers", mock.Anything, "prod-rice").Return(tiers, nil)
	mockCache.On("SnapshotVersion", mock.Anything, "group-1").Return(int64(4), nil)
	mockCache.On("StoreSnapshot", mock.Anything, mock.Anything).Return(nil)

	snapshot, err := svc.Snapshot(context.Background(), "group-1")

	require.NoError(t, err)
	assert.Equal(t, 8.00, snapshot.DisplayedPrice)
	assert.Equal(t, 4.00, snapshot.Savings)
	assert.Equal(t, 7, snapshot.Remaining)
	assert.False(t, snapshot.Complete)
	assert.Equal(t, int64(4), snapshot.Version)
	mockCache.AssertCalled(t, "StoreSnapshot", mock.Anything, mock.Anything)
}

func TestJoin_LockBusy(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockCache := new(MockGroupCache)
	mockKafka := new(MockKafkaPublisher)
	svc := newTestService(mockDB, mockCache, mockKafka)

	mockDB.On("GetUser", mock.Anything, "user-1").Return(userWithAddress(), nil)
	mockDB.On("GetGroupPurchase", mock.Anything, "group-1").Return(activeGroup(), nil)
	mockCache.On("LockGroup", mock.Anything, "group-1", mock.Anything).Return(false, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := svc.Join(ctx, "group-1", "user-1")

	assert.Error(t, err)
	mockDB.AssertNotCalled(t, "IncrementParticipants", mock.Anything, mock.Anything)
}
