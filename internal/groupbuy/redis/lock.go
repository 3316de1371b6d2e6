package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-groupbuy/internal/models"
)

const (
	groupLockPrefix = "group_join_lock:"
	snapshotPrefix  = "group_snapshot:"
	versionPrefix   = "group_version:"
	endTimerPrefix  = "group_end:"

	// Snapshot TTL caps staleness when an invalidation is lost; correctness
	// comes from explicit invalidation on every mutation.
	snapshotTTL = 30 * time.Second
)

type Redis struct {
	Client *redis.Client
	Logger *log.Logger
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		Client: client,
		Logger: log.Default(),
	}
}

// getLockDuration returns the join lock TTL from the environment or the
// default. The TTL is a crash guard: a holder that dies releases the group
// once it expires.
func (r *Redis) getLockDuration() time.Duration {
	defaultDuration := 10 * time.Second

	lockTTLStr := os.Getenv("GROUP_LOCK_TTL_SECONDS")
	if lockTTLStr == "" {
		return defaultDuration
	}

	lockTTLSec, err := strconv.Atoi(lockTTLStr)
	if err != nil {
		r.Logger.Println("REDIS: Invalid GROUP_LOCK_TTL_SECONDS value '" + lockTTLStr + "', using default 10 seconds")
		return defaultDuration
	}
	return time.Duration(lockTTLSec) * time.Second
}

// LockGroup takes the per-group join/leave lock. The token identifies the
// holder so only the owner can release it.
func (r *Redis) LockGroup(ctx context.Context, groupID, token string) (bool, error) {
	key := groupLockPrefix + groupID
	return r.Client.SetNX(ctx, key, token, r.getLockDuration()).Result()
}

// UnlockGroup releases the lock only when the caller still owns it.
func (r *Redis) UnlockGroup(ctx context.Context, groupID, token string) error {
	key := groupLockPrefix + groupID
	val, err := r.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil // lock expired or already released
	}
	if err != nil {
		return err
	}
	if val == token {
		_, err := r.Client.Del(ctx, key).Result()
		return err
	}
	return nil
}

// ---------------- SNAPSHOT CACHE ----------------

func (r *Redis) GetSnapshot(ctx context.Context, groupID string) (*models.GroupSnapshot, error) {
	val, err := r.Client.Get(ctx, snapshotPrefix+groupID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snapshot models.GroupSnapshot
	if err := json.Unmarshal([]byte(val), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *Redis) StoreSnapshot(ctx context.Context, snapshot models.GroupSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal group snapshot: %w", err)
	}
	return r.Client.Set(ctx, snapshotPrefix+snapshot.Group.GroupID, data, snapshotTTL).Err()
}

// InvalidateSnapshot drops the cached aggregate and bumps the group's
// version. A reader that observes the new version is guaranteed to see the
// post-mutation count: reads after a successful join never serve the stale
// snapshot.
func (r *Redis) InvalidateSnapshot(ctx context.Context, groupID string) (int64, error) {
	if err := r.Client.Del(ctx, snapshotPrefix+groupID).Err(); err != nil {
		return 0, err
	}
	return r.Client.Incr(ctx, versionPrefix+groupID).Result()
}

func (r *Redis) SnapshotVersion(ctx context.Context, groupID string) (int64, error) {
	val, err := r.Client.Get(ctx, versionPrefix+groupID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// ---------------- END-TIME WATCHER KEYS ----------------

// ArmEndTimer sets a key that expires at the group's end time. The expiry
// watcher subscribes to keyspace expired events and closes the group when
// the key fires.
func (r *Redis) ArmEndTimer(ctx context.Context, groupID string, endTime time.Time) error {
	ttl := time.Until(endTime)
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.Client.Set(ctx, endTimerPrefix+groupID, groupID, ttl).Err()
}

// DisarmEndTimer removes the end-time key, used when a group is closed
// manually before its end time.
func (r *Redis) DisarmEndTimer(ctx context.Context, groupID string) error {
	err := r.Client.Del(ctx, endTimerPrefix+groupID).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}

// EndTimerPrefix exposes the key prefix to the expiry watcher.
func EndTimerPrefix() string {
	return endTimerPrefix
}
