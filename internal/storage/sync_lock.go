package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/redis/go-redis/v9"
)

// SyncLockKey is the Redis key that guards the leaderboard dataset
const SyncLockKey = "sync:lock"

// UnlockFunc releases a held lock
type UnlockFunc func(ctx context.Context) error

// SyncLocker provides mutual exclusion for syncs across processes
type SyncLocker interface {
	// Acquire returns a SyncInProgressError when another holder has the lock
	Acquire(ctx context.Context) (UnlockFunc, error)
}

// releaseScript deletes the lock only when it still holds our token, so a
// holder whose TTL expired cannot release a successor's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisSyncLock is a SET NX PX lock with a random token per holder
type RedisSyncLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisSyncLock creates a lock on SyncLockKey that expires after ttl
func NewRedisSyncLock(client redis.UniversalClient, ttl time.Duration) *RedisSyncLock {
	return &RedisSyncLock{client: client, key: SyncLockKey, ttl: ttl}
}

// Acquire takes the lock or reports that a sync is already in progress
func (l *RedisSyncLock) Acquire(ctx context.Context) (UnlockFunc, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, apperrors.NewPersistenceError("acquire sync lock", err)
	}
	if !ok {
		return nil, apperrors.NewSyncInProgressError()
	}

	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release sync lock: %w", err)
		}
		return nil
	}, nil
}

// NoopSyncLock always succeeds. It is used when no Redis is configured and
// only one process runs syncs.
type NoopSyncLock struct{}

// Acquire always succeeds
func (NoopSyncLock) Acquire(context.Context) (UnlockFunc, error) {
	return func(context.Context) error { return nil }, nil
}
