package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"backoffice.io/internal/auth"
)

const (
	lockoutKeyPrefix = "auth:lockout:"
	// failures older than this are forgotten when no lockout is active
	failureMemory = 24 * time.Hour
)

// RedisLockoutStore keeps failed-login counters in Redis hashes so that
// lockouts hold across replicas.
type RedisLockoutStore struct {
	client redis.UniversalClient
}

var _ auth.LockoutStore = (*RedisLockoutStore)(nil)

func NewRedisLockoutStore(client redis.UniversalClient) *RedisLockoutStore {
	return &RedisLockoutStore{client: client}
}

func (s *RedisLockoutStore) Get(ctx context.Context, key string) (auth.LockoutState, error) {
	data, err := s.client.HGetAll(ctx, lockoutKeyPrefix+key).Result()
	if err != nil {
		return auth.LockoutState{}, err
	}
	return decodeLockout(data), nil
}

// RecordFailure increments the counter and sets locked_until once threshold
// is reached. A lockout that already elapsed starts a fresh count.
func (s *RedisLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, threshold int, window time.Duration) (auth.LockoutState, error) {
	redisKey := lockoutKeyPrefix + key

	current, err := s.Get(ctx, key)
	if err != nil {
		return auth.LockoutState{}, err
	}
	if current.LockedUntil != nil && !current.Locked(now) {
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return auth.LockoutState{}, err
		}
	}

	count, err := s.client.HIncrBy(ctx, redisKey, "failed_count", 1).Result()
	if err != nil {
		return auth.LockoutState{}, err
	}
	state := auth.LockoutState{FailedCount: int(count)}
	if int(count) < threshold {
		if err := s.client.Expire(ctx, redisKey, failureMemory).Err(); err != nil {
			return auth.LockoutState{}, err
		}
		return state, nil
	}

	lockedUntil := now.Add(window).UTC().Truncate(time.Second)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisKey, "locked_until", lockedUntil.Unix())
		p.Expire(ctx, redisKey, window+failureMemory)
		return nil
	})
	if err != nil {
		return auth.LockoutState{}, err
	}
	state.LockedUntil = &lockedUntil
	return state, nil
}

func (s *RedisLockoutStore) Clear(ctx context.Context, key string) error {
	return s.client.Del(ctx, lockoutKeyPrefix+key).Err()
}

func decodeLockout(data map[string]string) auth.LockoutState {
	var state auth.LockoutState
	if raw, ok := data["failed_count"]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			state.FailedCount = n
		}
	}
	if raw, ok := data["locked_until"]; ok && raw != "" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
			t := time.Unix(unix, 0).UTC()
			state.LockedUntil = &t
		}
	}
	return state
}
