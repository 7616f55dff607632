package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/julianstephens/habitual/internal/cache"
	"github.com/julianstephens/habitual/internal/constants"
)

// RedisConfig locates the Redis server used for bookkeeping.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisBookkeeper stores request ids as comma-joined strings under
// habitual:reminders:<habit id>.
type RedisBookkeeper struct {
	rdb *redis.Client
}

func NewRedisBookkeeper(rdb *redis.Client) *RedisBookkeeper {
	return &RedisBookkeeper{rdb: rdb}
}

// Ping checks that the server is reachable.
func (b *RedisBookkeeper) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

func (b *RedisBookkeeper) LoadRequestIDs(ctx context.Context, habitID string) ([]uint32, error) {
	raw, err := b.rdb.Get(ctx, RedisKey(habitID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load request ids for %s: %w", habitID, err)
	}
	return cache.DecodeRequestIDs(raw), nil
}

func (b *RedisBookkeeper) SaveRequestIDs(ctx context.Context, habitID string, ids []uint32) error {
	if len(ids) == 0 {
		return b.ClearRequestIDs(ctx, habitID)
	}
	if err := b.rdb.Set(ctx, RedisKey(habitID), cache.EncodeRequestIDs(ids), 0).Err(); err != nil {
		return fmt.Errorf("failed to save request ids for %s: %w", habitID, err)
	}
	return nil
}

func (b *RedisBookkeeper) ClearRequestIDs(ctx context.Context, habitID string) error {
	if err := b.rdb.Del(ctx, RedisKey(habitID)).Err(); err != nil {
		return fmt.Errorf("failed to clear request ids for %s: %w", habitID, err)
	}
	return nil
}

// ScheduledHabitIDs scans for bookkeeping keys and returns their habit ids.
func (b *RedisBookkeeper) ScheduledHabitIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := b.rdb.Scan(ctx, 0, constants.RedisReminderPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), constants.RedisReminderPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list scheduled habits: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

func (b *RedisBookkeeper) Close() error {
	return b.rdb.Close()
}

// RedisKey formats the bookkeeping key for a habit.
func RedisKey(habitID string) string {
	return constants.RedisReminderPrefix + habitID
}
