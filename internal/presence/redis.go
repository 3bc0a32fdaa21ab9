package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// lastSeenKey is a sorted set of user id scored by the last offline time in
// unix milliseconds.
const lastSeenKey = "presence:last_seen"

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}

type RedisLastSeenStore struct {
	client redis.Cmdable
}

func NewRedisLastSeenStore(client redis.Cmdable) *RedisLastSeenStore {
	return &RedisLastSeenStore{client: client}
}

// SetLastSeen only ever moves a user's time forward, so a delayed write from
// an earlier session cannot replace a later one. Requires Redis 6.2 or newer.
func (s *RedisLastSeenStore) SetLastSeen(ctx context.Context, userId int, at time.Time) error {
	err := s.client.ZAddGT(ctx, lastSeenKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: strconv.Itoa(userId),
	}).Err()
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}

func (s *RedisLastSeenStore) GetLastSeen(ctx context.Context, userId int) (time.Time, bool, error) {
	score, err := s.client.ZScore(ctx, lastSeenKey, strconv.Itoa(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get last seen: %w", err)
	}

	return time.UnixMilli(int64(score)).UTC(), true, nil
}
