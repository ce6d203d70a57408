package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/store"
)

const DefaultCartTTL = 12 * time.Hour

type RedisCartStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCartStore(addr string, password string, db int, terminalID string, ttl time.Duration) *RedisCartStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if ttl <= 0 {
		ttl = DefaultCartTTL
	}

	return &RedisCartStore{client: client, prefix: "dinein:" + terminalID + ":cart:", ttl: ttl}
}

func (c *RedisCartStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartStore) Close() error {
	return c.client.Close()
}

func (c *RedisCartStore) key(tableID string) string {
	return c.prefix + tableID
}

func (c *RedisCartStore) GetCartSnapshot(ctx context.Context, tableID string) (*domain.CartSnapshot, error) {
	val, err := c.client.Get(ctx, c.key(tableID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snapshot domain.CartSnapshot
	if err := json.Unmarshal(val, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *RedisCartStore) SaveCartSnapshot(ctx context.Context, snapshot domain.CartSnapshot) error {
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(snapshot.TableID), payload, c.ttl).Err()
}

func (c *RedisCartStore) DeleteCartSnapshot(ctx context.Context, tableID string) error {
	return c.client.Del(ctx, c.key(tableID)).Err()
}
