package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis for the webhook fast path: a per-order processing lock
// that serializes concurrent duplicate deliveries, and a short-lived marker
// of already-processed notifications. Both are optimizations only; the store
// CAS remains the source of truth.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireOrderLock acquires the per-order webhook processing lock
func (c *Client) AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:notify:"+orderID, "1", ttl).Result()
}

// ReleaseOrderLock releases the per-order webhook processing lock
func (c *Client) ReleaseOrderLock(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, "lock:notify:"+orderID).Err()
}

// MarkNotificationProcessed records that a success notification for the
// order was handled, with a TTL
func (c *Client) MarkNotificationProcessed(ctx context.Context, orderID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, "notify:processed:"+orderID, "1", ttl).Err()
}

// WasNotificationProcessed checks the processed marker
func (c *Client) WasNotificationProcessed(ctx context.Context, orderID string) (bool, error) {
	result, err := c.rdb.Exists(ctx, "notify:processed:"+orderID).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}
