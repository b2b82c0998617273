package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/sync_cart.lua
var syncCartScript string

type Client struct {
	rdb        *redis.Client
	cartTTL    time.Duration
	syncScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, cartTTL time.Duration) (*Client, error) {
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

	return &Client{
		rdb:        rdb,
		cartTTL:    cartTTL,
		syncScript: redis.NewScript(syncCartScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity for the readiness check
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

// GetCart returns the stored cart, or an empty one when the user has none
func (c *Client) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	raw, err := c.rdb.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &models.Cart{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return decodeCart(userID, raw)
}

// SaveCart stores the cart and refreshes its TTL
func (c *Client) SaveCart(ctx context.Context, cart *models.Cart) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return c.rdb.Set(ctx, cartKey(cart.UserID), raw, c.cartTTL).Err()
}

// DeleteCart clears the user's server-side cart
func (c *Client) DeleteCart(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, cartKey(userID)).Err()
}

// SyncCart atomically reconciles the client cart with the server copy on login.
// A non-empty client cart wins and replaces the server copy; an empty one receives it.
func (c *Client) SyncCart(ctx context.Context, client *models.Cart) (*models.Cart, error) {
	var incoming string
	if !client.Empty() {
		raw, err := json.Marshal(client)
		if err != nil {
			return nil, fmt.Errorf("encode cart: %w", err)
		}
		incoming = string(raw)
	}

	ttl := int64(c.cartTTL / time.Second)
	if ttl <= 0 {
		ttl = 1
	}
	result, err := c.syncScript.Run(ctx, c.rdb, []string{cartKey(client.UserID)}, incoming, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("sync cart script failed: %w", err)
	}

	raw, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected script result type")
	}
	if raw == "" {
		return &models.Cart{UserID: client.UserID}, nil
	}
	return decodeCart(client.UserID, []byte(raw))
}

func decodeCart(userID string, raw []byte) (*models.Cart, error) {
	var cart models.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	cart.UserID = userID
	return &cart, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
