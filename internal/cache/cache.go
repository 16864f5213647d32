// Package cache holds a small Redis layer for the status polling endpoint.
// CI pipelines poll status tightly, so reads are served from Redis when a
// fresh copy exists and fall back to Postgres otherwise.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Active runs change every few seconds, terminal runs never change again.
	activeTTL   = 2 * time.Second
	terminalTTL = 5 * time.Minute

	keyPrefix = "eaas:status:"
)

// ErrMiss reports that no cached copy exists for the key.
var ErrMiss = errors.New("cache: miss")

type Client struct {
	rdb *redis.Client
}

func New(addr string) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// GetStatus returns the cached status payload for an evaluation, or ErrMiss.
func (c *Client) GetStatus(ctx context.Context, evaluationID string, out any) error {
	raw, err := c.rdb.Get(ctx, keyPrefix+evaluationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// SetStatus caches a status payload. Terminal payloads are kept longer
// since they can never change.
func (c *Client) SetStatus(ctx context.Context, evaluationID string, payload any, terminal bool) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ttl := activeTTL
	if terminal {
		ttl = terminalTTL
	}
	return c.rdb.Set(ctx, keyPrefix+evaluationID, raw, ttl).Err()
}

func (c *Client) Close() error { return c.rdb.Close() }
