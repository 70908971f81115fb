// Package natskv implements the cache port using NATS JetStream KV as L2 remote cache.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache wraps a NATS JetStream KeyValue store as an L2 cache, shared by
// every hitl instance on the same bus.
type Cache struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Key maps an arbitrary cache key onto the KV key alphabet. Client supplied
// idempotency keys may contain characters NATS rejects.
func Key(key string) (string, error) {
	if key == "" {
		return "", errors.New("natskv: empty key")
	}
	return base64.RawURLEncoding.EncodeToString([]byte(key)), nil
}

// Get retrieves a value from the NATS KV store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	k, err := Key(key)
	if err != nil {
		return nil, false, err
	}
	entry, err := c.kv.Get(ctx, k)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get: %w", err)
	}
	return entry.Value(), true, nil
}

// Set stores a value in the NATS KV store. TTL is managed at bucket level.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	k, err := Key(key)
	if err != nil {
		return err
	}
	if _, err := c.kv.Put(ctx, k, value); err != nil {
		return fmt.Errorf("natskv put: %w", err)
	}
	return nil
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	k, err := Key(key)
	if err != nil {
		return err
	}
	err = c.kv.Delete(ctx, k)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete: %w", err)
	}
	return nil
}
