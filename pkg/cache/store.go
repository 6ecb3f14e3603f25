package cache

import (
	"context"
	"time"
)

// Store is the response cache contract used by the client.
//
// Get returns the cached value and true on a hit; expired entries are
// treated as misses. Put stores a value with the given TTL, falling back
// to the store's default TTL when ttl <= 0. Invalidate removes a key;
// removing an absent key is a no-op.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
}
