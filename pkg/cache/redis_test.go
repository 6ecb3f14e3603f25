package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis connects to a local Redis instance and skips the test when
// none is available. Integration tests against a containerized Redis live
// under tests/integration.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore_PanicsOnNilClient(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, zerolog.Nop())
}

func TestRedisStore_PutAndGet(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, zerolog.Nop())
	ctx := context.Background()

	store.Put(ctx, "getPaper:id=abc", []byte(`{"title":"Attention"}`), time.Minute)

	value, ok := store.Get(ctx, "getPaper:id=abc")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(value) != `{"title":"Attention"}` {
		t.Errorf("value = %s, want original payload", value)
	}
}

func TestRedisStore_GetMiss(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, zerolog.Nop())

	if _, ok := store.Get(context.Background(), "missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, zerolog.Nop())
	ctx := context.Background()

	store.Put(ctx, "key", []byte("value"), 100*time.Millisecond)

	if _, ok := store.Get(ctx, "key"); !ok {
		t.Fatal("expected hit before TTL")
	}

	time.Sleep(200 * time.Millisecond)

	if _, ok := store.Get(ctx, "key"); ok {
		t.Error("expected miss after TTL")
	}
}

func TestRedisStore_Invalidate(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, zerolog.Nop())
	ctx := context.Background()

	store.Put(ctx, "key", []byte("value"), time.Minute)
	store.Invalidate(ctx, "key")

	if _, ok := store.Get(ctx, "key"); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestRedisStore_CorruptEntryTreatedAsMiss(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client, zerolog.Nop())
	ctx := context.Background()

	// Write garbage directly under the store's key prefix.
	if err := client.Set(ctx, redisKeyPrefix+"bad", "not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	if _, ok := store.Get(ctx, "bad"); ok {
		t.Error("corrupt entry should be a miss")
	}

	// The corrupt entry is dropped.
	if err := client.Get(ctx, redisKeyPrefix+"bad").Err(); err != redis.Nil {
		t.Errorf("corrupt entry still present, err = %v", err)
	}
}
