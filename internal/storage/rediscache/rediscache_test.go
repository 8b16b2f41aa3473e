package rediscache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/medplain/medplain/internal/domain/user"
	"github.com/medplain/medplain/internal/storage"
	"github.com/medplain/medplain/internal/storage/memory"
)

// newTestCache connects to the Redis given by TEST_REDIS_ADDR. Tests are
// skipped when no instance is available.
func newTestCache(t *testing.T) (*SessionCache, *memory.Store) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	store := memory.New()
	return New(store, client, nil), store
}

func TestReadThroughAndPrime(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	created, err := cache.CreateSession(ctx, user.Session{
		UserID:    "u1",
		TokenHash: "hash-a",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := cache.GetSessionByTokenHash(ctx, "hash-a")
	if err != nil {
		t.Fatalf("GetSessionByTokenHash: %v", err)
	}
	if got.ID != created.ID || got.TokenHash != "hash-a" {
		t.Fatalf("got %+v, want session %s", got, created.ID)
	}

	// Cached copy survives removal from the backing store until evicted.
	if err := store.DeleteSession(ctx, created.ID); err != nil {
		t.Fatalf("DeleteSession on store: %v", err)
	}
	if _, err := cache.GetSessionByTokenHash(ctx, "hash-a"); err != nil {
		t.Fatalf("cached read after store delete: %v", err)
	}
}

func TestRotationEvictsOldHash(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	created, err := cache.CreateSession(ctx, user.Session{
		UserID:    "u1",
		TokenHash: "hash-old",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	created.TokenHash = "hash-new"
	if _, err := cache.UpdateSession(ctx, created); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	if _, err := cache.GetSessionByTokenHash(ctx, "hash-old"); err != storage.ErrNotFound {
		t.Fatalf("old hash lookup: err = %v, want ErrNotFound", err)
	}
	if _, err := cache.GetSessionByTokenHash(ctx, "hash-new"); err != nil {
		t.Fatalf("new hash lookup: %v", err)
	}
}

func TestDeleteEvicts(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	created, err := cache.CreateSession(ctx, user.Session{
		UserID:    "u1",
		TokenHash: "hash-del",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := cache.DeleteSession(ctx, created.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := cache.GetSessionByTokenHash(ctx, "hash-del"); err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
