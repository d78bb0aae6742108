package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestListing(t *testing.T) *Listing {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return NewListing(client, time.Minute)
}

func TestListingRoundTripAndInvalidate(t *testing.T) {
	l := newTestListing(t)
	ctx := context.Background()
	key := "anon|most-recent|1|8|" + time.Now().Format(time.RFC3339Nano)

	slot, err := l.Slot(ctx, key)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if _, ok, err := l.Get(ctx, slot); err != nil || ok {
		t.Fatalf("fresh Get = %v, %v", ok, err)
	}
	if err := l.Set(ctx, slot, []byte(`{"videos":[]}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, ok, err := l.Get(ctx, slot)
	if err != nil || !ok || string(b) != `{"videos":[]}` {
		t.Fatalf("Get = %q, %v, %v", b, ok, err)
	}

	if err := l.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	next, err := l.Slot(ctx, key)
	if err != nil {
		t.Fatalf("Slot after invalidate: %v", err)
	}
	if next == slot {
		t.Fatal("Invalidate did not move the slot to a new generation")
	}
	if _, ok, err := l.Get(ctx, next); err != nil || ok {
		t.Fatalf("Get after invalidate = %v, %v; want miss", ok, err)
	}
}

func TestListingSetAfterInvalidateStaysInOldGeneration(t *testing.T) {
	l := newTestListing(t)
	ctx := context.Background()
	key := "anon|most-recent|1|8|race-" + time.Now().Format(time.RFC3339Nano)

	slot, err := l.Slot(ctx, key)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if _, ok, err := l.Get(ctx, slot); err != nil || ok {
		t.Fatalf("fresh Get = %v, %v", ok, err)
	}
	// A write lands while the page is being computed.
	if err := l.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := l.Set(ctx, slot, []byte(`{"videos":["stale"]}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	next, err := l.Slot(ctx, key)
	if err != nil {
		t.Fatalf("Slot: %v", err)
	}
	if _, ok, err := l.Get(ctx, next); err != nil || ok {
		t.Fatalf("Get in new generation = %v, %v; want miss", ok, err)
	}
}

func TestListingReportsUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewListing(client, time.Minute)

	if _, err := l.Slot(context.Background(), "k"); err == nil {
		t.Fatal("Slot against an unreachable server should fail")
	}
	if _, _, err := l.Get(context.Background(), "listing:0:k"); err == nil {
		t.Fatal("Get against an unreachable server should fail")
	}
}
