package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMemory(t *testing.T, p Policy) (*Memory, *fakeClock) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewMemory(ctx, p)
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clk.now
	return m, clk
}

func TestMemorySlidingWindow(t *testing.T) {
	m, clk := newTestMemory(t, Policy{Name: "upload", Limit: 2, Window: time.Minute})
	ctx := context.Background()

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},
		{10 * time.Second, true},
		{10 * time.Second, false},
		{41 * time.Second, true}, // first request slid out of the window
		{0, false},
	}
	for i, s := range steps {
		clk.advance(s.advance)
		got, err := m.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d: Allow = %v, want %v", i, got, s.want)
		}
	}

	if ok, _ := m.Allow(ctx, "user-2"); !ok {
		t.Fatal("keys must be independent")
	}
}

func TestMemoryCleanup(t *testing.T) {
	m, clk := newTestMemory(t, Policy{Name: "sign_in", Limit: 1, Window: time.Minute})
	ctx := context.Background()

	if _, err := m.Allow(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	clk.advance(3 * time.Minute)
	m.cleanup()

	m.mu.Lock()
	n := len(m.visitors)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("visitors = %d after cleanup, want 0", n)
	}
}

func TestNewPicksBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := Policy{Name: "x", Limit: 1, Window: time.Second}

	if _, ok := New(ctx, nil, p).(*Memory); !ok {
		t.Fatal("nil client should give a Memory limiter")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, ok := New(ctx, client, p).(*Redis); !ok {
		t.Fatal("client should give a Redis limiter")
	}
}

func TestRedisFixedWindow(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	r := NewRedis(client, Policy{Name: "test_" + uuid.NewString(), Limit: 2, Window: 2 * time.Second})
	for i, want := range []bool{true, true, false} {
		got, err := r.Allow(ctx, "user-1")
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("call %d: Allow = %v, want %v", i, got, want)
		}
	}

	ttl, err := client.TTL(ctx, r.key("user-1")).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("ttl = %v, %v; want a positive expiry", ttl, err)
	}

	time.Sleep(2100 * time.Millisecond)
	if ok, err := r.Allow(ctx, "user-1"); err != nil || !ok {
		t.Fatalf("after window: Allow = %v, %v", ok, err)
	}
}
