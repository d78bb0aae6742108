// Package ratelimit provides the per-caller limiters guarding uploads, visibility changes
// and sign-in. Redis holds shared fixed-window counters when configured; otherwise an
// in-process sliding window is used.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/snapcast/telemetry"
)

// Limiter answers whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Policy names a limit: at most Limit calls per key within Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Memory implements a sliding window limiter per key.
type Memory struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	policy   Policy
	now      func() time.Time
}

type visitor struct {
	requests []time.Time
	lastSeen time.Time
}

// NewMemory creates an in-process limiter. Stale keys are dropped until ctx is done.
func NewMemory(ctx context.Context, p Policy) *Memory {
	m := &Memory{visitors: make(map[string]*visitor), policy: p, now: time.Now}
	go m.cleanupLoop(ctx)
	return m
}

func (m *Memory) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup removes keys without requests in the last two windows.
func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, v := range m.visitors {
		if now.Sub(v.lastSeen) > m.policy.Window*2 {
			delete(m.visitors, key)
		}
	}
}

// Allow records a call for key if it is under the limit.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{}
		m.visitors[key] = v
	}
	cutoff := now.Add(-m.policy.Window)
	kept := v.requests[:0]
	for _, t := range v.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	v.requests = kept
	v.lastSeen = now

	if len(v.requests) >= m.policy.Limit {
		telemetry.RateLimited(m.policy.Name)
		return false, nil
	}
	v.requests = append(v.requests, now)
	return true, nil
}

// Redis implements a fixed window counter shared by every instance: INCR the window key
// and set its expiry on the first hit.
type Redis struct {
	client *redis.Client
	policy Policy
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client *redis.Client, p Policy) *Redis {
	return &Redis{client: client, policy: p}
}

func (r *Redis) key(key string) string {
	return fmt.Sprintf("rate_limit:%s:%s", r.policy.Name, key)
}

// Allow increments the counter for key and reports whether it is within the limit.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.key(key)
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, k, r.policy.Window).Err(); err != nil {
			slog.Warn("rate limit expire failed", slog.String("key", k), slog.Any("err", err))
		}
	}
	if count > int64(r.policy.Limit) {
		telemetry.RateLimited(r.policy.Name)
		return false, nil
	}
	return true, nil
}

// New returns a Redis limiter when client is non-nil and a Memory limiter otherwise.
func New(ctx context.Context, client *redis.Client, p Policy) Limiter {
	if client != nil {
		return NewRedis(client, p)
	}
	return NewMemory(ctx, p)
}
