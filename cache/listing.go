// Package cache keeps serialized listing pages in Redis. Every key embeds a generation
// number; writes bump the generation so all older pages stop being read and expire on
// their own.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const generationKey = "listing:generation"

// Listing is a Redis-backed video.ListingCache.
type Listing struct {
	client *redis.Client
	ttl    time.Duration
}

// NewListing returns a cache whose pages live for ttl.
func NewListing(client *redis.Client, ttl time.Duration) *Listing {
	return &Listing{client: client, ttl: ttl}
}

func (l *Listing) generation(ctx context.Context) (int64, error) {
	gen, err := l.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Slot returns the key under which the page for key lives in the current generation.
// Callers resolve it once before querying and pass it to both Get and Set, so a page
// computed before an Invalidate is never stored under the newer generation.
func (l *Listing) Slot(ctx context.Context, key string) (string, error) {
	gen, err := l.generation(ctx)
	if err != nil {
		return "", fmt.Errorf("read listing generation: %w", err)
	}
	return fmt.Sprintf("listing:%d:%s", gen, key), nil
}

// Get returns the page cached in slot.
func (l *Listing) Get(ctx context.Context, slot string) ([]byte, bool, error) {
	b, err := l.client.Get(ctx, slot).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores a page in slot.
func (l *Listing) Set(ctx context.Context, slot string, val []byte) error {
	return l.client.Set(ctx, slot, val, l.ttl).Err()
}

// Invalidate starts a new generation.
func (l *Listing) Invalidate(ctx context.Context) error {
	return l.client.Incr(ctx, generationKey).Err()
}
