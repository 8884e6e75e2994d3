package closure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/restaurant-ops/restops/internal/ledger"
	"github.com/restaurant-ops/restops/internal/shared"
)

// RedisCache stores client hint blobs in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache instantiates the cache. A zero ttl keeps entries forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Load returns the client's entry, or an empty entry when none is stored.
func (c *RedisCache) Load(ctx context.Context, clientID string) (CacheEntry, error) {
	if c == nil || c.client == nil || clientID == "" {
		return CacheEntry{}, nil
	}
	payload, err := c.client.Get(ctx, shared.ClientCacheKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, nil
	}
	if err != nil {
		return CacheEntry{}, fmt.Errorf("closure: load cache: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		// A corrupt hint is as good as no hint.
		return CacheEntry{}, nil
	}
	return entry, nil
}

// Save replaces the client's entry.
func (c *RedisCache) Save(ctx context.Context, clientID string, entry CacheEntry) error {
	if c == nil || c.client == nil || clientID == "" {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, shared.ClientCacheKey(clientID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("closure: save cache: %w", err)
	}
	return nil
}

// Confidence grades how far a cache hint may be trusted.
type Confidence int

const (
	// ConfidenceNone means the cache says nothing about the day.
	ConfidenceNone Confidence = iota
	// ConfidenceStale means the hint exists but is too old to short-circuit.
	ConfidenceStale
	// ConfidenceHint means the hint is fresh enough to skip the store.
	ConfidenceHint
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceHint:
		return "hint"
	case ConfidenceStale:
		return "stale"
	default:
		return "none"
	}
}

// Hint is the result of reading the cache for a specific day.
type Hint struct {
	Entry      CacheEntry
	Closed     bool
	Confidence Confidence
}

// ReadHint loads the entry for clientID and grades its claim that day is
// closed. A load failure yields ConfidenceNone with the error.
func ReadHint(ctx context.Context, cache LocalCache, clientID string, day ledger.DayKey, now time.Time, trust time.Duration) (Hint, error) {
	if cache == nil {
		return Hint{}, nil
	}
	entry, err := cache.Load(ctx, clientID)
	if err != nil {
		return Hint{}, err
	}
	hint := Hint{Entry: entry}
	if entry.LastClosedDay != day {
		return hint, nil
	}
	hint.Closed = true
	hint.Confidence = ConfidenceHint
	if trust > 0 && (entry.LastCheckedAt.IsZero() || now.Sub(entry.LastCheckedAt) > trust) {
		hint.Confidence = ConfidenceStale
	}
	return hint, nil
}
