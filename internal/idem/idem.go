// Package idem provides short-TTL idempotency locks for provider retries.
//
// The first TryAcquire for a key wins; every retry inside the TTL observes a
// duplicate. The durable unique constraint on Message.provider_id is the
// second line of defence when the fast store loses a key.
package idem

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL covers the provider's full retry horizon for inbound messages.
const DefaultTTL = 24 * time.Hour

// Store hands out at-most-once locks keyed by opaque strings.
type Store interface {
	// TryAcquire returns true when the caller is the first holder of key
	// within ttl, false when the key was already taken.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Exists reports whether key is currently held.
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisStore implements Store on Redis SET NX EX, atomic across processes.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "idem:"}
}

func (s *RedisStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return s.rdb.SetNX(ctx, s.prefix+key, 1, ttl).Result()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryStore is a process-local Store for tests and single-node dev.
type MemoryStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expires: make(map[string]time.Time), now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[key]; ok && exp.After(now) {
		return false, nil
	}
	s.expires[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[key]
	return ok && exp.After(s.now()), nil
}
