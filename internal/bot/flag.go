package bot

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Flag is the global automation switch. Conversations keep their own
// bot-enabled flag; this one pauses every tenant at once.
type Flag interface {
	Enabled(ctx context.Context) (bool, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

const flagKey = "bot:enabled"

// RedisFlag shares the switch across processes. Missing key means enabled.
type RedisFlag struct {
	rdb *redis.Client
}

func NewRedisFlag(rdb *redis.Client) *RedisFlag {
	return &RedisFlag{rdb: rdb}
}

func (f *RedisFlag) Enabled(ctx context.Context) (bool, error) {
	v, err := f.rdb.Get(ctx, flagKey).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return v != "0", nil
}

func (f *RedisFlag) SetEnabled(ctx context.Context, enabled bool) error {
	v := "1"
	if !enabled {
		v = "0"
	}
	return f.rdb.Set(ctx, flagKey, v, 0).Err()
}

// MemoryFlag is a process-local Flag for tests and single-node dev.
type MemoryFlag struct {
	mu      sync.Mutex
	enabled bool
}

func NewMemoryFlag() *MemoryFlag {
	return &MemoryFlag{enabled: true}
}

func (f *MemoryFlag) Enabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *MemoryFlag) SetEnabled(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
	return nil
}
