// Package ratelimit implements fixed-window token counters shared across
// processes. Buckets are keyed by scope strings:
//
//	global:webhook
//	tenant:{id}:inbound
//	tenant:{id}:outbound
//	customer:{tenant}:{customer}
//
// A check atomically increments the counter, setting the window TTL on the
// first increment. The increment that would push the counter past the limit
// is denied; the counter still advances so the window remainder stays honest.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the fixed-window width for every bucket.
const DefaultWindow = time.Minute

// Result is the outcome of one bucket check.
type Result struct {
	Allowed   bool
	Remaining int           // tokens left in the window, 0 when denied
	RetryIn   time.Duration // window remainder, meaningful when denied
}

// Limiter checks fixed-window buckets.
type Limiter interface {
	Check(ctx context.Context, bucket string, limit int) (Result, error)
}

// Bucket key helpers keep scope formatting in one place.

func GlobalWebhookBucket() string { return "global:webhook" }

func TenantInboundBucket(tenantID string) string {
	return fmt.Sprintf("tenant:%s:inbound", tenantID)
}

func TenantOutboundBucket(tenantID string) string {
	return fmt.Sprintf("tenant:%s:outbound", tenantID)
}

func CustomerBucket(tenantID, customer string) string {
	return fmt.Sprintf("customer:%s:%s", tenantID, customer)
}

// incrWindow increments the bucket and sets the TTL only when the increment
// created the key, so the window does not slide on traffic.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {n, ttl}
`)

// RedisLimiter implements Limiter on Redis, atomic across processes.
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	prefix string
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, window: DefaultWindow, prefix: "rate:"}
}

func (l *RedisLimiter) Check(ctx context.Context, bucket string, limit int) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: true, Remaining: 0}, nil
	}

	vals, err := incrWindow.Run(ctx, l.rdb, []string{l.prefix + bucket}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	count, ttlMs := vals[0], vals[1]
	retryIn := time.Duration(ttlMs) * time.Millisecond
	if retryIn < 0 {
		retryIn = l.window
	}

	if count > int64(limit) {
		return Result{Allowed: false, Remaining: 0, RetryIn: retryIn}, nil
	}
	return Result{Allowed: true, Remaining: limit - int(count), RetryIn: retryIn}, nil
}

// MemoryLimiter is a process-local Limiter for tests and single-node dev.
type MemoryLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	buckets map[string]*memBucket
}

type memBucket struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		window:  DefaultWindow,
		now:     time.Now,
		buckets: make(map[string]*memBucket),
	}
}

// SetClock overrides the time source. Test hook.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *MemoryLimiter) Check(_ context.Context, bucket string, limit int) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[bucket]
	if !ok || !b.resetAt.After(now) {
		b = &memBucket{resetAt: now.Add(l.window)}
		l.buckets[bucket] = b
	}
	b.count++

	res := Result{RetryIn: b.resetAt.Sub(now)}
	if b.count > limit {
		return res, nil
	}
	res.Allowed = true
	res.Remaining = limit - b.count
	return res, nil
}
