package window

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCache is a process-local Cache for tests and single-node dev.
type MemoryCache struct {
	mu       sync.Mutex
	now      func() time.Time
	payloads map[string]CachedPayload
	clicks   map[string]time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		now:      time.Now,
		payloads: make(map[string]CachedPayload),
		clicks:   make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Test hook.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func memKey(tenantID uuid.UUID, customer string) string {
	return tenantID.String() + "|" + customer
}

func (c *MemoryCache) Put(_ context.Context, tenantID uuid.UUID, customer string, p CachedPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[memKey(tenantID, customer)] = p
	return nil
}

func (c *MemoryCache) Consume(_ context.Context, tenantID uuid.UUID, customer string) (CachedPayload, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := memKey(tenantID, customer)
	p, ok := c.payloads[key]
	if !ok {
		return CachedPayload{}, false, nil
	}
	delete(c.payloads, key)
	if c.now().UTC().Sub(p.CachedAt) >= CacheTTL {
		return CachedPayload{}, false, nil
	}
	return p, true, nil
}

func (c *MemoryCache) MarkClick(_ context.Context, tenantID uuid.UUID, customer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clicks[memKey(tenantID, customer)] = c.now().UTC()
	return nil
}

func (c *MemoryCache) ClickedWithin(_ context.Context, tenantID uuid.UUID, customer string, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.clicks[memKey(tenantID, customer)]
	if !ok {
		return false, nil
	}
	return c.now().UTC().Sub(at) < window, nil
}
