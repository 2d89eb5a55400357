package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// MemoryTracker is a process-local Tracker for tests and single-node dev.
type MemoryTracker struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]*memSession // tenant|customer -> active session
	usage    map[string]*memUsage   // tenant|year|month
}

type memSession struct {
	id           uuid.UUID
	sessionEnd   time.Time
	messageCount int
	overQuota    bool
}

type memUsage struct {
	count int
	daily map[string]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		now:      time.Now,
		sessions: make(map[string]*memSession),
		usage:    make(map[string]*memUsage),
	}
}

// SetClock overrides the time source. Test hook.
func (t *MemoryTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func sessionKey(tenantID uuid.UUID, customer string) string {
	return tenantID.String() + "|" + customer
}

func usageKey(tenantID uuid.UUID, at time.Time) string {
	return tenantID.String() + "|" + at.UTC().Format("2006-01")
}

func (t *MemoryTracker) DetectSession(_ context.Context, tenantID uuid.UUID, customer string, monthlyLimit int) (model.SessionInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	key := sessionKey(tenantID, customer)

	// An over-quota session stays suppressed for its whole lifetime, not
	// just its opening message.
	if s, ok := t.sessions[key]; ok && s.sessionEnd.After(now) {
		s.sessionEnd = now.Add(Window)
		s.messageCount++
		return model.SessionInfo{SessionID: s.id, IsNew: false, QuotaAllowed: !s.overQuota}, nil
	}

	s := &memSession{id: uuid.New(), sessionEnd: now.Add(Window), messageCount: 1}
	t.sessions[key] = s

	uk := usageKey(tenantID, now)
	u, ok := t.usage[uk]
	if !ok {
		u = &memUsage{daily: make(map[string]int)}
		t.usage[uk] = u
	}
	u.count++
	u.daily[dayKey(now)]++

	s.overQuota = monthlyLimit > 0 && u.count > monthlyLimit
	return model.SessionInfo{SessionID: s.id, IsNew: true, QuotaAllowed: !s.overQuota}, nil
}

func (t *MemoryTracker) MonthlyCount(_ context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.usage[usageKey(tenantID, now)]; ok {
		return u.count, nil
	}
	return 0, nil
}
