// Package session tracks 24-hour conversation sessions and the monthly
// conversation quota they feed.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// Window is the session length. Every inbound extends the active session's
// end to now + Window; a session whose end is not strictly after now is
// expired (exactly at the boundary counts as expired).
const Window = 24 * time.Hour

// Tracker detects sessions on each inbound and enforces the monthly quota.
type Tracker interface {
	// DetectSession finds or creates the active session for
	// (tenant, customer). When a new session opens it charges the tenant's
	// monthly quota; QuotaAllowed=false means the quota is exhausted and bot
	// automation must be suppressed (the inbound itself is still accepted).
	DetectSession(ctx context.Context, tenantID uuid.UUID, customer string, monthlyLimit int) (model.SessionInfo, error)

	// MonthlyCount returns the tenant's conversation count for the month
	// containing now.
	MonthlyCount(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error)
}

// dayKey formats the daily-usage map key.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
