package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

const uniqueViolation = "23505"

// PGTracker implements Tracker over Postgres. New sessions rely on the
// partial unique index on (tenant_id, customer) WHERE active; racing
// creators fall back to reading the winner's row.
type PGTracker struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPGTracker(db *pgxpool.Pool) *PGTracker {
	return &PGTracker{db: db, now: time.Now}
}

func (t *PGTracker) DetectSession(ctx context.Context, tenantID uuid.UUID, customer string, monthlyLimit int) (model.SessionInfo, error) {
	now := t.now().UTC()

	// Extend the active session if one is open. Strict > : a session whose
	// end equals now is already expired. The over_quota marker set at session
	// open keeps suppression in force for every later message of the session.
	var (
		sessionID uuid.UUID
		overQuota bool
	)
	err := t.db.QueryRow(ctx, `
		UPDATE conversation_session
		SET session_end = $4, message_count = message_count + 1
		WHERE tenant_id = $1 AND customer = $2 AND active AND session_end > $3
		RETURNING id, over_quota
	`, tenantID, customer, now, now.Add(Window)).Scan(&sessionID, &overQuota)
	if err == nil {
		return model.SessionInfo{SessionID: sessionID, IsNew: false, QuotaAllowed: !overQuota}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.SessionInfo{}, err
	}

	// Close any stale active row, then open a new session.
	if _, err := t.db.Exec(ctx, `
		UPDATE conversation_session SET active = FALSE
		WHERE tenant_id = $1 AND customer = $2 AND active
	`, tenantID, customer); err != nil {
		return model.SessionInfo{}, err
	}

	sessionID = uuid.New()
	_, err = t.db.Exec(ctx, `
		INSERT INTO conversation_session (id, tenant_id, customer, session_start, session_end, message_count, active, over_quota)
		VALUES ($1, $2, $3, $4, $5, 1, TRUE, FALSE)
	`, sessionID, tenantID, customer, now, now.Add(Window))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Lost the race; the winner's session is ours too. The message
			// still counts.
			err := t.db.QueryRow(ctx, `
				UPDATE conversation_session
				SET session_end = $4, message_count = message_count + 1
				WHERE tenant_id = $1 AND customer = $2 AND active AND session_end > $3
				RETURNING id, over_quota
			`, tenantID, customer, now, now.Add(Window)).Scan(&sessionID, &overQuota)
			if err != nil {
				return model.SessionInfo{}, err
			}
			return model.SessionInfo{SessionID: sessionID, IsNew: false, QuotaAllowed: !overQuota}, nil
		}
		return model.SessionInfo{}, err
	}

	count, err := t.chargeQuota(ctx, tenantID, now)
	if err != nil {
		return model.SessionInfo{}, err
	}

	info := model.SessionInfo{SessionID: sessionID, IsNew: true, QuotaAllowed: true}
	if monthlyLimit > 0 && count > monthlyLimit {
		info.QuotaAllowed = false
		if _, err := t.db.Exec(ctx, `
			UPDATE conversation_session SET over_quota = TRUE WHERE id = $1
		`, sessionID); err != nil {
			return model.SessionInfo{}, err
		}
	}
	return info, nil
}

func (t *PGTracker) chargeQuota(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := t.db.QueryRow(ctx, `
		INSERT INTO monthly_usage (tenant_id, year, month, conversation_count, daily)
		VALUES ($1, $2, $3, 1, jsonb_build_object($4::text, 1))
		ON CONFLICT (tenant_id, year, month) DO UPDATE SET
			conversation_count = monthly_usage.conversation_count + 1,
			daily = monthly_usage.daily || jsonb_build_object(
				$4::text, COALESCE((monthly_usage.daily ->> $4)::int, 0) + 1)
		RETURNING conversation_count
	`, tenantID, now.Year(), int(now.Month()), dayKey(now)).Scan(&count)
	return count, err
}

func (t *PGTracker) MonthlyCount(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := t.db.QueryRow(ctx, `
		SELECT conversation_count FROM monthly_usage
		WHERE tenant_id = $1 AND year = $2 AND month = $3
	`, tenantID, now.Year(), int(now.Month())).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}
