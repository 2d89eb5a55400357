package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// uniqueViolation is the Postgres error code for duplicate keys. The unique
// index on message.provider_id is the durable second line of defence behind
// the fast idempotency store.
const uniqueViolation = "23505"

// PG implements Store over a pgx pool.
type PG struct {
	db *pgxpool.Pool
}

func NewPG(db *pgxpool.Pool) *PG {
	return &PG{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PG) UpsertConversation(ctx context.Context, tenantID uuid.UUID, customer string) (*model.Conversation, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversation (id, tenant_id, customer, bot_enabled, unread_count, state, last_message_at, created_at)
		VALUES ($1, $2, $3, TRUE, 0, $4, $5, $5)
		ON CONFLICT (tenant_id, customer) DO UPDATE SET
			last_message_at = GREATEST(conversation.last_message_at, EXCLUDED.last_message_at)
		RETURNING id, tenant_id, customer, bot_enabled, unread_count, state, last_message_at, created_at
	`, uuid.New(), tenantID, customer, model.StateNew, now)
	return scanConversation(row)
}

func (s *PG) GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, tenant_id, customer, bot_enabled, unread_count, state, last_message_at, created_at
		FROM conversation WHERE id = $1
	`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	return c, err
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var c model.Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.Customer, &c.BotEnabled, &c.UnreadCount,
		&c.State, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PG) SetConversationState(ctx context.Context, id uuid.UUID, state model.BotState) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversation SET state = $2 WHERE id = $1`, id, state)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PG) SetBotEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE conversation SET bot_enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PG) CreateInbound(ctx context.Context, in InboundMessage) (*model.Message, bool, error) {
	conv, err := s.UpsertConversation(ctx, in.TenantID, in.Customer)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return nil, false, err
	}

	m := &model.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		TenantID:       in.TenantID,
		Direction:      model.DirectionIn,
		ProviderID:     in.ProviderID,
		Channel:        model.ChannelFreeform,
		Kind:           in.Kind,
		Body:           in.Body,
		MediaURL:       in.MediaURL,
		Metadata:       in.Metadata,
		CreatedAt:      now,
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO message (id, conversation_id, tenant_id, direction, provider_id, channel, kind, body, media_url, template, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $11)
	`, m.ID, m.ConversationID, m.TenantID, m.Direction, m.ProviderID, m.Channel, m.Kind, m.Body, m.MediaURL, meta, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, ferr := s.messageByProviderID(ctx, in.ProviderID)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE conversation
		SET unread_count = unread_count + 1,
		    last_message_at = GREATEST(last_message_at, $2)
		WHERE id = $1
	`, conv.ID, now); err != nil {
		log.Error().Err(err).Str("conversation_id", conv.ID.String()).Msg("failed to bump conversation counters")
	}

	return m, true, nil
}

func (s *PG) CreateOutbound(ctx context.Context, out OutboundMessage) (*model.Message, bool, error) {
	now := time.Now().UTC()
	var tmpl []byte
	if out.Template != nil {
		b, err := json.Marshal(out.Template)
		if err != nil {
			return nil, false, err
		}
		tmpl = b
	}

	m := &model.Message{
		ID:             uuid.New(),
		ConversationID: out.ConversationID,
		TenantID:       out.TenantID,
		Direction:      model.DirectionOut,
		ProviderID:     out.ProviderID,
		Channel:        out.Channel,
		Kind:           out.Kind,
		Body:           out.Body,
		MediaURL:       out.MediaURL,
		Template:       out.Template,
		CreatedAt:      now,
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO message (id, conversation_id, tenant_id, direction, provider_id, channel, kind, body, media_url, template, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, '{}', $11)
	`, m.ID, m.ConversationID, m.TenantID, m.Direction, m.ProviderID, m.Channel, m.Kind, m.Body, m.MediaURL, tmpl, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && out.ProviderID != "" {
			existing, ferr := s.messageByProviderID(ctx, out.ProviderID)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE conversation SET last_message_at = GREATEST(last_message_at, $2) WHERE id = $1
	`, out.ConversationID, now); err != nil {
		log.Error().Err(err).Str("conversation_id", out.ConversationID.String()).Msg("failed to touch conversation")
	}

	return m, true, nil
}

func (s *PG) messageByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, conversation_id, tenant_id, direction, provider_id, channel, kind, body, media_url, template, metadata, created_at
		FROM message WHERE provider_id = $1
	`, providerID)

	var m model.Message
	var tmpl, meta []byte
	err := row.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.ProviderID,
		&m.Channel, &m.Kind, &m.Body, &m.MediaURL, &tmpl, &meta, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(tmpl) > 0 {
		if err := json.Unmarshal(tmpl, &m.Template); err != nil {
			return nil, err
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (s *PG) LastInboundAt(ctx context.Context, tenantID uuid.UUID, customer string) (time.Time, error) {
	var ts time.Time
	err := s.db.QueryRow(ctx, `
		SELECT m.created_at
		FROM message m
		JOIN conversation c ON c.id = m.conversation_id
		WHERE c.tenant_id = $1 AND c.customer = $2 AND m.direction = 'IN'
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1
	`, tenantID, customer).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNoInbound
	}
	return ts, err
}

func (s *PG) CurrentDraft(ctx context.Context, conversationID uuid.UUID) (*model.Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, conversation_id, tenant_id, external_number, status, order_type, items, total, currency, address, branch, payment, created_at, updated_at
		FROM orders
		WHERE conversation_id = $1 AND status = 'DRAFT'
		ORDER BY created_at DESC
		LIMIT 1
	`, conversationID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoDraft
	}
	return o, err
}

func (s *PG) LatestOrder(ctx context.Context, conversationID uuid.UUID) (*model.Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, conversation_id, tenant_id, external_number, status, order_type, items, total, currency, address, branch, payment, created_at, updated_at
		FROM orders
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, conversationID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var items, address, branch []byte
	err := row.Scan(&o.ID, &o.ConversationID, &o.TenantID, &o.ExternalNumber, &o.Status,
		&o.Type, &items, &o.Total, &o.Currency, &address, &branch, &o.Payment,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, err
		}
	}
	if len(address) > 0 {
		if err := json.Unmarshal(address, &o.Address); err != nil {
			return nil, err
		}
	}
	if len(branch) > 0 {
		if err := json.Unmarshal(branch, &o.Branch); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func (s *PG) SaveOrder(ctx context.Context, o *model.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = time.Now().UTC()
	o.Total = o.Subtotal()

	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	var address, branch []byte
	if o.Address != nil {
		if address, err = json.Marshal(o.Address); err != nil {
			return err
		}
	}
	if o.Branch != nil {
		if branch, err = json.Marshal(o.Branch); err != nil {
			return err
		}
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (id, conversation_id, tenant_id, external_number, status, order_type, items, total, currency, address, branch, payment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			external_number = EXCLUDED.external_number,
			status          = EXCLUDED.status,
			order_type      = EXCLUDED.order_type,
			items           = EXCLUDED.items,
			total           = EXCLUDED.total,
			currency        = EXCLUDED.currency,
			address         = EXCLUDED.address,
			branch          = EXCLUDED.branch,
			payment         = EXCLUDED.payment,
			updated_at      = EXCLUDED.updated_at
	`, o.ID, o.ConversationID, o.TenantID, o.ExternalNumber, o.Status, o.Type,
		items, o.Total, o.Currency, address, branch, o.Payment, o.CreatedAt, o.UpdatedAt)
	return err
}

// TransitionOrder applies a monotonic status change. The WHERE clause
// revalidates the current status so concurrent transitions cannot skip the
// monotonicity check.
func (s *PG) TransitionOrder(ctx context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, conversation_id, tenant_id, external_number, status, order_type, items, total, currency, address, branch, payment, created_at, updated_at
		FROM orders WHERE id = $1
	`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(o.Status, next) {
		return nil, model.ErrInvalidTransition
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, id, o.Status, next, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// Lost a race; the caller retries against the fresh status.
		return nil, model.ErrInvalidTransition
	}
	o.Status = next
	return o, nil
}

func (s *PG) AppendWebhookLog(ctx context.Context, entry model.WebhookLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_log (id, tenant_id, digest, status, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.TenantID, entry.Digest, entry.Status, entry.Severity, entry.CreatedAt)
	return err
}
