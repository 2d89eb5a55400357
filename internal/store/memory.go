package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// Memory is a process-local Store used by tests and by the other packages'
// unit suites. It mirrors the PG implementation's semantics: provider-id
// idempotency, monotonic lastMessageAt, monotonic order transitions.
type Memory struct {
	mu            sync.Mutex
	now           func() time.Time
	conversations map[uuid.UUID]*model.Conversation
	byCustomer    map[string]uuid.UUID // tenant|customer -> conversation id
	messages      []*model.Message
	byProviderID  map[string]*model.Message
	orders        map[uuid.UUID]*model.Order
	logs          []model.WebhookLog
}

func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		conversations: make(map[uuid.UUID]*model.Conversation),
		byCustomer:    make(map[string]uuid.UUID),
		byProviderID:  make(map[string]*model.Message),
		orders:        make(map[uuid.UUID]*model.Order),
	}
}

// SetClock overrides the time source. Test hook.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func convKey(tenantID uuid.UUID, customer string) string {
	return tenantID.String() + "|" + customer
}

func (s *Memory) UpsertConversation(_ context.Context, tenantID uuid.UUID, customer string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(tenantID, customer), nil
}

func (s *Memory) upsertLocked(tenantID uuid.UUID, customer string) *model.Conversation {
	if id, ok := s.byCustomer[convKey(tenantID, customer)]; ok {
		cp := *s.conversations[id]
		return &cp
	}
	now := s.now().UTC()
	c := &model.Conversation{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Customer:      customer,
		BotEnabled:    true,
		State:         model.StateNew,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	s.conversations[c.ID] = c
	s.byCustomer[convKey(tenantID, customer)] = c.ID
	cp := *c
	return &cp
}

func (s *Memory) GetConversation(_ context.Context, id uuid.UUID) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) SetConversationState(_ context.Context, id uuid.UUID, state model.BotState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	c.State = state
	return nil
}

func (s *Memory) SetBotEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	c.BotEnabled = enabled
	return nil
}

func (s *Memory) CreateInbound(_ context.Context, in InboundMessage) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byProviderID[in.ProviderID]; ok && in.ProviderID != "" {
		cp := *existing
		return &cp, false, nil
	}

	conv := s.upsertLocked(in.TenantID, in.Customer)
	now := s.now().UTC()
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
	s.messages = append(s.messages, m)
	if m.ProviderID != "" {
		s.byProviderID[m.ProviderID] = m
	}

	c := s.conversations[conv.ID]
	c.UnreadCount++
	if now.After(c.LastMessageAt) {
		c.LastMessageAt = now
	}

	cp := *m
	return &cp, true, nil
}

func (s *Memory) CreateOutbound(_ context.Context, out OutboundMessage) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if out.ProviderID != "" {
		if existing, ok := s.byProviderID[out.ProviderID]; ok {
			cp := *existing
			return &cp, false, nil
		}
	}

	now := s.now().UTC()
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
	s.messages = append(s.messages, m)
	if m.ProviderID != "" {
		s.byProviderID[m.ProviderID] = m
	}
	if c, ok := s.conversations[out.ConversationID]; ok && now.After(c.LastMessageAt) {
		c.LastMessageAt = now
	}

	cp := *m
	return &cp, true, nil
}

func (s *Memory) LastInboundAt(_ context.Context, tenantID uuid.UUID, customer string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest time.Time
	found := false
	for _, m := range s.messages {
		if m.TenantID != tenantID || m.Direction != model.DirectionIn {
			continue
		}
		c, ok := s.conversations[m.ConversationID]
		if !ok || c.Customer != customer {
			continue
		}
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, ErrNoInbound
	}
	return latest, nil
}

func (s *Memory) CurrentDraft(_ context.Context, conversationID uuid.UUID) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.Order
	for _, o := range s.orders {
		if o.ConversationID == conversationID && o.Status == model.OrderDraft {
			if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
				latest = o
			}
		}
	}
	if latest == nil {
		return nil, ErrNoDraft
	}
	cp := cloneOrder(latest)
	return cp, nil
}

func (s *Memory) LatestOrder(_ context.Context, conversationID uuid.UUID) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.Order
	for _, o := range s.orders {
		if o.ConversationID != conversationID {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(latest), nil
}

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	if o.Address != nil {
		a := *o.Address
		cp.Address = &a
	}
	if o.Branch != nil {
		b := *o.Branch
		cp.Branch = &b
	}
	return &cp
}

func (s *Memory) SaveOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
		o.CreatedAt = s.now().UTC()
	}
	o.UpdatedAt = s.now().UTC()
	o.Total = o.Subtotal()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Memory) TransitionOrder(_ context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if !model.CanTransition(o.Status, next) {
		return nil, model.ErrInvalidTransition
	}
	o.Status = next
	o.UpdatedAt = s.now().UTC()
	return cloneOrder(o), nil
}

func (s *Memory) AppendWebhookLog(_ context.Context, entry model.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	s.logs = append(s.logs, entry)
	return nil
}

// Messages returns all message rows in insertion order. Test hook.
func (s *Memory) Messages() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.messages))
	for i, m := range s.messages {
		cp := *m
		out[i] = &cp
	}
	return out
}

// WebhookLogs returns the audit rows in insertion order. Test hook.
func (s *Memory) WebhookLogs() []model.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WebhookLog(nil), s.logs...)
}

// Orders returns all orders. Test hook.
func (s *Memory) Orders() []*model.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, cloneOrder(o))
	}
	return out
}
