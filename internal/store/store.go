// Package store is the durable source of truth for conversations, messages,
// orders and the webhook audit log. In-memory caches elsewhere are derived
// from it and never authoritative.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/model"
)

// InboundMessage is the parsed inbound payload handed to CreateInbound.
type InboundMessage struct {
	TenantID   uuid.UUID
	Customer   string // canonical +E164
	ProviderID string
	Kind       model.Kind
	Body       string
	MediaURL   string
	Metadata   map[string]string
}

// OutboundMessage is the payload handed to CreateOutbound after a send.
type OutboundMessage struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	ProviderID     string
	Channel        model.Channel
	Kind           model.Kind
	Body           string
	MediaURL       string
	Template       *model.TemplateDescriptor
}

// Store persists the gateway's entities.
//
// CreateInbound and CreateOutbound are idempotent on provider message id:
// when a row with the same provider id already exists the existing row is
// returned with created=false instead of an error.
type Store interface {
	// Conversations.
	UpsertConversation(ctx context.Context, tenantID uuid.UUID, customer string) (*model.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	SetConversationState(ctx context.Context, id uuid.UUID, state model.BotState) error
	SetBotEnabled(ctx context.Context, id uuid.UUID, enabled bool) error

	// Messages.
	CreateInbound(ctx context.Context, in InboundMessage) (msg *model.Message, created bool, err error)
	CreateOutbound(ctx context.Context, out OutboundMessage) (msg *model.Message, created bool, err error)
	LastInboundAt(ctx context.Context, tenantID uuid.UUID, customer string) (time.Time, error)

	// Orders.
	CurrentDraft(ctx context.Context, conversationID uuid.UUID) (*model.Order, error)
	LatestOrder(ctx context.Context, conversationID uuid.UUID) (*model.Order, error)
	SaveOrder(ctx context.Context, o *model.Order) error
	TransitionOrder(ctx context.Context, id uuid.UUID, next model.OrderStatus) (*model.Order, error)

	// Audit.
	AppendWebhookLog(ctx context.Context, entry model.WebhookLog) error
}

// ErrNotFound is returned for missing conversations, orders and drafts.
// Declared here rather than in model: callers that reach the store already
// hold validated ids, so a miss is a store-level condition.
type notFoundError string

func (e notFoundError) Error() string { return string(e) }

const (
	ErrConversationNotFound = notFoundError("store: conversation not found")
	ErrOrderNotFound        = notFoundError("store: order not found")
	ErrNoDraft              = notFoundError("store: no draft order")
	ErrNoInbound            = notFoundError("store: no inbound message")
)
