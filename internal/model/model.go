// Package model holds the persisted entities shared across the gateway.
package model

import (
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the admin-facing lifecycle of a tenant.
type TenantStatus string

const (
	TenantPending  TenantStatus = "PENDING"
	TenantActive   TenantStatus = "ACTIVE"
	TenantRejected TenantStatus = "REJECTED"
	TenantInactive TenantStatus = "INACTIVE"
)

// TenantLimits are the per-tenant throughput and quota settings.
type TenantLimits struct {
	PerMinute            int `json:"perMinute"`
	PerDay               int `json:"perDay"`
	MonthlyConversations int `json:"monthlyConversations"`
}

// Tenant is a restaurant bound to one sender address and one set of
// provider credentials.
type Tenant struct {
	ID               uuid.UUID
	Name             string
	SenderAddress    string // canonical +E164
	ProviderAccount  string
	ProviderSecret   string // decrypted in memory, encrypted at rest
	RequireSignature bool
	Active           bool
	Status           TenantStatus
	Limits           TenantLimits
	MerchantID       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Direction of a message relative to the gateway.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// Channel is the outbound delivery channel the provider requires.
type Channel string

const (
	ChannelFreeform Channel = "freeform"
	ChannelTemplate Channel = "template"
)

// Kind is the payload variant of a message, parsed once at the boundary.
type Kind string

const (
	KindText        Kind = "text"
	KindInteractive Kind = "interactive"
	KindLocation    Kind = "location"
	KindTemplate    Kind = "template"
	KindMedia       Kind = "media"
	KindButton      Kind = "button"
)

// Conversation is the unique (tenant, customer) thread.
type Conversation struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	Customer      string // canonical +E164
	BotEnabled    bool
	UnreadCount   int
	State         BotState
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// TemplateDescriptor pairs the provider template SID with the name shown to
// humans. Events and APIs always emit the friendly name.
type TemplateDescriptor struct {
	SID          string            `json:"sid"`
	FriendlyName string            `json:"friendlyName"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// Message is one inbound or outbound message row.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	TenantID       uuid.UUID
	Direction      Direction
	ProviderID     string // unique when set; empty for OUT before send
	Channel        Channel
	Kind           Kind
	Body           string
	MediaURL       string
	Template       *TemplateDescriptor
	Metadata       map[string]string
	CreatedAt      time.Time
}

// OrderStatus is the order lifecycle. Transitions are monotonic except to
// OrderCancelled.
type OrderStatus string

const (
	OrderDraft          OrderStatus = "DRAFT"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderPreparing      OrderStatus = "PREPARING"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderRated          OrderStatus = "RATED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

var orderRank = map[OrderStatus]int{
	OrderDraft:          0,
	OrderConfirmed:      1,
	OrderPreparing:      2,
	OrderOutForDelivery: 3,
	OrderDelivered:      4,
	OrderRated:          5,
}

// CanTransition reports whether an order may move from to next. Forward-only,
// except CANCELLED which is reachable from any non-terminal status.
func CanTransition(from, next OrderStatus) bool {
	if from == next {
		return false
	}
	if next == OrderCancelled {
		return from != OrderDelivered && from != OrderRated && from != OrderCancelled
	}
	if from == OrderCancelled {
		return false
	}
	fr, ok := orderRank[from]
	if !ok {
		return false
	}
	nr, ok := orderRank[next]
	if !ok {
		return false
	}
	return nr > fr
}

// OrderType is how the customer receives the order.
type OrderType string

const (
	OrderDelivery OrderType = "Delivery"
	OrderTakeaway OrderType = "Takeaway"
	OrderDineIn   OrderType = "DineIn"
	OrderFromCar  OrderType = "FromCar"
)

// PaymentMethod selected at checkout.
type PaymentMethod string

const (
	PayOnline PaymentMethod = "online"
	PayCash   PaymentMethod = "cash"
)

// OrderItem is one cart line. Prices are minor units.
type OrderItem struct {
	ItemID    string `json:"itemId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
}

// DeliveryAddress is a geocoded drop-off point.
type DeliveryAddress struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// Branch is a pickup location resolved from the tenant's catalog.
type Branch struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

// Order is the customer's order draft and its post-submission lifecycle.
type Order struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	TenantID       uuid.UUID
	ExternalNumber string // set on submission
	Status         OrderStatus
	Type           OrderType
	Items          []OrderItem
	Total          int64 // minor units
	Currency       string
	Address        *DeliveryAddress
	Branch         *Branch
	Payment        PaymentMethod
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Subtotal recomputes the items total in minor units.
func (o *Order) Subtotal() int64 {
	var sum int64
	for _, it := range o.Items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

// BotState is the per-conversation position in the ordering flow.
type BotState string

const (
	StateNew              BotState = "NEW"
	StateAwaitingType     BotState = "AWAITING_TYPE"
	StateAwaitingLocation BotState = "AWAITING_LOCATION"
	StateAwaitingBranch   BotState = "AWAITING_BRANCH"
	StateBrowsingCats     BotState = "BROWSING_CATEGORIES"
	StateBrowsingItems    BotState = "BROWSING_ITEMS"
	StateAwaitingQty      BotState = "AWAITING_QUANTITY"
	StateCartOverview     BotState = "CART_OVERVIEW"
	StateAwaitingRemoval  BotState = "AWAITING_REMOVAL"
	StateCheckout         BotState = "CHECKOUT"
	StateAwaitingPayment  BotState = "AWAITING_PAYMENT"
	StateOrderSubmitted   BotState = "ORDER_SUBMITTED"
	StateTracking         BotState = "TRACKING"
	StateHandover         BotState = "HANDOVER"
)

// LogSeverity classifies webhook audit rows.
type LogSeverity string

const (
	SeverityInfo     LogSeverity = "INFO"
	SeverityError    LogSeverity = "ERROR"
	SeveritySecurity LogSeverity = "SECURITY"
)

// WebhookLog is one append-only audit row per inbound request.
type WebhookLog struct {
	ID        uuid.UUID
	TenantID  *uuid.UUID
	Digest    string
	Status    int
	Severity  LogSeverity
	CreatedAt time.Time
}

// SessionInfo is the result of session detection on an inbound message.
type SessionInfo struct {
	SessionID    uuid.UUID
	IsNew        bool
	QuotaAllowed bool
}
