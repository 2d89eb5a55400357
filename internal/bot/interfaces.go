// Package bot drives the per-conversation ordering flow: welcome, order type,
// browsing, cart, checkout, payment and submission.
package bot

import (
	"context"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/send"
)

// Category is a menu section from the tenant's catalog.
type Category struct {
	ID   string
	Name string
}

// Item is one orderable menu entry. Price is minor units.
type Item struct {
	ID         string
	CategoryID string
	Name       string
	Price      int64
	Currency   string
}

// Catalog serves the tenant's menu and branches. Implementations front the
// merchant platform and may cache.
type Catalog interface {
	Categories(ctx context.Context, merchantID string) ([]Category, error)
	Items(ctx context.Context, merchantID, categoryID string) ([]Item, error)
	Branches(ctx context.Context, merchantID string) ([]model.Branch, error)
}

// Geocoder turns coordinates into a human-readable address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// OrderSubmitter places the assembled order with the merchant platform and
// returns the external order number. Failures should be *model.SubmitError
// when the cause is classifiable.
type OrderSubmitter interface {
	Submit(ctx context.Context, t *model.Tenant, o *model.Order) (string, error)
}

// Messenger is the outbound path. Satisfied by *send.Service.
type Messenger interface {
	Send(ctx context.Context, req send.Request) (send.Receipt, error)
}

// Warmer receives first-contact prefetch jobs. Satisfied by the bootstrap
// queue; failures never reach the customer.
type Warmer interface {
	WarmUp(ctx context.Context, tenantID, conversationID uuid.UUID, customer string) error
}
