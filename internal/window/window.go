// Package window decides whether a tenant may send freeform messages to a
// customer and caches the freeform payload behind template fallbacks.
package window

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/store"
)

const (
	// Open is the provider's customer-service window. Freeform delivery is
	// allowed only while the customer's last inbound (or button click) is
	// strictly younger than this.
	Open = 24 * time.Hour

	// CacheTTL bounds how long a cached freeform payload survives behind a
	// template fallback before it expires unconsumed.
	CacheTTL = 48 * time.Hour
)

// CachedPayload is the freeform content parked while the window is closed.
type CachedPayload struct {
	Body     string    `json:"body"`
	MediaURL string    `json:"mediaUrl,omitempty"`
	CachedAt time.Time `json:"cachedAt"`
}

// Cache stores at most one pending payload per (tenant, customer) plus the
// button-click markers that reopen the window.
//
// Put replaces any unconsumed payload (newest supersedes). Consume removes
// the payload it returns; a consumed payload is gone for good.
type Cache interface {
	Put(ctx context.Context, tenantID uuid.UUID, customer string, p CachedPayload) error
	Consume(ctx context.Context, tenantID uuid.UUID, customer string) (CachedPayload, bool, error)
	MarkClick(ctx context.Context, tenantID uuid.UUID, customer string) error
	ClickedWithin(ctx context.Context, tenantID uuid.UUID, customer string, window time.Duration) (bool, error)
}

// Keeper answers channel questions for the outbound path.
type Keeper struct {
	store store.Store
	cache Cache
	now   func() time.Time
}

func NewKeeper(st store.Store, cache Cache) *Keeper {
	return &Keeper{store: st, cache: cache, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (k *Keeper) SetClock(now func() time.Time) { k.now = now }

// IsOpen reports whether the freeform window for (tenant, customer) is open:
// the customer messaged in, or clicked a template button, strictly within the
// last 24 hours. Exactly at the boundary the window is closed.
func (k *Keeper) IsOpen(ctx context.Context, tenantID uuid.UUID, customer string) (bool, error) {
	last, err := k.store.LastInboundAt(ctx, tenantID, customer)
	switch err {
	case nil:
		if k.now().UTC().Sub(last) < Open {
			return true, nil
		}
	case store.ErrNoInbound:
		// Never messaged in; fall through to the click marker.
	default:
		return false, err
	}
	return k.cache.ClickedWithin(ctx, tenantID, customer, Open)
}

// PickChannel maps the window state to the delivery channel the provider
// will accept.
func (k *Keeper) PickChannel(ctx context.Context, tenantID uuid.UUID, customer string) (model.Channel, error) {
	open, err := k.IsOpen(ctx, tenantID, customer)
	if err != nil {
		return "", err
	}
	if open {
		return model.ChannelFreeform, nil
	}
	return model.ChannelTemplate, nil
}

// Park caches the freeform payload that a template fallback stands in for.
// A later fallback for the same customer supersedes it.
func (k *Keeper) Park(ctx context.Context, tenantID uuid.UUID, customer, body, mediaURL string) error {
	return k.cache.Put(ctx, tenantID, customer, CachedPayload{
		Body:     body,
		MediaURL: mediaURL,
		CachedAt: k.now().UTC(),
	})
}

// Redeem pops the cached payload after a button click, discarding it when it
// has outlived CacheTTL. The click itself reopens the window either way.
func (k *Keeper) Redeem(ctx context.Context, tenantID uuid.UUID, customer string) (CachedPayload, bool, error) {
	if err := k.cache.MarkClick(ctx, tenantID, customer); err != nil {
		return CachedPayload{}, false, err
	}
	p, ok, err := k.cache.Consume(ctx, tenantID, customer)
	if err != nil || !ok {
		return CachedPayload{}, false, err
	}
	if k.now().UTC().Sub(p.CachedAt) >= CacheTTL {
		log.Debug().
			Str("tenantId", tenantID.String()).
			Time("cachedAt", p.CachedAt).
			Msg("discarding expired cached payload")
		return CachedPayload{}, false, nil
	}
	return p, true, nil
}
