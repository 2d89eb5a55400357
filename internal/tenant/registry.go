// Package tenant resolves inbound destination numbers to tenant records.
package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/phone"
)

// cacheTTL bounds how stale a cached resolution may be. Writes also publish
// admin.invalidate so other processes drop their entries early.
const cacheTTL = 60 * time.Second

// Repo is the durable tenant store.
type Repo interface {
	GetByDestination(ctx context.Context, canonical string) (*model.Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	UpdateCredentials(ctx context.Context, id uuid.UUID, account, secret string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// Registry fronts the Repo with a short-TTL in-memory cache.
type Registry struct {
	repo Repo
	bus  events.Bus

	mu    sync.Mutex
	now   func() time.Time
	byDst map[string]cacheEntry
}

type cacheEntry struct {
	tenant    *model.Tenant
	expiresAt time.Time
}

func NewRegistry(repo Repo, bus events.Bus) *Registry {
	return &Registry{
		repo:  repo,
		bus:   bus,
		now:   time.Now,
		byDst: make(map[string]cacheEntry),
	}
}

// SetClock overrides the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// ResolveByDestination normalizes the address and returns the active tenant
// bound to it. ErrTenantNotFound when no tenant owns the number,
// ErrTenantInactive when the owner is disabled. Inactive tenants are not
// cached so reactivation takes effect immediately.
func (r *Registry) ResolveByDestination(ctx context.Context, address string) (*model.Tenant, error) {
	canonical, err := phone.Canonical(address)
	if err != nil {
		return nil, model.ErrTenantNotFound
	}

	r.mu.Lock()
	if e, ok := r.byDst[canonical]; ok && e.expiresAt.After(r.now()) {
		t := e.tenant
		r.mu.Unlock()
		return t, nil
	}
	r.mu.Unlock()

	t, err := r.repo.GetByDestination(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if !t.Active || t.Status != model.TenantActive {
		return nil, model.ErrTenantInactive
	}

	r.mu.Lock()
	r.byDst[canonical] = cacheEntry{tenant: t, expiresAt: r.now().Add(cacheTTL)}
	r.mu.Unlock()
	return t, nil
}

// Load fetches a tenant by id, bypassing the destination cache.
func (r *Registry) Load(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return r.repo.GetByID(ctx, id)
}

// UpdateCredentials rotates the provider account/secret and invalidates
// cached resolutions everywhere.
func (r *Registry) UpdateCredentials(ctx context.Context, id uuid.UUID, account, secret string) error {
	if err := r.repo.UpdateCredentials(ctx, id, account, secret); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// Activate enables a tenant. Deactivate soft-deletes it; existing records
// stay, automation and sends stop.
func (r *Registry) Activate(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.SetActive(ctx, id, true); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *Registry) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := r.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *Registry) invalidate(ctx context.Context, id uuid.UUID) {
	r.dropLocal(id)
	evt := events.NewEvent(events.TypeAdminInvalidate, id.String(), map[string]string{"tenantId": id.String()})
	if err := r.bus.Publish(ctx, events.AdminChannel, evt); err != nil {
		log.Warn().Err(err).Str("tenant_id", id.String()).Msg("failed to publish cache invalidation")
	}
}

func (r *Registry) dropLocal(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for dst, e := range r.byDst {
		if e.tenant.ID == id {
			delete(r.byDst, dst)
		}
	}
}

// WatchInvalidations drops local cache entries when other processes publish
// admin.invalidate. Blocks until ctx is cancelled.
func (r *Registry) WatchInvalidations(ctx context.Context) {
	ch, cancel := r.bus.Subscribe(ctx, events.AdminChannel)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if id, err := uuid.Parse(evt.TenantID); err == nil {
				r.dropLocal(id)
			}
		}
	}
}
