package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/model"
)

type fakeRepo struct {
	mu      sync.Mutex
	tenants map[string]*model.Tenant // by canonical sender address
	loads   int
}

func newFakeRepo(ts ...*model.Tenant) *fakeRepo {
	r := &fakeRepo{tenants: make(map[string]*model.Tenant)}
	for _, t := range ts {
		r.tenants[t.SenderAddress] = t
	}
	return r
}

func (r *fakeRepo) GetByDestination(_ context.Context, canonical string) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	t, ok := r.tenants[canonical]
	if !ok {
		return nil, model.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, model.ErrTenantNotFound
}

func (r *fakeRepo) UpdateCredentials(_ context.Context, id uuid.UUID, account, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.ID == id {
			t.ProviderAccount = account
			t.ProviderSecret = secret
			return nil
		}
	}
	return model.ErrTenantNotFound
}

func (r *fakeRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tenants {
		if t.ID == id {
			t.Active = active
			if active {
				t.Status = model.TenantActive
			} else {
				t.Status = model.TenantInactive
			}
			return nil
		}
	}
	return model.ErrTenantNotFound
}

func activeTenant(sender string) *model.Tenant {
	return &model.Tenant{
		ID:            uuid.New(),
		Name:          "Shawarma House",
		SenderAddress: sender,
		Active:        true,
		Status:        model.TenantActive,
		Limits:        model.TenantLimits{PerMinute: 60, MonthlyConversations: 1000},
	}
}

func TestResolveByDestination(t *testing.T) {
	repo := newFakeRepo(activeTenant("+966500000001"))
	reg := NewRegistry(repo, events.NewMemoryBus())
	ctx := context.Background()

	// Channel prefix and formatting noise normalize to the same tenant.
	for _, addr := range []string{"whatsapp:+966500000001", "+966500000001", "966 50 000 0001"} {
		got, err := reg.ResolveByDestination(ctx, addr)
		if err != nil {
			t.Fatalf("ResolveByDestination(%q): %v", addr, err)
		}
		if got.Name != "Shawarma House" {
			t.Errorf("ResolveByDestination(%q) = %q", addr, got.Name)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	reg := NewRegistry(newFakeRepo(), events.NewMemoryBus())
	_, err := reg.ResolveByDestination(context.Background(), "whatsapp:+966599999999")
	if !errors.Is(err, model.ErrTenantNotFound) {
		t.Fatalf("err = %v, want ErrTenantNotFound", err)
	}
}

func TestResolveInactive(t *testing.T) {
	tn := activeTenant("+966500000001")
	tn.Active = false
	tn.Status = model.TenantInactive
	reg := NewRegistry(newFakeRepo(tn), events.NewMemoryBus())

	_, err := reg.ResolveByDestination(context.Background(), "whatsapp:+966500000001")
	if !errors.Is(err, model.ErrTenantInactive) {
		t.Fatalf("err = %v, want ErrTenantInactive", err)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	repo := newFakeRepo(activeTenant("+966500000001"))
	reg := NewRegistry(repo, events.NewMemoryBus())
	now := time.Now()
	reg.SetClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := reg.ResolveByDestination(ctx, "+966500000001"); err != nil {
			t.Fatal(err)
		}
	}
	if repo.loads != 1 {
		t.Errorf("repo loads = %d, want 1 (cached)", repo.loads)
	}

	// Past the TTL the next resolve goes back to the store.
	now = now.Add(61 * time.Second)
	reg.ResolveByDestination(ctx, "+966500000001")
	if repo.loads != 2 {
		t.Errorf("repo loads = %d, want 2 after TTL expiry", repo.loads)
	}
}

func TestWriteInvalidatesCache(t *testing.T) {
	tn := activeTenant("+966500000001")
	repo := newFakeRepo(tn)
	bus := events.NewMemoryBus()
	reg := NewRegistry(repo, bus)
	ctx := context.Background()

	reg.ResolveByDestination(ctx, "+966500000001")
	if err := reg.Deactivate(ctx, tn.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	// The cached entry is gone; the fresh read sees the inactive tenant.
	_, err := reg.ResolveByDestination(ctx, "+966500000001")
	if !errors.Is(err, model.ErrTenantInactive) {
		t.Fatalf("err after deactivate = %v, want ErrTenantInactive", err)
	}

	if got := bus.Published(events.AdminChannel); len(got) != 1 || got[0].Type != events.TypeAdminInvalidate {
		t.Errorf("expected one admin.invalidate event, got %+v", got)
	}
}

func TestUpdateCredentialsInvalidates(t *testing.T) {
	tn := activeTenant("+966500000001")
	repo := newFakeRepo(tn)
	reg := NewRegistry(repo, events.NewMemoryBus())
	ctx := context.Background()

	reg.ResolveByDestination(ctx, "+966500000001")
	if err := reg.UpdateCredentials(ctx, tn.ID, "AC999", "secret2"); err != nil {
		t.Fatalf("UpdateCredentials: %v", err)
	}

	got, err := reg.ResolveByDestination(ctx, "+966500000001")
	if err != nil {
		t.Fatal(err)
	}
	if got.ProviderAccount != "AC999" {
		t.Errorf("cached credentials survived a write: account = %q", got.ProviderAccount)
	}
}
