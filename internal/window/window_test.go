package window

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/store"
)

func newKeeper(t *testing.T) (*Keeper, *store.Memory, *MemoryCache, *time.Time) {
	t.Helper()
	st := store.NewMemory()
	cache := NewMemoryCache()
	k := NewKeeper(st, cache)

	now := time.Now()
	clock := func() time.Time { return now }
	st.SetClock(clock)
	cache.SetClock(clock)
	k.SetClock(clock)
	return k, st, cache, &now
}

func TestWindowOpensOnInbound(t *testing.T) {
	k, st, _, now := newKeeper(t)
	ctx := context.Background()
	tenantID := uuid.New()

	open, err := k.IsOpen(ctx, tenantID, "+201000000001")
	if err != nil {
		t.Fatal(err)
	}
	if open {
		t.Error("window must be closed with no inbound history")
	}

	st.CreateInbound(ctx, store.InboundMessage{
		TenantID: tenantID, Customer: "+201000000001", ProviderID: "M1",
		Kind: model.KindText, Body: "hi",
	})

	if open, _ = k.IsOpen(ctx, tenantID, "+201000000001"); !open {
		t.Error("window must open on inbound")
	}

	ch, _ := k.PickChannel(ctx, tenantID, "+201000000001")
	if ch != model.ChannelFreeform {
		t.Errorf("channel = %s, want freeform", ch)
	}

	*now = now.Add(23 * time.Hour)
	if open, _ = k.IsOpen(ctx, tenantID, "+201000000001"); !open {
		t.Error("window must stay open inside 24h")
	}
}

func TestWindowBoundaryIsStrict(t *testing.T) {
	k, st, _, now := newKeeper(t)
	ctx := context.Background()
	tenantID := uuid.New()

	st.CreateInbound(ctx, store.InboundMessage{
		TenantID: tenantID, Customer: "+201000000001", ProviderID: "M1",
		Kind: model.KindText, Body: "hi",
	})

	// Exactly 24h later the window is closed.
	*now = now.Add(Open)
	open, err := k.IsOpen(ctx, tenantID, "+201000000001")
	if err != nil {
		t.Fatal(err)
	}
	if open {
		t.Error("window exactly at the boundary must be closed")
	}

	ch, _ := k.PickChannel(ctx, tenantID, "+201000000001")
	if ch != model.ChannelTemplate {
		t.Errorf("channel = %s, want template", ch)
	}
}

func TestButtonClickReopensWindow(t *testing.T) {
	k, st, _, now := newKeeper(t)
	ctx := context.Background()
	tenantID := uuid.New()

	st.CreateInbound(ctx, store.InboundMessage{
		TenantID: tenantID, Customer: "+201000000001", ProviderID: "M1",
		Kind: model.KindText, Body: "hi",
	})
	*now = now.Add(30 * time.Hour)
	if open, _ := k.IsOpen(ctx, tenantID, "+201000000001"); open {
		t.Fatal("window must be closed after 30h of silence")
	}

	// A button click reopens it even though the payload cache is empty.
	if _, ok, err := k.Redeem(ctx, tenantID, "+201000000001"); err != nil || ok {
		t.Fatalf("Redeem on empty cache: ok=%v err=%v", ok, err)
	}
	if open, _ := k.IsOpen(ctx, tenantID, "+201000000001"); !open {
		t.Error("button click must reopen the window")
	}

	*now = now.Add(Open)
	if open, _ := k.IsOpen(ctx, tenantID, "+201000000001"); open {
		t.Error("click-opened window must also expire at the boundary")
	}
}

func TestParkAndRedeem(t *testing.T) {
	k, _, _, now := newKeeper(t)
	ctx := context.Background()
	tenantID := uuid.New()

	if err := k.Park(ctx, tenantID, "+201000000001", "your order is ready", ""); err != nil {
		t.Fatal(err)
	}

	p, ok, err := k.Redeem(ctx, tenantID, "+201000000001")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || p.Body != "your order is ready" {
		t.Fatalf("Redeem = %+v ok=%v", p, ok)
	}

	// Delivered payloads are terminal.
	if _, ok, _ = k.Redeem(ctx, tenantID, "+201000000001"); ok {
		t.Error("a consumed payload must not be redeemable again")
	}
	_ = now
}

func TestNewestPayloadSupersedes(t *testing.T) {
	k, _, _, _ := newKeeper(t)
	ctx := context.Background()
	tenantID := uuid.New()

	k.Park(ctx, tenantID, "+201000000001", "first", "")
	k.Park(ctx, tenantID, "+201000000001", "second", "")

	p, ok, _ := k.Redeem(ctx, tenantID, "+201000000001")
	if !ok || p.Body != "second" {
		t.Fatalf("Redeem = %+v ok=%v, want the newest payload", p, ok)
	}
}

func TestCachedPayloadExpires(t *testing.T) {
	k, _, _, now := newKeeper(t)
	ctx := context.Background()
	tenantID := uuid.New()

	k.Park(ctx, tenantID, "+201000000001", "stale", "")

	// Exactly at the TTL the payload is gone.
	*now = now.Add(CacheTTL)
	if _, ok, _ := k.Redeem(ctx, tenantID, "+201000000001"); ok {
		t.Error("payload exactly at the TTL must be expired")
	}
	// The click still reopened the window.
	if open, _ := k.IsOpen(ctx, tenantID, "+201000000001"); !open {
		t.Error("the click must reopen the window even when the payload expired")
	}
}
