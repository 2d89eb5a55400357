package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/sofrahq/sofra-gateway/internal/auth"
	"github.com/sofrahq/sofra-gateway/internal/bot"
	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/idem"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/outbound"
	"github.com/sofrahq/sofra-gateway/internal/phone"
	"github.com/sofrahq/sofra-gateway/internal/ratelimit"
	"github.com/sofrahq/sofra-gateway/internal/send"
	"github.com/sofrahq/sofra-gateway/internal/session"
	"github.com/sofrahq/sofra-gateway/internal/store"
	"github.com/sofrahq/sofra-gateway/internal/tenant"
	"github.com/sofrahq/sofra-gateway/internal/window"
)

const (
	testSender   = "+966511111111"
	testCustomer = "+966500000001"
	testVerify   = "verify-me"
)

type memRepo struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*model.Tenant
	byDst   map[string]*model.Tenant
}

func newMemRepo(ts ...*model.Tenant) *memRepo {
	r := &memRepo{
		tenants: make(map[uuid.UUID]*model.Tenant),
		byDst:   make(map[string]*model.Tenant),
	}
	for _, t := range ts {
		r.tenants[t.ID] = t
		r.byDst[t.SenderAddress] = t
	}
	return r
}

func (r *memRepo) GetByDestination(_ context.Context, canonical string) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byDst[canonical]
	if !ok {
		return nil, model.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, model.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) UpdateCredentials(_ context.Context, id uuid.UUID, account, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return model.ErrTenantNotFound
	}
	t.ProviderAccount = account
	t.ProviderSecret = secret
	return nil
}

func (r *memRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return model.ErrTenantNotFound
	}
	t.Active = active
	if active {
		t.Status = model.TenantActive
	} else {
		t.Status = model.TenantInactive
	}
	return nil
}

type stubCatalog struct{}

func (stubCatalog) Categories(context.Context, string) ([]bot.Category, error) {
	return []bot.Category{{ID: "c1", Name: "شاورما"}}, nil
}

func (stubCatalog) Items(context.Context, string, string) ([]bot.Item, error) {
	return []bot.Item{{ID: "i1", CategoryID: "c1", Name: "شاورما دجاج", Price: 1500}}, nil
}

func (stubCatalog) Branches(context.Context, string) ([]model.Branch, error) {
	return []model.Branch{{ID: "b1", Name: "فرع العليا"}}, nil
}

type stubGeo struct{}

func (stubGeo) ReverseGeocode(context.Context, float64, float64) (string, error) {
	return "شارع العليا، الرياض", nil
}

type stubSubmitter struct{}

func (stubSubmitter) Submit(context.Context, *model.Tenant, *model.Order) (string, error) {
	return "ORD-1001", nil
}

type stubWarmer struct{}

func (stubWarmer) WarmUp(context.Context, uuid.UUID, uuid.UUID, string) error { return nil }

type fixture struct {
	srv     *Server
	handler http.Handler
	store   *store.Memory
	queue   *outbound.MemoryQueue
	bus     *events.MemoryBus
	flag    *bot.MemoryFlag
	repo    *memRepo
	tenant  *model.Tenant
}

func newFixture(t *testing.T, mutate func(*model.Tenant)) *fixture {
	t.Helper()

	ten := &model.Tenant{
		ID:              uuid.New(),
		Name:            "مطعم سفرة",
		SenderAddress:   testSender,
		ProviderAccount: "AC123",
		ProviderSecret:  "twilio-secret",
		Active:          true,
		Status:          model.TenantActive,
		MerchantID:      "m1",
	}
	if mutate != nil {
		mutate(ten)
	}

	st := store.NewMemory()
	queue := outbound.NewMemoryQueue()
	bus := events.NewMemoryBus()
	repo := newMemRepo(ten)
	keeper := window.NewKeeper(st, window.NewMemoryCache())
	sender := send.NewService(queue, keeper, send.Templates{
		Welcome: model.TemplateDescriptor{SID: "HXwelcome", FriendlyName: "welcome"},
		Notify:  model.TemplateDescriptor{SID: "HXnotify", FriendlyName: "notify"},
	})
	engine := bot.NewEngine(st, sender, stubCatalog{}, stubGeo{}, stubSubmitter{}, stubWarmer{}, keeper, bus)
	flag := bot.NewMemoryFlag()

	srv := &Server{
		Tenants:  tenant.NewRegistry(repo, bus),
		Store:    st,
		Idem:     idem.NewMemoryStore(),
		Limiter:  ratelimit.NewMemoryLimiter(),
		Sessions: session.NewMemoryTracker(),
		Bus:      bus,
		Sender:   sender,
		Bot:      engine,
		Flag:     flag,
		Queue:    queue,
		JWT:      auth.JWTCfg{DevMode: true},
		Cfg:      Config{VerifyToken: testVerify},
	}

	return &fixture{
		srv:     srv,
		handler: srv.Routes(),
		store:   st,
		queue:   queue,
		bus:     bus,
		flag:    flag,
		repo:    repo,
		tenant:  ten,
	}
}

// inboundForm builds a minimal provider webhook form.
func inboundForm(sid, body string) url.Values {
	return url.Values{
		"MessageSid": {sid},
		"From":       {phone.WithChannel(testCustomer)},
		"To":         {phone.WithChannel(testSender)},
		"Body":       {body},
	}
}

func (f *fixture) postWebhook(t *testing.T, form url.Values, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// drainQueue empties the outbound queue and returns the jobs.
func (f *fixture) drainQueue(t *testing.T) []outbound.Job {
	t.Helper()
	var jobs []outbound.Job
	for {
		job, ok, err := f.queue.Dequeue(context.Background(), 0)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			return jobs
		}
		jobs = append(jobs, job)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}
