package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/provider"
	"github.com/sofrahq/sofra-gateway/internal/store"
)

func TestVerifyHandshake(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/whatsapp/webhook?hub.mode=subscribe&hub.verify_token="+testVerify+"&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != "12345" {
		t.Errorf("body = %q, want the challenge", got)
	}
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/whatsapp/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestWebhookAcceptsAndDispatches(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.postWebhook(t, inboundForm("M1", "مرحبا"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	msgs := f.store.Messages()
	if len(msgs) == 0 || msgs[0].Direction != model.DirectionIn || msgs[0].Body != "مرحبا" {
		t.Fatalf("inbound not persisted: %+v", msgs)
	}

	// The bot greeted the customer.
	jobs := f.drainQueue(t)
	if len(jobs) != 1 {
		t.Fatalf("reply jobs = %d, want 1", len(jobs))
	}
	if !strings.Contains(jobs[0].Body, f.tenant.Name) {
		t.Errorf("welcome %q should mention the tenant", jobs[0].Body)
	}

	published := f.bus.Published(events.MessageChannel(f.tenant.ID.String()))
	if len(published) == 0 || published[0].Type != events.TypeMessageReceived {
		t.Errorf("message.received not published: %+v", published)
	}
}

func TestWebhookRejectsNonFormBody(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", rec.Code)
	}
}

func TestWebhookUnknownDestination(t *testing.T) {
	f := newFixture(t, nil)

	form := inboundForm("M1", "hi")
	form.Set("To", "whatsapp:+966599999999")
	rec := f.postWebhook(t, form, nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	logs := f.store.WebhookLogs()
	if len(logs) != 1 || logs[0].Severity != model.SeverityError {
		t.Errorf("expected one ERROR audit row, got %+v", logs)
	}
}

func TestWebhookInactiveTenantDroppedSilently(t *testing.T) {
	f := newFixture(t, func(ten *model.Tenant) {
		ten.Active = false
		ten.Status = model.TenantInactive
	})

	rec := f.postWebhook(t, inboundForm("M1", "hi"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "ignored" {
		t.Errorf("status field = %v, want ignored", body["status"])
	}
	if msgs := f.store.Messages(); len(msgs) != 0 {
		t.Errorf("inactive tenant message was persisted")
	}
}

func TestWebhookDuplicateProviderID(t *testing.T) {
	f := newFixture(t, nil)

	if rec := f.postWebhook(t, inboundForm("M1", "hi"), nil); rec.Code != http.StatusOK {
		t.Fatalf("first post: %d", rec.Code)
	}
	f.drainQueue(t)

	rec := f.postWebhook(t, inboundForm("M1", "hi"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["status"] != "duplicate" {
		t.Errorf("status field = %v, want duplicate", body["status"])
	}
	if msgs := f.store.Messages(); len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}
	if jobs := f.drainQueue(t); len(jobs) != 0 {
		t.Errorf("duplicate triggered %d bot replies", len(jobs))
	}
}

func TestWebhookSignature(t *testing.T) {
	f := newFixture(t, func(ten *model.Tenant) { ten.RequireSignature = true })

	form := inboundForm("M1", "hi")

	rec := f.postWebhook(t, form, map[string]string{"X-Twilio-Signature": "bogus"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad signature status = %d, want 403", rec.Code)
	}
	logs := f.store.WebhookLogs()
	if len(logs) != 1 || logs[0].Severity != model.SeveritySecurity {
		t.Fatalf("expected one SECURITY audit row, got %+v", logs)
	}

	// httptest requests land on http://example.com.
	sig := provider.Signature(f.tenant.ProviderSecret, "http://example.com/whatsapp/webhook", form)
	rec = f.postWebhook(t, form, map[string]string{"X-Twilio-Signature": sig})
	if rec.Code != http.StatusOK {
		t.Errorf("valid signature status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
}

func TestWebhookCustomerRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.Cfg.TenantPerMinute = 100 // keep the tenant bucket out of the way

	var last *httptest.ResponseRecorder
	for i := 0; i < defaultCustomerPerMinute+1; i++ {
		last = f.postWebhook(t, inboundForm(fmt.Sprintf("M%d", i), "hi"), nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestWebhookQuotaSuppressesBot(t *testing.T) {
	f := newFixture(t, func(ten *model.Tenant) {
		ten.Limits.MonthlyConversations = 1
	})

	// First customer takes the only conversation of the month.
	if rec := f.postWebhook(t, inboundForm("M1", "hi"), nil); rec.Code != http.StatusOK {
		t.Fatalf("first customer: %d", rec.Code)
	}
	f.drainQueue(t)

	form := url.Values{
		"MessageSid": {"M2"},
		"From":       {"whatsapp:+966500000002"},
		"To":         {"whatsapp:" + testSender},
		"Body":       {"مرحبا"},
	}
	rec := f.postWebhook(t, form, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("over-quota inbound status = %d, want 200", rec.Code)
	}

	// Accepted and persisted, but the bot stayed quiet.
	if msgs := f.store.Messages(); len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}
	if jobs := f.drainQueue(t); len(jobs) != 0 {
		t.Errorf("suppressed conversation got %d bot replies", len(jobs))
	}

	var sawQuota bool
	for _, evt := range f.bus.Published(events.ConversationChannel(f.tenant.ID.String())) {
		if evt.Type == events.TypeQuotaExceeded {
			sawQuota = true
		}
	}
	if !sawQuota {
		t.Error("quota.exceeded not published")
	}

	// The conversation's next message is still suppressed: over-quota holds
	// for the session's whole lifetime, not just its opening message.
	form.Set("MessageSid", "M3")
	form.Set("Body", "أهلا")
	if rec := f.postWebhook(t, form, nil); rec.Code != http.StatusOK {
		t.Fatalf("second over-quota inbound status = %d", rec.Code)
	}
	if msgs := f.store.Messages(); len(msgs) != 3 {
		t.Errorf("messages = %d, want 3", len(msgs))
	}
	if jobs := f.drainQueue(t); len(jobs) != 0 {
		t.Errorf("over-quota conversation got %d bot replies on its second message", len(jobs))
	}
}

// abortingStore fails writes once the given context is gone, the way a
// database call on a closed request context would.
type abortingStore struct {
	*store.Memory
}

func (s *abortingStore) CreateInbound(ctx context.Context, in store.InboundMessage) (*model.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.Memory.CreateInbound(ctx, in)
}

func TestWebhookPersistsWhenClientDisconnects(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.Store = &abortingStore{Memory: f.store}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	form := inboundForm("M1", "مرحبا")
	req := httptest.NewRequest(http.MethodPost, "/whatsapp/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	// The provider marked this delivery attempted; the message must land even
	// though the caller went away mid-request.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	if msgs := f.store.Messages(); len(msgs) != 1 {
		t.Fatalf("messages = %d, want the inbound persisted", len(msgs))
	}
}

func TestWebhookGlobalBotFlagOff(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.flag.SetEnabled(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	rec := f.postWebhook(t, inboundForm("M1", "hi"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if msgs := f.store.Messages(); len(msgs) != 1 {
		t.Errorf("messages = %d, want 1", len(msgs))
	}
	if jobs := f.drainQueue(t); len(jobs) != 0 {
		t.Errorf("flag off but bot replied %d times", len(jobs))
	}
}

func TestWebhookButtonClickDeliversParkedPayload(t *testing.T) {
	f := newFixture(t, nil)

	// Park a payload: outside the window the send service caches the body
	// behind a notify template.
	rec := f.postJSON(t, "/v1/messages/send", map[string]any{
		"phoneNumber": testCustomer,
		"text":        "عرض اليوم: خصم ٢٠٪",
		"fromNumber":  testSender,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send status = %d (%s)", rec.Code, rec.Body.String())
	}
	if jobs := f.drainQueue(t); len(jobs) != 1 || jobs[0].Channel != model.ChannelTemplate {
		t.Fatalf("expected one template job, got %+v", jobs)
	}

	// The customer taps the template button.
	form := inboundForm("M1", "")
	form.Set("ButtonPayload", "view_order")
	form.Set("ButtonText", "عرض الطلب")
	if rec := f.postWebhook(t, form, nil); rec.Code != http.StatusOK {
		t.Fatalf("button inbound status = %d", rec.Code)
	}

	jobs := f.drainQueue(t)
	if len(jobs) != 1 {
		t.Fatalf("reply jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Channel != model.ChannelFreeform || jobs[0].Body != "عرض اليوم: خصم ٢٠٪" {
		t.Errorf("parked payload not delivered: %+v", jobs[0])
	}
}
