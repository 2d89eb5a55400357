package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/metrics"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/phone"
	"github.com/sofrahq/sofra-gateway/internal/provider"
	"github.com/sofrahq/sofra-gateway/internal/ratelimit"
	"github.com/sofrahq/sofra-gateway/internal/store"
)

// persistDeadline bounds the inbound persist step once it is detached from
// the request context.
const persistDeadline = 5 * time.Second

// handleVerify answers the provider's subscription handshake: echo the
// challenge when the verify token matches, 403 otherwise.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := firstOf(q, "hub.mode", "mode")
	token := firstOf(q, "hub.verify_token", "verify_token")
	challenge := firstOf(q, "hub.challenge", "challenge")

	if mode == "subscribe" && challenge != "" && s.Cfg.VerifyToken != "" && token == s.Cfg.VerifyToken {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}
	writeError(w, http.StatusForbidden, "verification failed")
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// handleWebhook runs the inbound pipeline. Order matters: signature before
// rate limits, idempotency before per-tenant limits, persistence before
// events and bot dispatch. Once the message row exists the provider always
// gets a 200, whatever happens downstream.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/x-www-form-urlencoded") && !strings.HasPrefix(ct, "multipart/form-data") {
		metrics.InboundDenied.WithLabelValues("payload").Inc()
		writeError(w, http.StatusUnsupportedMediaType, "expected form payload")
		return
	}
	if err := r.ParseForm(); err != nil {
		metrics.InboundDenied.WithLabelValues("payload").Inc()
		writeError(w, http.StatusBadRequest, "malformed form payload")
		return
	}
	form := r.PostForm
	digest := payloadDigest(form)

	providerID := form.Get("MessageSid")
	if providerID == "" {
		providerID = form.Get("SmsMessageSid")
	}
	if providerID == "" || form.Get("From") == "" || form.Get("To") == "" {
		metrics.InboundDenied.WithLabelValues("payload").Inc()
		s.audit(r, nil, digest, http.StatusBadRequest, model.SeverityError)
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	t, err := s.Tenants.ResolveByDestination(ctx, form.Get("To"))
	switch {
	case errors.Is(err, model.ErrTenantNotFound):
		metrics.InboundDenied.WithLabelValues("tenant").Inc()
		s.audit(r, nil, digest, http.StatusNotFound, model.SeverityError)
		writeError(w, http.StatusNotFound, "no tenant bound to destination")
		return
	case errors.Is(err, model.ErrTenantInactive):
		// Acknowledge and drop: the provider must not retry into a
		// deactivated tenant.
		s.audit(r, nil, digest, http.StatusOK, model.SeverityInfo)
		log.Info().Str("to", form.Get("To")).Msg("dropped inbound for inactive tenant")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		s.audit(r, nil, digest, http.StatusInternalServerError, model.SeverityError)
		writeError(w, http.StatusInternalServerError, "tenant lookup failed")
		return
	}

	if t.RequireSignature {
		sig := r.Header.Get("X-Twilio-Signature")
		if !provider.ValidSignature(t.ProviderSecret, s.requestURL(r), form, sig) {
			metrics.InboundDenied.WithLabelValues("signature").Inc()
			s.audit(r, &t.ID, digest, http.StatusForbidden, model.SeveritySecurity)
			log.Warn().
				Str("tenantId", t.ID.String()).
				Str("remote", r.RemoteAddr).
				Msg("webhook signature mismatch")
			writeError(w, http.StatusForbidden, "signature mismatch")
			return
		}
	}

	if denied := s.checkLimit(ctx, ratelimit.GlobalWebhookBucket(), s.Cfg.globalLimit()); denied != nil {
		s.deny429(w, r, &t.ID, digest, denied)
		return
	}

	acquired, err := s.Idem.TryAcquire(ctx, "msg:"+providerID, 0)
	if err != nil {
		s.audit(r, &t.ID, digest, http.StatusInternalServerError, model.SeverityError)
		writeError(w, http.StatusInternalServerError, "idempotency check failed")
		return
	}
	if !acquired {
		metrics.InboundDeduped.Inc()
		s.audit(r, &t.ID, digest, http.StatusOK, model.SeverityInfo)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	customer, err := phone.Canonical(form.Get("From"))
	if err != nil {
		metrics.InboundDenied.WithLabelValues("payload").Inc()
		s.audit(r, &t.ID, digest, http.StatusBadRequest, model.SeverityError)
		writeError(w, http.StatusBadRequest, "invalid sender address")
		return
	}

	if denied := s.checkLimit(ctx, ratelimit.TenantInboundBucket(t.ID.String()), s.Cfg.tenantLimit(t.Limits.PerMinute)); denied != nil {
		s.deny429(w, r, &t.ID, digest, denied)
		return
	}
	if denied := s.checkLimit(ctx, ratelimit.CustomerBucket(t.ID.String(), customer), s.Cfg.customerLimit()); denied != nil {
		s.deny429(w, r, &t.ID, digest, denied)
		return
	}

	info, err := s.Sessions.DetectSession(ctx, t.ID, customer, t.Limits.MonthlyConversations)
	if err != nil {
		s.audit(r, &t.ID, digest, http.StatusInternalServerError, model.SeverityError)
		writeError(w, http.StatusInternalServerError, "session detection failed")
		return
	}
	if info.IsNew && !info.QuotaAllowed {
		metrics.QuotaSuppressed.WithLabelValues(t.ID.String()).Inc()
		evt := events.NewEvent(events.TypeQuotaExceeded, t.ID.String(), map[string]any{
			"tenantId": t.ID.String(),
			"limit":    t.Limits.MonthlyConversations,
		})
		if err := s.Bus.Publish(ctx, events.ConversationChannel(t.ID.String()), evt); err != nil {
			log.Warn().Err(err).Msg("failed to publish quota event")
		}
	}

	// Persistence must outlive the request: the idempotency lock is taken,
	// so an abandoned request whose persist aborted would turn the provider's
	// retry into a duplicate no-op and lose the message.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistDeadline)
	defer cancelPersist()
	msg, created, err := s.Store.CreateInbound(persistCtx, parseInbound(t.ID, customer, providerID, form))
	if err != nil {
		// The idempotency lock is committed: a 5xx here would make the
		// provider retry into a duplicate and lose the message for good.
		// Acknowledge, log loudly, reconcile from the audit trail.
		log.Error().Err(err).
			Str("tenantId", t.ID.String()).
			Str("providerId", providerID).
			Msg("inbound persistence failed after idempotency commit")
		s.audit(r, &t.ID, digest, http.StatusOK, model.SeverityError)
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
		return
	}

	metrics.InboundAccepted.WithLabelValues(t.ID.String()).Inc()
	s.audit(r, &t.ID, digest, http.StatusOK, model.SeverityInfo)
	s.publishInbound(ctx, t, msg)

	if created {
		s.dispatch(ctx, t, msg, info.QuotaAllowed)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// parseInbound classifies the payload once, at the boundary. Button beats
// location beats media beats text.
func parseInbound(tenantID uuid.UUID, customer, providerID string, form url.Values) store.InboundMessage {
	in := store.InboundMessage{
		TenantID:   tenantID,
		Customer:   customer,
		ProviderID: providerID,
		Kind:       model.KindText,
		Body:       form.Get("Body"),
	}
	meta := make(map[string]string)
	if pn := form.Get("ProfileName"); pn != "" {
		meta["profileName"] = pn
	}

	switch {
	case form.Get("ButtonPayload") != "" || form.Get("ButtonText") != "":
		in.Kind = model.KindButton
		meta["buttonPayload"] = form.Get("ButtonPayload")
		meta["buttonText"] = form.Get("ButtonText")
	case form.Get("Latitude") != "" && form.Get("Longitude") != "":
		in.Kind = model.KindLocation
		meta["latitude"] = form.Get("Latitude")
		meta["longitude"] = form.Get("Longitude")
		if addr := form.Get("Address"); addr != "" {
			meta["address"] = addr
		}
	default:
		if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
			in.Kind = model.KindMedia
			in.MediaURL = form.Get("MediaUrl0")
		}
	}

	if len(meta) > 0 {
		in.Metadata = meta
	}
	return in
}

func (s *Server) publishInbound(ctx context.Context, t *model.Tenant, msg *model.Message) {
	tid := t.ID.String()
	evt := events.NewEvent(events.TypeMessageReceived, tid, msg)
	if err := s.Bus.Publish(ctx, events.MessageChannel(tid), evt); err != nil {
		log.Warn().Err(err).Msg("failed to publish message.received")
	}
	conv := events.NewEvent(events.TypeConversationUpdated, tid, map[string]string{
		"conversationId": msg.ConversationID.String(),
	})
	if err := s.Bus.Publish(ctx, events.ConversationChannel(tid), conv); err != nil {
		log.Warn().Err(err).Msg("failed to publish conversation.updated")
	}
}

// dispatch hands the message to the bot when automation is on everywhere:
// the global flag, the conversation flag, and the monthly quota. Failures
// are logged, never surfaced; the provider already has its 200.
func (s *Server) dispatch(ctx context.Context, t *model.Tenant, msg *model.Message, quotaAllowed bool) {
	if !quotaAllowed {
		return
	}
	enabled, err := s.Flag.Enabled(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("bot flag check failed, assuming enabled")
		enabled = true
	}
	if !enabled {
		return
	}

	conv, err := s.Store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		log.Error().Err(err).Str("conversationId", msg.ConversationID.String()).Msg("conversation load failed")
		return
	}
	if !conv.BotEnabled {
		return
	}
	if err := s.Bot.HandleInbound(ctx, t, conv, msg); err != nil {
		log.Error().Err(err).
			Str("tenantId", t.ID.String()).
			Str("conversationId", conv.ID.String()).
			Msg("bot dispatch failed")
	}
}

// checkLimit returns the denial result, or nil when allowed. Limiter
// failures fail open: dropping real traffic is worse than a burst.
func (s *Server) checkLimit(ctx context.Context, bucket string, limit int) *ratelimit.Result {
	res, err := s.Limiter.Check(ctx, bucket, limit)
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket).Msg("rate limiter unavailable, failing open")
		return nil
	}
	if res.Allowed {
		return nil
	}
	return &res
}

func (s *Server) deny429(w http.ResponseWriter, r *http.Request, tenantID *uuid.UUID, digest string, res *ratelimit.Result) {
	metrics.InboundDenied.WithLabelValues("rate_limit").Inc()
	s.audit(r, tenantID, digest, http.StatusTooManyRequests, model.SeverityInfo)
	w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryIn.Seconds())+1))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// audit appends one webhook log row. Best effort: the audit trail must not
// take the pipeline down with it.
func (s *Server) audit(r *http.Request, tenantID *uuid.UUID, digest string, status int, sev model.LogSeverity) {
	entry := model.WebhookLog{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Digest:    digest,
		Status:    status,
		Severity:  sev,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Store.AppendWebhookLog(r.Context(), entry); err != nil {
		log.Error().Err(err).Msg("failed to append webhook log")
	}
}

func payloadDigest(form url.Values) string {
	sum := sha256.Sum256([]byte(form.Encode()))
	return hex.EncodeToString(sum[:])
}

// requestURL reconstructs the URL the provider signed. Behind a proxy the
// request host is the internal one, so a configured public base wins.
func (s *Server) requestURL(r *http.Request) string {
	if s.Cfg.PublicURL != "" {
		return strings.TrimSuffix(s.Cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "https"
	if r.TLS == nil {
		if fp := r.Header.Get("X-Forwarded-Proto"); fp != "" {
			scheme = fp
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
