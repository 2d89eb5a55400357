package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/auth"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/phone"
	"github.com/sofrahq/sofra-gateway/internal/send"
)

type sendRequest struct {
	PhoneNumber       string            `json:"phoneNumber"`
	Text              string            `json:"text"`
	FromNumber        string            `json:"fromNumber,omitempty"`
	TemplateVariables map[string]string `json:"templateVariables,omitempty"`
}

type sendResponse struct {
	Status  string        `json:"status"`
	Channel model.Channel `json:"channel"`
	JobID   string        `json:"jobId"`
}

// handleSend is the tenant-initiated outbound path. The caller never picks
// the channel; the messaging window does.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	customer, err := phone.Canonical(req.PhoneNumber)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	t, err := s.resolveSender(r, req.FromNumber)
	switch {
	case errors.Is(err, model.ErrTenantNotFound):
		writeError(w, http.StatusBadRequest, "no tenant bound to sender number")
		return
	case errors.Is(err, model.ErrTenantInactive):
		writeError(w, http.StatusForbidden, "tenant is deactivated")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "tenant lookup failed")
		return
	}

	if limit := t.Limits.MonthlyConversations; limit > 0 {
		used, err := s.Sessions.MonthlyCount(ctx, t.ID, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "quota check failed")
			return
		}
		if used >= limit {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "monthly conversation quota exceeded",
				"used":  used,
				"limit": limit,
			})
			return
		}
	}

	conv, err := s.Store.UpsertConversation(ctx, t.ID, customer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "conversation lookup failed")
		return
	}

	receipt, err := s.Sender.Send(ctx, send.Request{
		Tenant:            t,
		ConversationID:    conv.ID,
		Customer:          customer,
		Body:              req.Text,
		TemplateVariables: req.TemplateVariables,
	})
	if err != nil {
		log.Error().Err(err).Str("tenantId", t.ID.String()).Msg("send enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue message")
		return
	}

	writeJSON(w, http.StatusAccepted, sendResponse{
		Status:  "queued",
		Channel: receipt.Channel,
		JobID:   receipt.RequestID,
	})
}

// resolveSender picks the tenant: an explicit fromNumber wins, otherwise
// the token's tenant scope.
func (s *Server) resolveSender(r *http.Request, fromNumber string) (*model.Tenant, error) {
	ctx := r.Context()
	if fromNumber != "" {
		return s.Tenants.ResolveByDestination(ctx, fromNumber)
	}
	id, ok := auth.TenantID(ctx)
	if !ok {
		return nil, model.ErrTenantNotFound
	}
	t, err := s.Tenants.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Active || t.Status != model.TenantActive {
		return nil, model.ErrTenantInactive
	}
	return t, nil
}
