package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/model"
	"github.com/sofrahq/sofra-gateway/internal/store"
)

type toggleRequest struct {
	Enabled        bool       `json:"enabled"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
}

// handleBotToggle flips automation. Without a conversation id it is the
// global kill switch; with one it only touches that thread.
func (s *Server) handleBotToggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if req.ConversationID != nil {
		conv, err := s.Store.GetConversation(ctx, *req.ConversationID)
		if errors.Is(err, store.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "conversation lookup failed")
			return
		}
		if err := s.Store.SetBotEnabled(ctx, conv.ID, req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update conversation")
			return
		}
		s.publishBotStatus(r, conv.TenantID.String(), map[string]any{
			"enabled":        req.Enabled,
			"conversationId": conv.ID.String(),
		})
		writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled, "conversationId": conv.ID})
		return
	}

	if err := s.Flag.SetEnabled(ctx, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update bot flag")
		return
	}
	s.publishBotStatus(r, "", map[string]any{"enabled": req.Enabled})
	writeJSON(w, http.StatusOK, map[string]any{"enabled": req.Enabled})
}

func (s *Server) publishBotStatus(r *http.Request, tenantID string, data map[string]any) {
	evt := events.NewEvent(events.TypeBotStatus, tenantID, data)
	if err := s.Bus.Publish(r.Context(), events.BotStatusChannel, evt); err != nil {
		log.Warn().Err(err).Msg("failed to publish bot.status")
	}
}

// handleHandover pauses automation on one conversation so a human can take
// over. The bot stays out until resume.
func (s *Server) handleHandover(w http.ResponseWriter, r *http.Request) {
	s.switchConversation(w, r, model.StateHandover, false)
}

// handleResume returns a handed-over conversation to the bot, back at the
// start of the flow.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.switchConversation(w, r, model.StateNew, true)
}

func (s *Server) switchConversation(w http.ResponseWriter, r *http.Request, state model.BotState, botEnabled bool) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	conv, err := s.Store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "conversation lookup failed")
		return
	}

	if err := s.Store.SetConversationState(ctx, id, state); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}
	if err := s.Store.SetBotEnabled(ctx, id, botEnabled); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	tid := conv.TenantID.String()
	evt := events.NewEvent(events.TypeConversationUpdated, tid, map[string]any{
		"conversationId": id.String(),
		"state":          state,
		"botEnabled":     botEnabled,
	})
	if err := s.Bus.Publish(ctx, events.ConversationChannel(tid), evt); err != nil {
		log.Warn().Err(err).Msg("failed to publish conversation.updated")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": id,
		"state":          state,
		"botEnabled":     botEnabled,
	})
}

// handleDeadLetters exposes the buried outbound jobs for inspection.
func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1-500")
			return
		}
		limit = n
	}

	letters, err := s.Queue.DeadLetters(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dead letters")
		return
	}
	depth, err := s.Queue.Depth(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deadLetters": letters,
		"count":       len(letters),
		"queueDepth":  depth,
	})
}

type credentialsRequest struct {
	ProviderAccount string `json:"providerAccount"`
	ProviderSecret  string `json:"providerSecret"`
}

// handleCredentials rotates a tenant's provider credentials and invalidates
// cached resolutions everywhere.
func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.ProviderAccount == "" || req.ProviderSecret == "" {
		writeError(w, http.StatusBadRequest, "providerAccount and providerSecret are required")
		return
	}

	if err := s.Tenants.UpdateCredentials(r.Context(), id, req.ProviderAccount, req.ProviderSecret); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.setTenantActive(w, r, true)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	s.setTenantActive(w, r, false)
}

func (s *Server) setTenantActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if active {
		err = s.Tenants.Activate(r.Context(), id)
	} else {
		err = s.Tenants.Deactivate(r.Context(), id)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update tenant")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
