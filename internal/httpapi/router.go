package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sofrahq/sofra-gateway/internal/auth"
)

// Routes builds the router. The webhook endpoints are public; everything
// under /v1 requires a bearer token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/whatsapp/webhook", s.handleVerify)
	r.Post("/whatsapp/webhook", s.handleWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.JWT))

		r.Post("/v1/messages/send", s.handleSend)
		r.Post("/v1/bot/toggle", s.handleBotToggle)
		r.Post("/v1/conversations/{id}/handover", s.handleHandover)
		r.Post("/v1/conversations/{id}/resume", s.handleResume)
		r.Get("/v1/outbound/dead-letters", s.handleDeadLetters)
		r.Post("/v1/tenants/{id}/credentials", s.handleCredentials)
		r.Post("/v1/tenants/{id}/activate", s.handleActivate)
		r.Post("/v1/tenants/{id}/deactivate", s.handleDeactivate)
	})

	return r
}
