// Package httpapi is the gateway's HTTP surface: the public provider
// webhook and the bearer-protected internal API.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/sofrahq/sofra-gateway/internal/auth"
	"github.com/sofrahq/sofra-gateway/internal/bot"
	"github.com/sofrahq/sofra-gateway/internal/events"
	"github.com/sofrahq/sofra-gateway/internal/idem"
	"github.com/sofrahq/sofra-gateway/internal/outbound"
	"github.com/sofrahq/sofra-gateway/internal/ratelimit"
	"github.com/sofrahq/sofra-gateway/internal/send"
	"github.com/sofrahq/sofra-gateway/internal/session"
	"github.com/sofrahq/sofra-gateway/internal/store"
	"github.com/sofrahq/sofra-gateway/internal/tenant"
)

// Config tunes the webhook pipeline.
type Config struct {
	// VerifyToken answers the provider's GET verification handshake.
	VerifyToken string
	// PublicURL is the externally visible base URL, used to reconstruct the
	// signed request URL behind proxies. Empty means trust the request host.
	PublicURL string

	// Fixed-window limits, per minute. Zero picks the default.
	GlobalPerMinute   int
	TenantPerMinute   int
	CustomerPerMinute int
}

const (
	defaultGlobalPerMinute   = 200
	defaultTenantPerMinute   = 60
	defaultCustomerPerMinute = 20
)

func (c Config) globalLimit() int {
	if c.GlobalPerMinute > 0 {
		return c.GlobalPerMinute
	}
	return defaultGlobalPerMinute
}

func (c Config) tenantLimit(configured int) int {
	if configured > 0 {
		return configured
	}
	if c.TenantPerMinute > 0 {
		return c.TenantPerMinute
	}
	return defaultTenantPerMinute
}

func (c Config) customerLimit() int {
	if c.CustomerPerMinute > 0 {
		return c.CustomerPerMinute
	}
	return defaultCustomerPerMinute
}

// Server holds the gateway's wired dependencies.
type Server struct {
	Tenants  *tenant.Registry
	Store    store.Store
	Idem     idem.Store
	Limiter  ratelimit.Limiter
	Sessions session.Tracker
	Bus      events.Bus
	Sender   *send.Service
	Bot      *bot.Engine
	Flag     bot.Flag
	Queue    outbound.Queue
	JWT      auth.JWTCfg
	Cfg      Config
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
