package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	// CtxSubject is the authenticated caller (dashboard user or service).
	CtxSubject contextKey = "authSubject"
	// CtxTenantID is the tenant the token is scoped to, when present.
	CtxTenantID contextKey = "authTenantID"
)

// JWTCfg configures bearer-token auth for the internal API.
type JWTCfg struct {
	// HS256Secret validates tokens. Required unless DevMode.
	HS256Secret string
	// DevMode accepts any request and injects a fixed subject. Local only.
	DevMode bool
}

type claims struct {
	TenantID string `json:"tenantId,omitempty"`
	jwt.RegisteredClaims
}

// Middleware validates the Authorization header and stashes the subject
// and tenant scope in the request context.
func Middleware(cfg JWTCfg) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.DevMode {
				ctx := context.WithValue(r.Context(), CtxSubject, "dev")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			var c claims
			tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.HS256Secret), nil
			})
			if err != nil || !tok.Valid {
				log.Debug().Err(err).Msg("rejected bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), CtxSubject, c.Subject)
			if c.TenantID != "" {
				if id, err := uuid.Parse(c.TenantID); err == nil {
					ctx = context.WithValue(ctx, CtxTenantID, id)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject returns the authenticated caller, or "" when unauthenticated.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(CtxSubject).(string)
	return s
}

// TenantID returns the tenant the token is scoped to, if any.
func TenantID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(CtxTenantID).(uuid.UUID)
	return id, ok
}
