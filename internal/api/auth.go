// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ManuGH/ripflow/internal/jobs"
	"github.com/ManuGH/ripflow/internal/log"
)

type role string

const (
	roleReadonly role = "readonly"
	roleAdmin    role = "admin"
)

const (
	apiKeyHeader        = "X-API-Key"
	webhookSecretHeader = "X-Webhook-Secret"
)

type apiKey struct {
	secret string
	role   role
}

type keyring []apiKey

// parseKeys reads the comma-separated API_KEYS list. Entries are either a
// bare key (admin) or "role:key" with role admin or readonly.
func parseKeys(csv string) keyring {
	var keys keyring
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		r := roleAdmin
		secret := entry
		if before, after, found := strings.Cut(entry, ":"); found {
			switch role(strings.ToLower(strings.TrimSpace(before))) {
			case roleAdmin:
				r = roleAdmin
				secret = after
			case roleReadonly:
				r = roleReadonly
				secret = after
			default:
				// Not a role prefix, treat the whole entry as the key.
			}
		}
		if secret != "" {
			keys = append(keys, apiKey{secret: secret, role: r})
		}
	}
	return keys
}

// lookup finds the key's role with constant-time comparison against every
// configured secret.
func (k keyring) lookup(candidate string) (role, bool) {
	var (
		found bool
		r     role
	)
	for _, key := range k {
		if subtle.ConstantTimeCompare([]byte(key.secret), []byte(candidate)) == 1 {
			found = true
			r = key.role
		}
	}
	return r, found
}

// requireRole enforces X-API-Key auth for the control plane. Admin implies
// readonly. With REQUIRE_API_AUTH=false the check is bypassed entirely.
func (s *Server) requireRole(required role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.cfg.RequireAPIAuth {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := s.keys.lookup(r.Header.Get(apiKeyHeader))
			if !ok {
				logger := log.WithComponentFromContext(r.Context(), "auth")
				logger.Warn().Msg("invalid api key")
				writeError(w, http.StatusUnauthorized, string(jobs.KindUnauthorized), "unauthorized")
				return
			}
			if required == roleAdmin && got != roleAdmin {
				writeError(w, http.StatusForbidden, string(jobs.KindUnauthorized), "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkWebhookSecret validates X-Webhook-Secret. The secret is enforced
// whenever configured, independent of REQUIRE_API_AUTH.
func (s *Server) checkWebhookSecret(r *http.Request) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	got := r.Header.Get(webhookSecretHeader)
	return subtle.ConstantTimeCompare([]byte(s.cfg.WebhookSecret), []byte(got)) == 1
}
