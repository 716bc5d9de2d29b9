package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// publicPaths are reachable without a key so probes keep working.
var publicPaths = map[string]bool{
	"/health":  true,
	"/version": true,
}

// APIKeyAuth guards the admin API with static keys (ADMIN_API_KEYS).
// A key is accepted from "Authorization: Bearer <key>" or "X-API-Key".
// With no keys configured every request passes, so the port must then
// be bound to a private interface.
type APIKeyAuth struct {
	keys [][]byte
}

// NewAPIKeyAuth builds the guard. Blank entries are ignored.
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	if len(a.keys) == 0 {
		log.Warn().Msg("⚠️ Admin API keys not configured, admin API is open")
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *APIKeyAuth) Enabled() bool {
	return len(a.keys) > 0
}

// Middleware rejects requests to non-public paths that lack a valid key.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key := presentedKey(r)
		switch {
		case key == "":
			unauthorized(w, "missing API key")
		case !a.valid(key):
			log.Warn().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("Admin API key rejected")
			unauthorized(w, "invalid API key")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// valid compares against every key so timing does not reveal a match.
func (a *APIKeyAuth) valid(candidate string) bool {
	c := []byte(candidate)
	match := 0
	for _, k := range a.keys {
		match |= subtle.ConstantTimeCompare(c, k)
	}
	return match == 1
}

func presentedKey(r *http.Request) string {
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="botsuite-admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": msg})
}
