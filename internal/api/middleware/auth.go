package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"execgateway/pkg/crypto"
	"execgateway/pkg/utils"
)

// BearerAuth - middleware проверки API токена
//
// Токен передается в заголовке "Authorization: Bearer <token>" или,
// для WebSocket из браузера, в параметре ?token=. Сравнивается с bcrypt
// хешем из API_TOKEN_HASH. Пустой хеш отключает проверку (локальный запуск).
//
// bcrypt медленный, поэтому успешно проверенные токены запоминаются
// по sha256 дайджесту; неверные токены не кешируются.
func BearerAuth(tokenHash string) func(http.Handler) http.Handler {
	if tokenHash == "" {
		return func(next http.Handler) http.Handler { return next }
	}

	var verified sync.Map // [32]byte -> struct{}

	check := func(token string) bool {
		digest := sha256.Sum256([]byte(token))
		if _, ok := verified.Load(digest); ok {
			return true
		}
		if !crypto.TokenMatches(token, tokenHash) {
			return false
		}
		verified.Store(digest, struct{}{})
		return true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" || !check(token) {
				utils.Warn("unauthorized request",
					utils.Method(r.Method),
					utils.String("path", r.URL.Path),
					utils.RequestID(RequestIDFromContext(r.Context())))
				w.Header().Set("WWW-Authenticate", `Bearer realm="execgateway"`)
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
