package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// accessTokenParam carries the supervisor token on event stream handshakes,
// where browsers cannot set an Authorization header.
const accessTokenParam = "access_token"

// supervisorToken extracts the token a request presents. The query parameter
// is honored only on websocket upgrades so tokens stay out of ordinary URLs.
func supervisorToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.CutPrefix(auth, "Bearer ")
	}
	if websocket.IsWebSocketUpgrade(r) {
		if tok := r.URL.Query().Get(accessTokenParam); tok != "" {
			return tok, true
		}
	}
	return "", false
}

// RequireToken guards supervisor routes with a shared token.
func RequireToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := supervisorToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="frontdesk"`)
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing supervisor token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
