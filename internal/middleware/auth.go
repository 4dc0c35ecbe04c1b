package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gluk-w/termspace/internal/auth"
)

type contextKey string

const sessionContextKey contextKey = "session"

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SessionToken extracts the session token from the request. A bearer
// Authorization header takes precedence over the session cookie.
func SessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok && token != "" {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// LookupSession resolves the request's session, if any.
func LookupSession(store auth.Store, r *http.Request) (*auth.Session, bool) {
	return store.Get(SessionToken(r))
}

func RequireAuth(store auth.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := LookupSession(store, r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Not authenticated"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *auth.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

func GetSession(r *http.Request) *auth.Session {
	sess, _ := r.Context().Value(sessionContextKey).(*auth.Session)
	return sess
}
