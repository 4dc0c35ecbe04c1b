package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gluk-w/termspace/internal/auth"
	"github.com/gluk-w/termspace/internal/identity"
	"github.com/gluk-w/termspace/internal/logutil"
	"github.com/gluk-w/termspace/internal/middleware"
)

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.SessionDuration.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func setStateCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(auth.StateDuration.Seconds()),
	})
}

func clearStateCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (h *Handler) AuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"oidcEnabled": h.OIDCEnabled})
}

// Login starts the authorization-code flow by redirecting to the provider.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.OIDCEnabled || h.Gateway == nil || !h.Gateway.Ready() {
		writeError(w, http.StatusServiceUnavailable, "OAuth not configured")
		return
	}

	stateToken, authURL, err := h.Gateway.Begin()
	if err != nil {
		log.Printf("[auth] login failed: %v", err)
		writeError(w, http.StatusInternalServerError, "OAuth login failed")
		return
	}

	setStateCookie(w, r, stateToken)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes the flow, provisions the account and opens a session.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.OIDCEnabled || h.Gateway == nil || !h.Gateway.Ready() {
		writeError(w, http.StatusServiceUnavailable, "OAuth not configured")
		return
	}

	var stateToken string
	if cookie, err := r.Cookie(auth.StateCookie); err == nil {
		stateToken = cookie.Value
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Printf("[auth] provider returned error: %s", logutil.SanitizeForLog(e))
	}

	ext, err := h.Gateway.Complete(r.Context(), stateToken, q.Get("state"), q.Get("code"))
	clearStateCookie(w, r)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			log.Printf("[auth] callback rejected: %v", err)
			writeText(w, http.StatusBadRequest, "Invalid state")
			return
		}
		log.Printf("[auth] callback failed: %s", logutil.SanitizeForLog(err.Error()))
		writeText(w, http.StatusInternalServerError, "Authentication failed")
		return
	}

	username := identity.LocalName(ext.Subject)
	log.Printf("[auth] OIDC user %s mapped to %s", logutil.SanitizeForLog(ext.Email), username)

	if err := h.Provisioner.Ensure(r.Context(), username, ext); err != nil {
		log.Printf("[auth] failed to provision %s: %v", username, err)
		writeText(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	sess, ok := h.openSession(w, r, *ext, username)
	if !ok {
		return
	}
	log.Printf("[auth] created session %s for %s", logutil.RedactToken(sess.Token), username)
	http.Redirect(w, r, "/", http.StatusFound)
}

// LoginBypass opens a session for the fixed local identity. It is only
// routed when OAuth is disabled.
func (h *Handler) LoginBypass(w http.ResponseWriter, r *http.Request) {
	if h.OIDCEnabled {
		http.NotFound(w, r)
		return
	}
	sess, ok := h.openSession(w, r, auth.BypassIdentity, auth.BypassUsername)
	if !ok {
		return
	}
	log.Printf("[auth] created local session %s", logutil.RedactToken(sess.Token))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request, ext identity.External, username string) (*auth.Session, bool) {
	if h.RecordLogin != nil {
		if _, err := h.RecordLogin(username, ext.Subject, ext.Email, identity.DisplayName(ext, username), time.Now()); err != nil {
			log.Printf("[auth] failed to record login for %s: %v", username, err)
		}
	}

	sess, err := h.Sessions.Create(ext, username)
	if err != nil {
		log.Printf("[auth] failed to create session for %s: %v", username, err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return nil, false
	}
	setSessionCookie(w, r, sess.Token)
	return sess, true
}

func (h *Handler) SessionInfo(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.LookupSession(h.Sessions, r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"username":      sess.Username,
	})
}

// Logout deletes the session and then kills its process, so no new terminal
// can attach in between. Mounted behind RequireAuth.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess := middleware.GetSession(r); sess != nil {
		h.Sessions.Delete(sess.Token)
		if err := sess.KillProcess(); err != nil {
			log.Printf("[auth] failed to stop process for %s: %v", sess.Username, err)
		}
		log.Printf("[auth] logged out %s", sess.Username)
	}
	clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
