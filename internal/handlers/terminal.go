package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/gluk-w/termspace/internal/auth"
)

// terminalToken picks the session token for a WebSocket upgrade. Browsers
// cannot set headers on WebSocket requests, so the query parameter comes
// first, then the session cookie, then a bearer header.
func terminalToken(r *http.Request) string {
	if token := r.URL.Query().Get("session"); token != "" {
		return token
	}
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// TerminalWS upgrades the request and hands the connection to the bridge.
// Authorization failures are reported over the socket so the browser sees
// the close code.
func (h *Handler) TerminalWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("[terminal] failed to accept websocket: %v", err)
		return
	}
	h.Bridge.Attach(r.Context(), conn, terminalToken(r))
}
