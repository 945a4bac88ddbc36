package api

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// checkOrigin accepts clients without an Origin header and origins listed
// in the HTTP config. A "*" entry allows any origin.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.originAllowed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	caller := callerID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn("websocket upgrade failed", zap.String("caller", caller), zap.Error(err))
		return
	}

	h.hub.Serve(r.Context(), conn, caller)
}
