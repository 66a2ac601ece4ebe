package ws

import (
	"chat-relay/auth"
	"chat-relay/gateway"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Handler upgrades GET /ws and hands the connection to the gateway.
// The credential is read from the handshake; without one the client must send CONNECT.
type Handler struct {
	log      *slog.Logger
	gateway  *gateway.Gateway
	config   Config
	upgrader websocket.Upgrader
}

func NewHandler(log *slog.Logger, gw *gateway.Gateway, config Config) *Handler {
	h := &Handler{log: log, gateway: gw, config: config}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log.Warn("Failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	reason := h.gateway.Serve(r.Context(), NewConn(conn, h.config), token)
	h.log.Debug("Websocket served", "remote", r.RemoteAddr, "reason", reason)
}

// checkOrigin accepts every origin when none is configured or "*" is listed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.config.AllowedOrigins, "*") || lo.Contains(h.config.AllowedOrigins, origin)
}
