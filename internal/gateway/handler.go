package gateway

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"roomchat/internal/token"
	"roomchat/internal/user"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// TokenVerifier is the slice of the token authority the gateway needs.
type TokenVerifier interface {
	Validate(ctx context.Context, username, presented string, allowExpired bool) (token.Status, error)
}

type Handler struct {
	hub      *Hub
	verifier TokenVerifier
}

func NewHandler(hub *Hub, verifier TokenVerifier) *Handler {
	return &Handler{hub: hub, verifier: verifier}
}

// ServeWs upgrades the connection and registers it with the hub. Anonymous
// connections are allowed and only see the public-rooms feed; presenting
// credentials (query params, since browsers cannot set websocket headers)
// attaches the personal channel, and bad credentials are rejected outright.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	username := user.Normalize(r.URL.Query().Get("username"))
	presented := r.URL.Query().Get("token")

	if username != "" || presented != "" {
		if username == "" || presented == "" {
			http.Error(w, "token and username are required together", http.StatusUnauthorized)
			return
		}
		if _, err := h.verifier.Validate(r.Context(), username, presented, false); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	client := &Client{
		hub:      h.hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		username: username,
	}
	h.hub.Register <- client

	go client.writePump()
	go client.readPump()
}
