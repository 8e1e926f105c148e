package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"roomchat/internal/apperr"
	"roomchat/internal/broadcast"
	"roomchat/internal/config"
	"roomchat/internal/message"
	"roomchat/internal/metrics"
	"roomchat/internal/middleware"
	"roomchat/internal/room"
	"roomchat/internal/token"
	"roomchat/internal/user"
)

// Server wires the service layer to the single action-dispatching endpoint.
type Server struct {
	cfg      config.Config
	users    *user.Service
	tokens   *token.Authority
	rooms    *room.Registry
	messages *message.Store
	fanout   *broadcast.Fanout
	auth     *middleware.Auth
}

func New(cfg config.Config, users *user.Service, tokens *token.Authority, rooms *room.Registry, msgs *message.Store, fanout *broadcast.Fanout) *Server {
	return &Server{
		cfg:      cfg,
		users:    users,
		tokens:   tokens,
		rooms:    rooms,
		messages: msgs,
		fanout:   fanout,
		auth:     middleware.NewAuth(tokens, cfg.AdminUser),
	}
}

type actionFunc func(w http.ResponseWriter, r *http.Request)

// Router builds the chi router. All chat traffic flows through /api with an
// `action` query discriminator; which actions demand a principal is decided
// per handler, the auth middleware only resolves credentials when present.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(rate.Limit(s.cfg.RatePerSec), s.cfg.RateBurst))
		r.Use(s.auth.Handle)
		r.Get("/", s.dispatch(s.getActions()))
		r.Post("/", s.dispatch(s.postActions()))
		r.Delete("/", s.dispatch(s.deleteActions()))
	})
	return r
}

func (s *Server) dispatch(table map[string]actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := r.URL.Query().Get("action")
		h, ok := table[action]
		if !ok {
			writeErr(w, r, apperr.Validation("unknown action %q", action))
			return
		}
		h(w, r)
	}
}

func (s *Server) getActions() map[string]actionFunc {
	return map[string]actionFunc{
		"getRooms":        s.getRooms,
		"getRoom":         s.getRoom,
		"getMessages":     s.getMessages,
		"getBulkMessages": s.getBulkMessages,
		"getRoomUsers":    s.getRoomUsers,
		"verifyToken":     s.verifyToken,
	}
}

func (s *Server) postActions() map[string]actionFunc {
	return map[string]actionFunc{
		"createUser":       s.createUser,
		"generateToken":    s.generateToken,
		"refreshToken":     s.refreshToken,
		"createRoom":       s.createRoom,
		"joinRoom":         s.joinRoom,
		"leaveRoom":        s.leaveRoom,
		"switchRoom":       s.switchRoom,
		"sendMessage":      s.sendMessage,
		"clearAllMessages": s.clearAllMessages,
		"resetUserCounts":  s.resetUserCounts,
	}
}

func (s *Server) deleteActions() map[string]actionFunc {
	return map[string]actionFunc{
		"deleteRoom":    s.deleteRoom,
		"deleteMessage": s.deleteMessage,
	}
}
