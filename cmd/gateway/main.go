package main

import (
	"context"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roomchat/internal/config"
	"roomchat/internal/gateway"
	"roomchat/internal/kv"
	"roomchat/internal/logx"
	"roomchat/internal/token"
)

// The gateway is the subscriber side of the broadcast channel: it holds the
// websocket connections and relays events the core service publishes. It can
// be scaled independently of the core, which never depends on it.
func main() {
	cfg := config.Load()
	logx.Init(cfg.Env)

	port := cfg.Port
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		port = v
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect to redis")
	}

	// Token validation reads the same store the core writes.
	tokens := token.NewAuthority(kv.NewRedisFromClient(rdb), cfg.TokenTTL, cfg.TokenGrace)

	hub := gateway.NewHub(rdb)
	go hub.Run()
	go hub.SubscribeLoop(context.Background())

	h := gateway.NewHandler(hub, tokens)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/ws", h.ServeWs)

	addr := ":" + port
	log.Info().Str("addr", addr).Msg("gateway starting")
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}
