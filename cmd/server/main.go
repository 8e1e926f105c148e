package main

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roomchat/internal/broadcast"
	"roomchat/internal/config"
	"roomchat/internal/kv"
	"roomchat/internal/logx"
	"roomchat/internal/message"
	"roomchat/internal/presence"
	"roomchat/internal/profanity"
	"roomchat/internal/room"
	"roomchat/internal/server"
	"roomchat/internal/token"
	"roomchat/internal/user"
)

func main() {
	cfg := config.Load()
	logx.Init(cfg.Env)

	store, err := kv.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("connect to redis")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	// The store and the pub/sub side share one Redis; they are the only
	// shared mutable resources in the system.
	pub := broadcast.NewRedisPublisher(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))

	filter := profanity.NewFilter()
	users := user.NewService(store, filter)
	tokens := token.NewAuthority(store, cfg.TokenTTL, cfg.TokenGrace)
	tracker := presence.NewTracker(store, cfg.PresenceTTL)
	rooms := room.NewRegistry(store, tracker, users, filter)
	messages := message.NewStore(store, rooms, users, tracker, filter, cfg.MessageCap, cfg.MaxMessageLen)
	fanout := broadcast.NewFanout(rooms, users, pub)

	srv := server.New(cfg, users, tokens, rooms, messages, fanout)

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Msg("server starting")
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
