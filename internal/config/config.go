package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the server reads from the environment.
// Defaults are chosen so `go run ./cmd/server` against a local Redis works
// with nothing set.
type Config struct {
	Port      string
	RedisAddr string
	Env       string

	// AdminUser is the only identity allowed to create public rooms, delete
	// rooms/messages and run maintenance actions. BotUser is the fixed
	// identity the admin may send messages as (announcements etc.).
	AdminUser string
	BotUser   string

	TokenTTL    time.Duration // active token lifetime, sliding
	TokenGrace  time.Duration // window after expiry in which refresh still works
	PresenceTTL time.Duration // "online in room" marker lifetime

	MessageCap    int // per-room capped list size
	MaxMessageLen int

	RatePerSec float64
	RateBurst  int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func Load() Config {
	return Config{
		Port:          getenv("APP_PORT", "8080"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		Env:           getenv("APP_ENV", "dev"),
		AdminUser:     getenv("ADMIN_USER", "admin"),
		BotUser:       getenv("BOT_USER", "roomkeeper"),
		TokenTTL:      time.Duration(getint("TOKEN_TTL_DAYS", 30)) * 24 * time.Hour,
		TokenGrace:    time.Duration(getint("TOKEN_GRACE_DAYS", 7)) * 24 * time.Hour,
		PresenceTTL:   time.Duration(getint("PRESENCE_TTL_SECONDS", 60)) * time.Second,
		MessageCap:    getint("MESSAGE_CAP", 100),
		MaxMessageLen: getint("MAX_MESSAGE_LEN", 1000),
		RatePerSec:    float64(getint("RATE_PER_SEC", 20)),
		RateBurst:     getint("RATE_BURST", 40),
	}
}
