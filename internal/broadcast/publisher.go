package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Publisher publishes one event payload, JSON-encoded, to a named channel.
// Subscriber-side logic lives in the gateway, never here.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// Channel naming shared with the gateway's subscriber side.
const (
	PublicChannel = "rooms:public"
	userPrefix    = "user:"
	roomPrefix    = "room:"
)

func UserChannel(username string) string { return userPrefix + username }
func RoomChannel(roomID string) string   { return roomPrefix + roomID }

type redisPublisher struct {
	c *redis.Client
}

func NewRedisPublisher(client *redis.Client) Publisher {
	return &redisPublisher{c: client}
}

func (p *redisPublisher) Publish(ctx context.Context, channel string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.c.Publish(ctx, channel, raw).Err()
}
