package gateway

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"roomchat/internal/broadcast"
)

// event is one pub/sub delivery to be routed to interested clients.
type event struct {
	channel string
	payload []byte
}

// join moves a client to a different room subscription.
type join struct {
	client *Client
	roomID string // empty = leave current room
}

// Hub relays store-committed events from Redis pub/sub to websocket
// clients. All client state (incl. the current room of each connection) is
// owned by the Run goroutine; pumps talk to it exclusively through channels.
type Hub struct {
	clients    map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	joins      chan join
	events     chan event
	rdb        *redis.Client
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		joins:      make(chan join),
		events:     make(chan event),
		rdb:        rdb,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true

		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case j := <-h.joins:
			if _, ok := h.clients[j.client]; ok {
				j.client.room = j.roomID
			}

		case ev := <-h.events:
			h.route(ev)
		}
	}
}

// route decides which clients see an event. The personal and room channels
// are targeted; the public rooms channel only feeds anonymous connections,
// since authenticated ones get their own filtered view on their personal
// channel.
func (h *Hub) route(ev event) {
	for client := range h.clients {
		if !h.wants(client, ev.channel) {
			continue
		}
		select {
		case client.send <- ev.payload:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) wants(c *Client, channel string) bool {
	switch {
	case channel == broadcast.PublicChannel:
		return c.username == ""
	case channel == broadcast.UserChannel(c.username) && c.username != "":
		return true
	case c.room != "" && channel == broadcast.RoomChannel(c.room):
		return true
	}
	return false
}

// SubscribeLoop feeds Redis pub/sub into the hub until ctx is canceled.
func (h *Hub) SubscribeLoop(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx, broadcast.PublicChannel, "user:*", "room:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				log.Warn().Msg("pub/sub channel closed")
				return
			}
			h.events <- event{channel: msg.Channel, payload: []byte(msg.Payload)}
		}
	}
}
