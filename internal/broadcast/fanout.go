package broadcast

import (
	"context"

	"github.com/rs/zerolog/log"

	"roomchat/internal/message"
	"roomchat/internal/metrics"
	"roomchat/internal/room"
	"roomchat/internal/user"
)

// Event is the envelope every channel carries.
type Event struct {
	Type      string             `json:"type"`
	Rooms     []*room.Room       `json:"rooms,omitempty"`
	Message   *message.Message   `json:"message,omitempty"`
	RoomID    string             `json:"roomId,omitempty"`
	MessageID string             `json:"messageId,omitempty"`
}

// Fanout turns one logical update into recipient-specific publishes so that
// private rooms are never leaked to non-members. Every method is
// commit-then-notify best effort: the triggering mutation has already been
// stored, so failures here are logged and swallowed, never surfaced.
type Fanout struct {
	rooms *room.Registry
	users *user.Service
	pub   Publisher
}

func NewFanout(rooms *room.Registry, users *user.Service, pub Publisher) *Fanout {
	return &Fanout{rooms: rooms, users: users, pub: pub}
}

func (f *Fanout) publish(ctx context.Context, channel string, ev Event) {
	metrics.BroadcastsTotal.WithLabelValues(ev.Type).Inc()
	if err := f.pub.Publish(ctx, channel, ev); err != nil {
		log.Warn().Err(err).Str("channel", channel).Str("event", ev.Type).Msg("broadcast dropped")
	}
}

// RoomsUpdated recomputes the room list once and publishes per-recipient
// views: public rooms only on the public channel, and each known user's
// visible set on their personal channel.
func (f *Fanout) RoomsUpdated(ctx context.Context) {
	all, err := f.rooms.ListAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("rooms-updated fan-out: list rooms")
		return
	}

	publicOnly := make([]*room.Room, 0, len(all))
	for _, r := range all {
		if r.Type != room.Private {
			publicOnly = append(publicOnly, r)
		}
	}
	f.publish(ctx, PublicChannel, Event{Type: "roomsUpdated", Rooms: publicOnly})

	usernames, err := f.users.All(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("rooms-updated fan-out: list users")
		return
	}
	for _, name := range usernames {
		visible := make([]*room.Room, 0, len(all))
		for _, r := range all {
			if r.VisibleTo(name) {
				visible = append(visible, r)
			}
		}
		f.publish(ctx, UserChannel(name), Event{Type: "roomsUpdated", Rooms: visible})
	}
}

// NewMessage publishes once to the room channel (the low-latency common
// case) and, for private rooms, additionally to each member's personal
// channel as a fallback for clients without room-scoped subscriptions.
func (f *Fanout) NewMessage(ctx context.Context, r *room.Room, msg *message.Message) {
	ev := Event{Type: "messageNew", RoomID: r.ID, Message: msg}
	f.publish(ctx, RoomChannel(r.ID), ev)
	if r.Type == room.Private {
		for _, m := range r.Members {
			f.publish(ctx, UserChannel(m), ev)
		}
	}
}

// MessageDeleted mirrors NewMessage's fan-out for a removal.
func (f *Fanout) MessageDeleted(ctx context.Context, r *room.Room, messageID string) {
	ev := Event{Type: "messageDeleted", RoomID: r.ID, MessageID: messageID}
	f.publish(ctx, RoomChannel(r.ID), ev)
	if r.Type == room.Private {
		for _, m := range r.Members {
			f.publish(ctx, UserChannel(m), ev)
		}
	}
}
