package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/auth"
	"roomchat/internal/kv"
	"roomchat/internal/message"
	"roomchat/internal/presence"
	"roomchat/internal/profanity"
	"roomchat/internal/room"
	"roomchat/internal/user"
)

type capture struct {
	channel string
	event   Event
}

type fakePublisher struct {
	published []capture
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, capture{channel: channel, event: payload.(Event)})
	return nil
}

func (p *fakePublisher) onChannel(channel string) []Event {
	var out []Event
	for _, c := range p.published {
		if c.channel == channel {
			out = append(out, c.event)
		}
	}
	return out
}

var admin = auth.Principal{Username: "admin", Admin: true}

func newFanoutFixture(t *testing.T, usernames ...string) (*Fanout, *room.Registry, *fakePublisher) {
	t.Helper()
	ms := kv.NewMemStore()
	filter := profanity.NewFilter()
	users := user.NewService(ms, filter)
	tracker := presence.NewTracker(ms, 60*time.Second)
	rooms := room.NewRegistry(ms, tracker, users, filter)
	for _, name := range usernames {
		_, err := users.Ensure(context.Background(), name)
		require.NoError(t, err)
	}
	pub := &fakePublisher{}
	return NewFanout(rooms, users, pub), rooms, pub
}

func TestRoomsUpdatedNeverLeaksPrivateRooms(t *testing.T) {
	f, rooms, pub := newFanoutFixture(t, "alice", "bob")
	ctx := context.Background()

	pubRoom, err := rooms.Create(ctx, admin, room.Public, "general", nil)
	require.NoError(t, err)
	privRoom, err := rooms.Create(ctx, auth.Principal{Username: "alice"}, room.Private, "", []string{"bob"})
	require.NoError(t, err)

	f.RoomsUpdated(ctx)

	evs := pub.onChannel(PublicChannel)
	require.Len(t, evs, 1)
	require.Len(t, evs[0].Rooms, 1)
	assert.Equal(t, pubRoom.ID, evs[0].Rooms[0].ID)
	assert.Equal(t, "roomsUpdated", evs[0].Type)

	// members see both rooms on their personal channel
	for _, name := range []string{"alice", "bob"} {
		evs := pub.onChannel(UserChannel(name))
		require.Len(t, evs, 1, name)
		ids := make([]string, 0, 2)
		for _, r := range evs[0].Rooms {
			ids = append(ids, r.ID)
		}
		assert.ElementsMatch(t, []string{pubRoom.ID, privRoom.ID}, ids, name)
	}
}

func TestRoomsUpdatedFiltersPerUser(t *testing.T) {
	f, rooms, pub := newFanoutFixture(t, "admin", "alice", "bob")
	ctx := context.Background()

	pubRoom, err := rooms.Create(ctx, admin, room.Public, "general", nil)
	require.NoError(t, err)
	privRoom, err := rooms.Create(ctx, auth.Principal{Username: "alice"}, room.Private, "", []string{"bob"})
	require.NoError(t, err)
	_ = privRoom

	f.RoomsUpdated(ctx)

	// admin is a known user but not a member of the private room
	evs := pub.onChannel(UserChannel("admin"))
	require.Len(t, evs, 1)
	require.Len(t, evs[0].Rooms, 1)
	assert.Equal(t, pubRoom.ID, evs[0].Rooms[0].ID)
}

func TestNewMessagePublicRoom(t *testing.T) {
	f, rooms, pub := newFanoutFixture(t)
	ctx := context.Background()

	r, err := rooms.Create(ctx, admin, room.Public, "general", nil)
	require.NoError(t, err)

	msg := &message.Message{ID: "m1", RoomID: r.ID, Username: "alice", Content: "hi"}
	f.NewMessage(ctx, r, msg)

	require.Len(t, pub.published, 1)
	assert.Equal(t, RoomChannel(r.ID), pub.published[0].channel)
	assert.Equal(t, "messageNew", pub.published[0].event.Type)
	assert.Equal(t, msg, pub.published[0].event.Message)
}

func TestNewMessagePrivateRoomReachesEachMember(t *testing.T) {
	f, rooms, pub := newFanoutFixture(t)
	ctx := context.Background()

	r, err := rooms.Create(ctx, auth.Principal{Username: "alice"}, room.Private, "", []string{"bob"})
	require.NoError(t, err)

	f.NewMessage(ctx, r, &message.Message{ID: "m1", RoomID: r.ID, Username: "alice", Content: "psst"})

	assert.Len(t, pub.onChannel(RoomChannel(r.ID)), 1)
	assert.Len(t, pub.onChannel(UserChannel("alice")), 1)
	assert.Len(t, pub.onChannel(UserChannel("bob")), 1)
	assert.Empty(t, pub.onChannel(PublicChannel))
}

func TestMessageDeleted(t *testing.T) {
	f, rooms, pub := newFanoutFixture(t)
	ctx := context.Background()

	r, err := rooms.Create(ctx, admin, room.Public, "general", nil)
	require.NoError(t, err)

	f.MessageDeleted(ctx, r, "m1")

	evs := pub.onChannel(RoomChannel(r.ID))
	require.Len(t, evs, 1)
	assert.Equal(t, "messageDeleted", evs[0].Type)
	assert.Equal(t, "m1", evs[0].MessageID)
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	f, rooms, pub := newFanoutFixture(t)
	ctx := context.Background()

	r, err := rooms.Create(ctx, admin, room.Public, "general", nil)
	require.NoError(t, err)

	pub.err = errors.New("redis down")
	// must not panic or surface the error
	f.NewMessage(ctx, r, &message.Message{ID: "m1", RoomID: r.ID, Username: "alice", Content: "hi"})
	f.RoomsUpdated(ctx)
	assert.Empty(t, pub.published)
}
