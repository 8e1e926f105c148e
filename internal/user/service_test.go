package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/apperr"
	"roomchat/internal/kv"
	"roomchat/internal/profanity"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService() (*Service, *clock) {
	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	ms := kv.NewMemStore()
	ms.Now = c.now
	s := NewService(ms, profanity.NewFilter())
	s.now = c.now
	return s, c
}

func TestCreateNormalizes(t *testing.T) {
	s, _ := newTestService()
	u, err := s.Create(context.Background(), "  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
}

func TestCreateValidatesUsername(t *testing.T) {
	s, _ := newTestService()
	for _, name := range []string{"", "ab", "has space", "ThisNameIsWayTooLongToBeAccepted", "-leading"} {
		_, err := s.Create(context.Background(), name)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation), "expected validation error for %q", name)
	}
}

func TestCreateConflictOnDuplicate(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	_, err := s.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = s.Create(ctx, "alice")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestEnsureReturnsLoserTheExistingRecord(t *testing.T) {
	s, c := newTestService()
	ctx := context.Background()

	first, err := s.Ensure(ctx, "alice")
	require.NoError(t, err)

	c.advance(time.Hour)
	second, err := s.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.LastActive, second.LastActive, "existing record must win, not be overwritten")
}

func TestTouchBumpsLastActive(t *testing.T) {
	s, c := newTestService()
	ctx := context.Background()

	u, err := s.Ensure(ctx, "alice")
	require.NoError(t, err)

	c.advance(time.Hour)
	require.NoError(t, s.Touch(ctx, "alice"))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.LastActive.Add(time.Hour), got.LastActive)
}

func TestAllListsKnownUsers(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		_, err := s.Ensure(ctx, name)
		require.NoError(t, err)
	}
	names, err := s.All(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, names)
}

func TestGetMissingUser(t *testing.T) {
	s, _ := newTestService()
	_, err := s.Get(context.Background(), "nobody")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}
