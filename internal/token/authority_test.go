package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomchat/internal/apperr"
	"roomchat/internal/kv"
)

const (
	testTTL   = 30 * 24 * time.Hour
	testGrace = 7 * 24 * time.Hour
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time            { return c.t }
func (c *clock) advance(d time.Duration)   { c.t = c.t.Add(d) }

func newTestAuthority() (*Authority, *clock) {
	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	ms := kv.NewMemStore()
	ms.Now = c.now
	a := NewAuthority(ms, testTTL, testGrace)
	a.now = c.now
	return a, c
}

func TestIssueThenValidate(t *testing.T) {
	a, _ := newTestAuthority()
	ctx := context.Background()

	tok, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, tok.Value, 64) // 256 bits, hex

	st, err := a.Validate(ctx, "alice", tok.Value, false)
	require.NoError(t, err)
	assert.True(t, st.Valid)
	assert.False(t, st.Expired)
}

func TestValidateRejectsWrongToken(t *testing.T) {
	a, _ := newTestAuthority()
	ctx := context.Background()

	_, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)

	_, err = a.Validate(ctx, "alice", "deadbeef", false)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	_, err = a.Validate(ctx, "alice", "", false)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestIssueConflictUnlessForced(t *testing.T) {
	a, _ := newTestAuthority()
	ctx := context.Background()

	first, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)

	_, err = a.Issue(ctx, "alice", false)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	second, err := a.Issue(ctx, "alice", true)
	require.NoError(t, err)
	require.NotEqual(t, first.Value, second.Value)

	// the evicted token is dead, including for refresh
	_, err = a.Validate(ctx, "alice", first.Value, true)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
	_, err = a.Refresh(ctx, "alice", first.Value)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestSlidingExpiration(t *testing.T) {
	a, c := newTestAuthority()
	ctx := context.Background()

	tok, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)

	// 20 days in, a validate slides the window forward
	c.advance(20 * 24 * time.Hour)
	_, err = a.Validate(ctx, "alice", tok.Value, false)
	require.NoError(t, err)

	// 25 more days: past the original expiry, inside the slid one
	c.advance(25 * 24 * time.Hour)
	st, err := a.Validate(ctx, "alice", tok.Value, false)
	require.NoError(t, err)
	assert.True(t, st.Valid)
}

func TestRefreshJustPastExpiry(t *testing.T) {
	a, c := newTestAuthority()
	ctx := context.Background()

	old, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)

	c.advance(testTTL + time.Second)

	// the expired token no longer authenticates
	_, err = a.Validate(ctx, "alice", old.Value, false)
	require.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	// but within grace it still refreshes
	fresh, err := a.Refresh(ctx, "alice", old.Value)
	require.NoError(t, err)
	require.NotEqual(t, old.Value, fresh.Value)

	st, err := a.Validate(ctx, "alice", fresh.Value, false)
	require.NoError(t, err)
	assert.True(t, st.Valid)
}

func TestRefreshPastGraceFails(t *testing.T) {
	a, c := newTestAuthority()
	ctx := context.Background()

	old, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)

	c.advance(testTTL + testGrace + time.Second)

	_, err = a.Refresh(ctx, "alice", old.Value)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestOldTokenDeadAfterRefresh(t *testing.T) {
	a, c := newTestAuthority()
	ctx := context.Background()

	old, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)

	c.advance(testTTL + time.Second)
	_, err = a.Refresh(ctx, "alice", old.Value)
	require.NoError(t, err)

	// the grace fallback only applies while no active token exists, so a
	// second refresh with the retired token fails cleanly
	_, err = a.Refresh(ctx, "alice", old.Value)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestGraceValidationRequiresAllowExpired(t *testing.T) {
	a, c := newTestAuthority()
	ctx := context.Background()

	old, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)

	c.advance(testTTL + time.Hour)

	_, err = a.Validate(ctx, "alice", old.Value, false)
	require.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

	st, err := a.Validate(ctx, "alice", old.Value, true)
	require.NoError(t, err)
	assert.True(t, st.Valid)
	assert.True(t, st.Expired)
}

func TestRevoke(t *testing.T) {
	a, _ := newTestAuthority()
	ctx := context.Background()

	tok, err := a.Issue(ctx, "alice", false)
	require.NoError(t, err)
	require.NoError(t, a.Revoke(ctx, "alice"))

	_, err = a.Validate(ctx, "alice", tok.Value, true)
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}
