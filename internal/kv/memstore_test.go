package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedStore() (*MemStore, *clock) {
	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMemStore()
	m.Now = c.now
	return m, c
}

func TestGetMissingKey(t *testing.T) {
	m, _ := newClockedStore()
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNil)
}

func TestSetWithTTLExpires(t *testing.T) {
	m, c := newClockedStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	c.advance(time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNil)
}

func TestSetWithoutTTLNeverExpires(t *testing.T) {
	m, c := newClockedStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	c.advance(365 * 24 * time.Hour)
	_, err := m.Get(ctx, "k")
	assert.NoError(t, err)

	ttl, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ttl)
}

func TestSetNX(t *testing.T) {
	m, c := newClockedStore()
	ctx := context.Background()

	won, err := m.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = m.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)
	v, _ := m.Get(ctx, "k")
	assert.Equal(t, "first", v)

	// an expired key counts as absent again
	c.advance(2 * time.Minute)
	won, err = m.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestExpireOnlyWhenPresent(t *testing.T) {
	m, c := newClockedStore()
	ctx := context.Background()

	applied, err := m.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	c.advance(50 * time.Second)
	applied, err = m.Expire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, applied)

	// the refresh extended the lifetime past the original deadline
	c.advance(30 * time.Second)
	_, err = m.Get(ctx, "k")
	assert.NoError(t, err)
}

func TestTTLCountsDown(t *testing.T) {
	m, c := newClockedStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	c.advance(20 * time.Second)
	ttl, err := m.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 40*time.Second, ttl)

	_, err = m.TTL(ctx, "gone")
	assert.ErrorIs(t, err, ErrNil)
}

func TestSetOperations(t *testing.T) {
	m, _ := newClockedStore()
	ctx := context.Background()

	require.NoError(t, m.SAdd(ctx, "s", "b", "a", "b"))
	members, err := m.SMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, members)

	require.NoError(t, m.SRem(ctx, "s", "a"))
	members, _ = m.SMembers(ctx, "s")
	assert.Equal(t, []string{"b"}, members)

	// removing the last member drops the key, as Redis does
	require.NoError(t, m.SRem(ctx, "s", "b"))
	ok, err := m.Exists(ctx, "s")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPushTrimRange(t *testing.T) {
	m, _ := newClockedStore()
	ctx := context.Background()

	for _, v := range []string{"one", "two", "three", "four"} {
		require.NoError(t, m.LPush(ctx, "l", v))
	}
	// newest first
	all, err := m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"four", "three", "two", "one"}, all)

	head, err := m.LRange(ctx, "l", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"four"}, head)

	require.NoError(t, m.LTrim(ctx, "l", 0, 2))
	all, _ = m.LRange(ctx, "l", 0, -1)
	assert.Equal(t, []string{"four", "three", "two"}, all)

	// trimming to an empty range deletes the key
	require.NoError(t, m.LTrim(ctx, "l", 5, 8))
	ok, _ := m.Exists(ctx, "l")
	assert.False(t, ok)
}

func TestLRemFirstMatchFromHead(t *testing.T) {
	m, _ := newClockedStore()
	ctx := context.Background()

	require.NoError(t, m.LPush(ctx, "l", "x", "y", "x", "z"))
	require.NoError(t, m.LRem(ctx, "l", 1, "x"))
	all, err := m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y", "x"}, all)
}

func TestMGetMixesHitsAndMisses(t *testing.T) {
	m, _ := newClockedStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", 0))
	require.NoError(t, m.Set(ctx, "c", "3", 0))
	out, err := m.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "1", *out[0])
	assert.Nil(t, out[1])
	assert.Equal(t, "3", *out[2])
}

func TestScanRespectsPatternAndExpiry(t *testing.T) {
	m, c := newClockedStore()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "presence:r1:alice", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "presence:r1:bob", "1", 2*time.Minute))
	require.NoError(t, m.Set(ctx, "presence:r2:carol", "1", time.Minute))

	keys, err := m.Scan(ctx, "presence:r1:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"presence:r1:alice", "presence:r1:bob"}, keys)

	c.advance(90 * time.Second)
	keys, err = m.Scan(ctx, "presence:r1:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"presence:r1:bob"}, keys)
}
