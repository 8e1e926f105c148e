package presence

import (
	"context"
	"strings"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/kv"
)

const (
	keyPrefix = "presence:"
	// legacyMembersPrefix is the explicit membership set an earlier schema
	// kept per room. ActiveUsers deletes it on sight so stale sets cannot
	// shadow the TTL markers.
	legacyMembersPrefix = "roomusers:"
)

// Tracker maintains "online in room X" markers. A marker is a TTL-bearing
// key whose existence is the whole signal; nothing sweeps them, they just
// expire. Occupancy is therefore stale by at most one TTL window, which the
// design accepts in exchange for never needing a reliable leave call.
type Tracker struct {
	store kv.Store
	ttl   time.Duration
}

func NewTracker(store kv.Store, ttl time.Duration) *Tracker {
	return &Tracker{store: store, ttl: ttl}
}

func key(roomID, username string) string {
	return keyPrefix + roomID + ":" + username
}

// Set marks username online in roomID. Idempotent.
func (t *Tracker) Set(ctx context.Context, roomID, username string) error {
	if err := t.store.Set(ctx, key(roomID, username), "1", t.ttl); err != nil {
		return apperr.Internal("set presence", err)
	}
	return nil
}

// Refresh extends the marker's TTL only when it still exists. A marker that
// already expired stays gone: the client has to rejoin explicitly rather
// than silently resurrect a pruned session.
func (t *Tracker) Refresh(ctx context.Context, roomID, username string) (bool, error) {
	ok, err := t.store.Expire(ctx, key(roomID, username), t.ttl)
	if err != nil {
		return false, apperr.Internal("refresh presence", err)
	}
	return ok, nil
}

// Clear removes the marker immediately.
func (t *Tracker) Clear(ctx context.Context, roomID, username string) error {
	if err := t.store.Del(ctx, key(roomID, username)); err != nil {
		return apperr.Internal("clear presence", err)
	}
	return nil
}

// ActiveUsers returns every user with an unexpired marker in roomID.
// As a migration side effect it also deletes the room's legacy explicit
// membership set, if one is still lying around.
func (t *Tracker) ActiveUsers(ctx context.Context, roomID string) ([]string, error) {
	if err := t.store.Del(ctx, legacyMembersPrefix+roomID); err != nil {
		return nil, apperr.Internal("drop legacy member set", err)
	}
	prefix := keyPrefix + roomID + ":"
	keys, err := t.store.Scan(ctx, prefix+"*")
	if err != nil {
		return nil, apperr.Internal("scan presence", err)
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, prefix))
	}
	return users, nil
}

// ClearRoom drops every marker for roomID (used on room deletion).
func (t *Tracker) ClearRoom(ctx context.Context, roomID string) error {
	keys, err := t.store.Scan(ctx, keyPrefix+roomID+":*")
	if err != nil {
		return apperr.Internal("scan presence", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := t.store.Del(ctx, keys...); err != nil {
		return apperr.Internal("clear room presence", err)
	}
	return nil
}
