package room

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/kv"
	"roomchat/internal/presence"
	"roomchat/internal/profanity"
	"roomchat/internal/user"
)

const (
	keyPrefix = "room:"
	indexKey  = "rooms"
	// messagesPrefix is owned by the message store; the registry only
	// touches it to purge a room's log when the room goes away.
	messagesPrefix = "messages:"
)

// Registry is CRUD over room metadata plus the compound join/leave/switch
// operations. It holds no state of its own; every call reconstructs what it
// needs from the store.
type Registry struct {
	store    kv.Store
	presence *presence.Tracker
	users    *user.Service
	filter   *profanity.Filter
	now      func() time.Time
}

func NewRegistry(store kv.Store, tracker *presence.Tracker, users *user.Service, filter *profanity.Filter) *Registry {
	return &Registry{store: store, presence: tracker, users: users, filter: filter, now: time.Now}
}

// Create makes a room. Public rooms are admin-only and take a profanity-clean
// name, normalized to a slug. Private rooms take a member list (the creator
// is added if absent) and derive their display name from it; presence is
// pre-seeded for every member so the room shows as populated immediately.
//
// Two private rooms over the same member set are NOT collapsed into one:
// each create allocates a fresh id.
func (g *Registry) Create(ctx context.Context, p auth.Principal, typ Type, name string, members []string) (*Room, error) {
	r := &Room{
		ID:        uuid.NewString(),
		Type:      typ,
		CreatedAt: g.now(),
	}
	switch typ {
	case Public:
		if !p.CanAdminister() {
			return nil, apperr.Forbidden("only the admin may create public rooms")
		}
		slug := Slugify(name)
		if slug == "" {
			return nil, apperr.Validation("room name is required")
		}
		if g.filter.IsProfane(name) {
			return nil, apperr.Validation("room name not allowed")
		}
		r.Name = slug
	case Private:
		if len(members) == 0 {
			return nil, apperr.Validation("a private room needs at least one member")
		}
		normalized := make([]string, 0, len(members))
		seen := make(map[string]struct{}, len(members)+1)
		for _, m := range append(members, p.Username) {
			m = user.Normalize(m)
			if m == "" {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			normalized = append(normalized, m)
		}
		r.Members = normalized
		r.Name = DisplayName(normalized)
		r.UserCount = len(normalized)
	default:
		return nil, apperr.Validation("unknown room type %q", typ)
	}

	if err := g.save(ctx, r); err != nil {
		return nil, err
	}
	if err := g.store.SAdd(ctx, indexKey, r.ID); err != nil {
		return nil, apperr.Internal("index room", err)
	}
	if r.Type == Private {
		for _, m := range r.Members {
			if err := g.presence.Set(ctx, r.ID, m); err != nil {
				return nil, err
			}
		}
	}
	return r, nil
}

func (g *Registry) save(ctx context.Context, r *Room) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return apperr.Internal("encode room", err)
	}
	if err := g.store.Set(ctx, keyPrefix+r.ID, string(raw), 0); err != nil {
		return apperr.Internal("store room", err)
	}
	return nil
}

// get reads the raw record without refreshing the user count.
func (g *Registry) get(ctx context.Context, roomID string) (*Room, error) {
	raw, err := g.store.Get(ctx, keyPrefix+roomID)
	if errors.Is(err, kv.ErrNil) {
		return nil, apperr.NotFound("room %q not found", roomID)
	}
	if err != nil {
		return nil, apperr.Internal("get room", err)
	}
	r := &Room{}
	if err := json.Unmarshal([]byte(raw), r); err != nil {
		return nil, apperr.Internal("decode room", err)
	}
	return r, nil
}

// Get returns the room with its user count freshly recomputed. Every path
// that serves a room to a client goes through here or List.
func (g *Registry) Get(ctx context.Context, roomID string) (*Room, error) {
	r, err := g.get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := g.refreshCount(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Exists is a cheap existence probe for the message path.
func (g *Registry) Exists(ctx context.Context, roomID string) (bool, error) {
	ok, err := g.store.Exists(ctx, keyPrefix+roomID)
	if err != nil {
		return false, apperr.Internal("check room", err)
	}
	return ok, nil
}

// ActiveUsers lists live presence for a room that must exist.
func (g *Registry) ActiveUsers(ctx context.Context, roomID string) ([]string, error) {
	if _, err := g.get(ctx, roomID); err != nil {
		return nil, err
	}
	return g.presence.ActiveUsers(ctx, roomID)
}

// RefreshUserCount recomputes a room's occupancy from live presence markers,
// writes it back onto the record and returns it. The stored count is only a
// cache; this is the sole way it becomes trustworthy.
func (g *Registry) RefreshUserCount(ctx context.Context, roomID string) (int, error) {
	r, err := g.get(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return g.refreshCount(ctx, r)
}

func (g *Registry) refreshCount(ctx context.Context, r *Room) (int, error) {
	users, err := g.presence.ActiveUsers(ctx, r.ID)
	if err != nil {
		return 0, err
	}
	if r.UserCount != len(users) {
		r.UserCount = len(users)
		if err := g.save(ctx, r); err != nil {
			return 0, err
		}
	}
	return r.UserCount, nil
}

// List returns every room the viewer may see, counts refreshed. An empty
// viewer is the anonymous case and sees public rooms only.
func (g *Registry) List(ctx context.Context, viewer string) ([]*Room, error) {
	all, err := g.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Room, 0, len(all))
	for _, r := range all {
		if r.VisibleTo(viewer) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListAll returns every room regardless of visibility. Callers other than
// the fan-out (which filters per recipient) must not serve this directly.
func (g *Registry) ListAll(ctx context.Context) ([]*Room, error) {
	ids, err := g.store.SMembers(ctx, indexKey)
	if err != nil {
		return nil, apperr.Internal("list rooms", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	raws, err := g.store.MGet(ctx, keys...)
	if err != nil {
		return nil, apperr.Internal("load rooms", err)
	}
	out := make([]*Room, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		r := &Room{}
		if err := json.Unmarshal([]byte(*raw), r); err != nil {
			continue // malformed record, skip rather than fail the listing
		}
		if _, err := g.refreshCount(ctx, r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteOrLeave implements the DELETE semantics. For a public room only the
// admin may delete, and the room plus its message log and presence markers
// all go. For a private room the call means "leave": the actor is dropped
// from the member list, and once one or zero members would remain the room
// is deleted outright, since a private room that small has no purpose.
// The returned room is nil when the room was deleted.
func (g *Registry) DeleteOrLeave(ctx context.Context, p auth.Principal, roomID string) (*Room, error) {
	r, err := g.get(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if r.Type == Public {
		if !p.CanAdminister() {
			return nil, apperr.Forbidden("only the admin may delete public rooms")
		}
		return nil, g.purge(ctx, r)
	}

	if !r.VisibleTo(p.Username) {
		// Invisible rooms answer exactly like missing ones.
		return nil, apperr.NotFound("room %q not found", roomID)
	}
	remaining := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m != p.Username {
			remaining = append(remaining, m)
		}
	}
	if len(remaining) <= 1 {
		return nil, g.purge(ctx, r)
	}
	r.Members = remaining
	r.Name = DisplayName(remaining)
	if err := g.save(ctx, r); err != nil {
		return nil, err
	}
	if err := g.presence.Clear(ctx, r.ID, p.Username); err != nil {
		return nil, err
	}
	if _, err := g.refreshCount(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// purge removes the room record, its index entry, its message log and all
// presence markers. Failures midway may orphan keys; there is no rollback,
// cleanup is left to an out-of-band sweep.
func (g *Registry) purge(ctx context.Context, r *Room) error {
	if err := g.store.Del(ctx, keyPrefix+r.ID, messagesPrefix+r.ID); err != nil {
		return apperr.Internal("delete room", err)
	}
	if err := g.store.SRem(ctx, indexKey, r.ID); err != nil {
		return apperr.Internal("unindex room", err)
	}
	return g.presence.ClearRoom(ctx, r.ID)
}

// Join marks username present in the room and bumps their activity. A room
// the user may not see answers NotFound, like every read path.
func (g *Registry) Join(ctx context.Context, roomID, username string) (int, error) {
	username = user.Normalize(username)
	r, err := g.visibleTo(ctx, roomID, username)
	if err != nil {
		return 0, err
	}
	if _, err := g.users.Ensure(ctx, username); err != nil {
		return 0, err
	}
	if err := g.presence.Set(ctx, roomID, username); err != nil {
		return 0, err
	}
	if err := g.users.Touch(ctx, username); err != nil {
		return 0, err
	}
	return g.refreshCount(ctx, r)
}

// Leave clears username's presence in the room. Membership of private rooms
// is untouched; that is DeleteOrLeave's job.
func (g *Registry) Leave(ctx context.Context, roomID, username string) (int, error) {
	username = user.Normalize(username)
	r, err := g.visibleTo(ctx, roomID, username)
	if err != nil {
		return 0, err
	}
	if err := g.presence.Clear(ctx, roomID, username); err != nil {
		return 0, err
	}
	return g.refreshCount(ctx, r)
}

// visibleTo loads a room and hides its existence from users who may not see
// it: an invisible room and a missing room answer identically.
func (g *Registry) visibleTo(ctx context.Context, roomID, username string) (*Room, error) {
	r, err := g.get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !r.VisibleTo(username) {
		return nil, apperr.NotFound("room %q not found", roomID)
	}
	return r, nil
}

// Switch moves a user from prev to next in one compound operation. Presence
// in a private prev room is left to expire on its own TTL instead of being
// cleared, so briefly switching away from a private conversation does not
// make the user look offline to its members. The next room must be visible
// to the user or the call answers NotFound.
func (g *Registry) Switch(ctx context.Context, username, prevID, nextID string) error {
	username = user.Normalize(username)
	next, err := g.visibleTo(ctx, nextID, username)
	if err != nil {
		return err
	}
	if _, err := g.users.Ensure(ctx, username); err != nil {
		return err
	}
	if prevID != "" {
		// A prev room that is missing or invisible is simply skipped.
		prev, err := g.get(ctx, prevID)
		if err == nil && prev.VisibleTo(username) {
			if prev.Type != Private {
				if err := g.presence.Clear(ctx, prevID, username); err != nil {
					return err
				}
			}
			if _, err := g.refreshCount(ctx, prev); err != nil {
				return err
			}
		} else if err != nil && !apperr.IsKind(err, apperr.KindNotFound) {
			return err
		}
	}
	if err := g.presence.Set(ctx, nextID, username); err != nil {
		return err
	}
	if _, err := g.refreshCount(ctx, next); err != nil {
		return err
	}
	return g.users.Touch(ctx, username)
}

// ResetUserCounts rewrites every room's cached count from live presence.
// Maintenance action, admin only (enforced by the caller's router).
func (g *Registry) ResetUserCounts(ctx context.Context) (int, error) {
	ids, err := g.store.SMembers(ctx, indexKey)
	if err != nil {
		return 0, apperr.Internal("list rooms", err)
	}
	n := 0
	for _, id := range ids {
		r, err := g.get(ctx, id)
		if err != nil {
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue // index entry orphaned by an interrupted purge
			}
			return 0, err
		}
		if _, err := g.refreshCount(ctx, r); err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}
