package message

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"
	"roomchat/internal/kv"
	"roomchat/internal/presence"
	"roomchat/internal/profanity"
	"roomchat/internal/room"
	"roomchat/internal/user"
)

const keyPrefix = "messages:"

// dedupWindow bounds the double-submit guard: an identical message from the
// same user is a Conflict only while the previous copy is this fresh.
const dedupWindow = 10 * time.Second

// Store keeps a per-room capped message log, newest first. Overflowing the
// cap silently drops the oldest entries; there is no durable history.
type Store struct {
	store    kv.Store
	rooms    *room.Registry
	users    *user.Service
	presence *presence.Tracker
	filter   *profanity.Filter
	cap      int
	maxLen   int
	now      func() time.Time
}

func NewStore(store kv.Store, rooms *room.Registry, users *user.Service, tracker *presence.Tracker, filter *profanity.Filter, cap, maxLen int) *Store {
	return &Store{
		store:    store,
		rooms:    rooms,
		users:    users,
		presence: tracker,
		filter:   filter,
		cap:      cap,
		maxLen:   maxLen,
		now:      time.Now,
	}
}

// Send validates, filters and appends a message, then refreshes the sender's
// presence and activity. The immediately preceding stored message is checked
// for an identical (username, content) pair within the dedup window: that
// rejects a double-submit with Conflict. A user repeating themselves later
// is fine, and alternating duplicates (A, B, A) are deliberately not caught.
func (s *Store) Send(ctx context.Context, roomID, username, content string) (*Message, error) {
	username = user.Normalize(username)
	ok, err := s.rooms.Exists(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("room %q not found", roomID)
	}
	if _, err := s.users.Ensure(ctx, username); err != nil {
		return nil, err
	}

	content = s.filter.Clean(content)
	if content == "" {
		return nil, apperr.Validation("message content is required")
	}
	if len(content) > s.maxLen {
		return nil, apperr.Validation("message exceeds %d characters", s.maxLen)
	}

	head, err := s.store.LRange(ctx, keyPrefix+roomID, 0, 0)
	if err != nil {
		return nil, apperr.Internal("read message head", err)
	}
	if len(head) == 1 {
		if prev, ok := decode(head[0]); ok &&
			prev.Username == username && prev.Content == content &&
			s.now().Sub(prev.Timestamp) < dedupWindow {
			return nil, apperr.Conflict("duplicate message")
		}
	}

	msg := &Message{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Username:  username,
		Content:   content,
		Timestamp: s.now(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, apperr.Internal("encode message", err)
	}
	if err := s.store.LPush(ctx, keyPrefix+roomID, string(raw)); err != nil {
		return nil, apperr.Internal("store message", err)
	}
	if err := s.store.LTrim(ctx, keyPrefix+roomID, 0, int64(s.cap-1)); err != nil {
		return nil, apperr.Internal("trim message log", err)
	}

	if err := s.presence.Set(ctx, roomID, username); err != nil {
		return nil, err
	}
	if err := s.users.Touch(ctx, username); err != nil {
		return nil, err
	}
	return msg, nil
}

// List returns up to limit messages for roomID, newest first. Entries that
// fail to decode are skipped, never fatal.
func (s *Store) List(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > s.cap {
		limit = s.cap
	}
	raws, err := s.store.LRange(ctx, keyPrefix+roomID, 0, int64(limit-1))
	if err != nil {
		return nil, apperr.Internal("read messages", err)
	}
	out := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		if m, ok := decode(raw); ok {
			if m.RoomID == "" {
				m.RoomID = roomID
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// ListBulk runs List for several rooms in one call, keyed by room id.
func (s *Store) ListBulk(ctx context.Context, roomIDs []string, limitPerRoom int) (map[string][]*Message, error) {
	out := make(map[string][]*Message, len(roomIDs))
	for _, id := range roomIDs {
		msgs, err := s.List(ctx, id, limitPerRoom)
		if err != nil {
			return nil, err
		}
		out[id] = msgs
	}
	return out, nil
}

// Delete removes one message by id. Admin only. The capped list is small,
// so a linear scan for the matching raw entry is fine.
func (s *Store) Delete(ctx context.Context, p auth.Principal, roomID, messageID string) error {
	if !p.CanAdminister() {
		return apperr.Forbidden("only the admin may delete messages")
	}
	raws, err := s.store.LRange(ctx, keyPrefix+roomID, 0, -1)
	if err != nil {
		return apperr.Internal("read messages", err)
	}
	for _, raw := range raws {
		m, ok := decode(raw)
		if !ok || m.ID != messageID {
			continue
		}
		if err := s.store.LRem(ctx, keyPrefix+roomID, 1, raw); err != nil {
			return apperr.Internal("delete message", err)
		}
		return nil
	}
	return apperr.NotFound("message %q not found in room %q", messageID, roomID)
}

// ClearAll drops every room's message log. Maintenance action, admin only.
func (s *Store) ClearAll(ctx context.Context, p auth.Principal) (int, error) {
	if !p.CanAdminister() {
		return 0, apperr.Forbidden("only the admin may clear messages")
	}
	keys, err := s.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return 0, apperr.Internal("scan message logs", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.store.Del(ctx, keys...); err != nil {
		return 0, apperr.Internal("clear message logs", err)
	}
	return len(keys), nil
}
