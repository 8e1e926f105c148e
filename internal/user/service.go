package user

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/kv"
	"roomchat/internal/profanity"
)

const (
	keyPrefix = "user:"
	indexKey  = "users" // set of every known username, read by the fan-out
)

var usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{2,29}$`)

// Service owns user records. Users never expire; LastActive is bumped on
// every authenticated activity.
type Service struct {
	store  kv.Store
	filter *profanity.Filter
	now    func() time.Time
}

func NewService(store kv.Store, filter *profanity.Filter) *Service {
	return &Service{store: store, filter: filter, now: time.Now}
}

// Normalize lowercases and trims a client-supplied username.
func Normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Service) validate(username string) error {
	if !usernameRe.MatchString(username) {
		return apperr.Validation("username must be 3-30 characters (lowercase letters, digits, _ . -)")
	}
	if s.filter.IsProfane(username) {
		return apperr.Validation("username not allowed")
	}
	return nil
}

// Ensure returns the user record for username, creating it if absent.
// Creation races are resolved through SetNX: the loser re-reads the record
// the winner wrote. Only when that re-read also misses (store flapping) does
// the call fail, and the caller may retry.
func (s *Service) Ensure(ctx context.Context, username string) (*User, error) {
	username = Normalize(username)
	if err := s.validate(username); err != nil {
		return nil, err
	}

	u := &User{Username: username, LastActive: s.now()}
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, apperr.Internal("encode user", err)
	}
	won, err := s.store.SetNX(ctx, keyPrefix+username, string(raw), 0)
	if err != nil {
		return nil, apperr.Internal("create user", err)
	}
	if won {
		if err := s.store.SAdd(ctx, indexKey, username); err != nil {
			return nil, apperr.Internal("index user", err)
		}
		return u, nil
	}
	existing, err := s.Get(ctx, username)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.Internal("user record vanished during creation", nil)
		}
		return nil, err
	}
	return existing, nil
}

// Create is Ensure with a Conflict when the username is already taken;
// used by the explicit createUser action.
func (s *Service) Create(ctx context.Context, username string) (*User, error) {
	username = Normalize(username)
	if err := s.validate(username); err != nil {
		return nil, err
	}
	exists, err := s.store.Exists(ctx, keyPrefix+username)
	if err != nil {
		return nil, apperr.Internal("check user", err)
	}
	if exists {
		return nil, apperr.Conflict("username %q is taken", username)
	}
	return s.Ensure(ctx, username)
}

func (s *Service) Get(ctx context.Context, username string) (*User, error) {
	raw, err := s.store.Get(ctx, keyPrefix+Normalize(username))
	if err != nil {
		if errors.Is(err, kv.ErrNil) {
			return nil, apperr.NotFound("user %q not found", username)
		}
		return nil, apperr.Internal("get user", err)
	}
	u := &User{}
	if err := json.Unmarshal([]byte(raw), u); err != nil {
		// Legacy records were stored as the bare username.
		u.Username = raw
	}
	return u, nil
}

// Touch updates LastActive to now.
func (s *Service) Touch(ctx context.Context, username string) error {
	u, err := s.Get(ctx, username)
	if err != nil {
		return err
	}
	u.LastActive = s.now()
	raw, err := json.Marshal(u)
	if err != nil {
		return apperr.Internal("encode user", err)
	}
	if err := s.store.Set(ctx, keyPrefix+u.Username, string(raw), 0); err != nil {
		return apperr.Internal("touch user", err)
	}
	return nil
}

// All returns every known username, in no particular order beyond what the
// store gives back.
func (s *Service) All(ctx context.Context) ([]string, error) {
	names, err := s.store.SMembers(ctx, indexKey)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	return names, nil
}
