package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/kv"
	"roomchat/internal/user"
)

const (
	activePrefix = "token:"
	lastPrefix   = "lasttoken:"
)

// Token is an active bearer token for one user. At most one exists per user.
type Token struct {
	Value     string    `json:"token"`
	Username  string    `json:"username"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// lastValid preserves the previous token across a refresh. Within the grace
// window after ExpiredAt it can still be presented, but only to obtain a new
// token, never to authenticate a normal request.
type lastValid struct {
	Token     string    `json:"token"`
	ExpiredAt time.Time `json:"expiredAt"`
}

// Status is the outcome of Validate.
type Status struct {
	Valid   bool `json:"valid"`
	Expired bool `json:"expired"` // true when accepted via the grace window
}

// Authority issues, validates, refreshes and revokes bearer tokens.
// Tokens are opaque 256-bit values held in the store under a TTL; expiry is
// sliding (every successful validation of the active token pushes it out),
// so the TTL is effectively a user-inactivity window.
type Authority struct {
	store kv.Store
	ttl   time.Duration
	grace time.Duration
	now   func() time.Time
}

func NewAuthority(store kv.Store, ttl, grace time.Duration) *Authority {
	return &Authority{store: store, ttl: ttl, grace: grace, now: time.Now}
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue creates a new active token for username. If one already exists the
// call fails with Conflict unless force is set, in which case the old token
// is silently replaced, grace record included, so the evicted token cannot
// be used to sneak back in.
func (a *Authority) Issue(ctx context.Context, username string, force bool) (*Token, error) {
	username = user.Normalize(username)
	if !force {
		exists, err := a.store.Exists(ctx, activePrefix+username)
		if err != nil {
			return nil, apperr.Internal("check token", err)
		}
		if exists {
			return nil, apperr.Conflict("an active token already exists for %q", username)
		}
	}
	t, err := a.write(ctx, username)
	if err != nil {
		return nil, err
	}
	// Mirror the fresh token into the last-valid record so that a token
	// which silently expires can still refresh within grace even when no
	// refresh ever happened before.
	if err := a.saveLastValid(ctx, username, t.Value, t.ExpiresAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (a *Authority) write(ctx context.Context, username string) (*Token, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, apperr.Internal("generate token", err)
	}
	if err := a.store.Set(ctx, activePrefix+username, secret, a.ttl); err != nil {
		return nil, apperr.Internal("store token", err)
	}
	now := a.now()
	return &Token{
		Value:     secret,
		Username:  username,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}, nil
}

func (a *Authority) saveLastValid(ctx context.Context, username, value string, expiredAt time.Time) error {
	raw, err := json.Marshal(lastValid{Token: value, ExpiredAt: expiredAt})
	if err != nil {
		return apperr.Internal("encode last-valid token", err)
	}
	keepUntil := expiredAt.Add(a.grace).Sub(a.now())
	if keepUntil <= 0 {
		keepUntil = a.grace
	}
	if err := a.store.Set(ctx, lastPrefix+username, string(raw), keepUntil); err != nil {
		return apperr.Internal("store last-valid token", err)
	}
	return nil
}

// Validate checks presented against the user's active token. On a match the
// TTL is refreshed, sliding the expiry forward. When the active token is
// gone and allowExpired is set, the previous token is accepted if it matches
// and the grace window has not closed. Any other outcome is Unauthorized.
func (a *Authority) Validate(ctx context.Context, username, presented string, allowExpired bool) (Status, error) {
	username = user.Normalize(username)
	if presented == "" {
		return Status{}, apperr.Unauthorized("missing token")
	}

	active, err := a.store.Get(ctx, activePrefix+username)
	switch {
	case err == nil:
		if active != presented {
			return Status{}, apperr.Unauthorized("invalid token")
		}
		if _, err := a.store.Expire(ctx, activePrefix+username, a.ttl); err != nil {
			return Status{}, apperr.Internal("refresh token ttl", err)
		}
		// Slide the grace record along with the active token. This closes
		// the previous token's grace window on the first use of its
		// successor, and keeps "last use + ttl + grace" the true horizon
		// for regaining access.
		if err := a.saveLastValid(ctx, username, presented, a.now().Add(a.ttl)); err != nil {
			return Status{}, err
		}
		return Status{Valid: true}, nil
	case errors.Is(err, kv.ErrNil):
		// fall through to the grace path
	default:
		return Status{}, apperr.Internal("get token", err)
	}

	if !allowExpired {
		return Status{}, apperr.Unauthorized("token expired")
	}
	last, err := a.lastValidRecord(ctx, username)
	if err != nil {
		return Status{}, err
	}
	if last == nil || last.Token != presented {
		return Status{}, apperr.Unauthorized("token expired")
	}
	if a.now().After(last.ExpiredAt.Add(a.grace)) {
		return Status{}, apperr.Unauthorized("token expired beyond the grace period")
	}
	return Status{Valid: true, Expired: true}, nil
}

// Refresh retires oldToken and issues a fresh one. The presented token is
// re-validated against current store state immediately before anything is
// written, so a refresh racing a concurrent validate or another refresh
// fails cleanly instead of corrupting state. The retired token is preserved
// as the last-valid record, keeping the grace door open for one more cycle.
func (a *Authority) Refresh(ctx context.Context, username, oldToken string) (*Token, error) {
	username = user.Normalize(username)
	st, err := a.Validate(ctx, username, oldToken, true)
	if err != nil {
		return nil, err
	}

	// Capture the old token's nominal expiry: remaining TTL for a live
	// token, the recorded expiry for one accepted through grace.
	expiredAt := a.now()
	if !st.Expired {
		if remaining, err := a.store.TTL(ctx, activePrefix+username); err == nil && remaining > 0 {
			expiredAt = a.now().Add(remaining)
		}
	} else if last, err := a.lastValidRecord(ctx, username); err == nil && last != nil {
		expiredAt = last.ExpiredAt
	}

	// The presented token becomes the last-valid record; the fresh token
	// does NOT overwrite it here, so a client whose refresh response was
	// lost can retry with the token it still holds.
	if err := a.saveLastValid(ctx, username, oldToken, expiredAt); err != nil {
		return nil, err
	}
	return a.write(ctx, username)
}

// Revoke drops both the active token and the grace record.
func (a *Authority) Revoke(ctx context.Context, username string) error {
	username = user.Normalize(username)
	if err := a.store.Del(ctx, activePrefix+username, lastPrefix+username); err != nil {
		return apperr.Internal("revoke token", err)
	}
	return nil
}

func (a *Authority) lastValidRecord(ctx context.Context, username string) (*lastValid, error) {
	raw, err := a.store.Get(ctx, lastPrefix+username)
	if errors.Is(err, kv.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("get last-valid token", err)
	}
	rec := &lastValid{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, nil // malformed record: treat as absent
	}
	return rec, nil
}
