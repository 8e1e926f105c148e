package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"roomchat/internal/auth"
	"roomchat/internal/token"
	"roomchat/internal/user"
)

type contextKey string

const principalKey contextKey = "principal"

// TokenValidator is what we need from the token authority. The interface
// keeps this package decoupled from its concrete implementation.
type TokenValidator interface {
	Validate(ctx context.Context, username, presented string, allowExpired bool) (token.Status, error)
}

// Auth resolves the bearer-token + username header pair into a Principal.
// Requests without credentials pass through as anonymous; which actions
// actually require a principal is the router's decision. Requests that do
// present credentials must present valid ones, or they are rejected even
// for optional-auth actions.
type Auth struct {
	validator TokenValidator
	adminUser string
}

func NewAuth(v TokenValidator, adminUser string) *Auth {
	return &Auth{validator: v, adminUser: adminUser}
}

func (a *Auth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if h := r.Header.Get("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
				tokenString = strings.TrimSpace(parts[1])
			}
		}
		username := user.Normalize(r.Header.Get("X-Username"))

		if tokenString == "" && username == "" {
			next.ServeHTTP(w, r) // anonymous
			return
		}
		if tokenString == "" || username == "" {
			unauthorized(w, "token and username headers are required together")
			return
		}
		if _, err := a.validator.Validate(r.Context(), username, tokenString, false); err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		p := auth.Principal{Username: username, Admin: username == a.adminUser}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFrom returns the authenticated principal, or the anonymous zero
// value when the request carried no credentials.
func PrincipalFrom(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalKey).(auth.Principal)
	return p
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
