// Package auth resolves request credentials into an Identity. Handlers pass
// the Identity explicitly to the services that need an owner.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/supabase-community/supabase-go"
)

// ErrInvalidToken is returned when a bearer token is present but rejected.
var ErrInvalidToken = errors.New("invalid access token")

// Identity is the caller of a request. An empty UserID is an anonymous
// visitor who can watch and play duels but has no saved history.
type Identity struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

func (i Identity) Anonymous() bool { return i.UserID == "" }

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Anonymous accepts no tokens; every request is anonymous.
type Anonymous struct{}

func (Anonymous) Verify(_ context.Context, token string) (Identity, error) {
	if token != "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{}, nil
}

// Static maps fixed tokens to user ids. It backs local development and
// tests when no identity provider is configured.
type Static map[string]string

func (s Static) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, nil
	}
	id, ok := s[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: id}, nil
}

// SupabaseVerifier validates access tokens against Supabase auth.
type SupabaseVerifier struct {
	client *supabase.Client
}

func NewSupabaseVerifier(client *supabase.Client) *SupabaseVerifier {
	return &SupabaseVerifier{client: client}
}

func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	user, err := v.client.Auth.WithToken(token).GetUser()
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}
	return Identity{UserID: user.ID.String(), Email: user.Email}, nil
}
