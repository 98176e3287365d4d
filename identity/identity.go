package identity

import (
	"context"
	"errors"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Identity is a caller that the edge layer has already authenticated.
type Identity struct {
	Subject  string         `json:"sub"`
	Email    string         `json:"email,omitempty"`
	Username string         `json:"username,omitempty"`
	Groups   []string       `json:"groups,omitempty"`
	Claims   map[string]any `json:"-"`
}

// Verifier authenticates a raw bearer token presented by a caller.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

type contextKey struct{}

func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}
