package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-chat-server/internal/utils"
)

const groupsClaim = "cognito:groups"

// OIDCVerifier validates ID tokens issued by an OpenID Connect provider such as a Cognito user pool.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL and verifies tokens minted for clientID.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewOIDCVerifierFromKeySet builds a verifier without discovery, e.g. with oidc.StaticKeySet in tests.
func NewOIDCVerifierFromKeySet(issuerURL, clientID string, keySet oidc.KeySet) *OIDCVerifier {
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}),
	}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidToken)
	}
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims struct {
		Email    string `json:"email"`
		Username string `json:"cognito:username"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	all := map[string]any{}
	_ = idToken.Claims(&all)
	groups, _ := all[groupsClaim].([]any)

	return &Identity{
		Subject:  idToken.Subject,
		Email:    claims.Email,
		Username: claims.Username,
		Groups:   utils.ToStringSlice(groups),
		Claims:   all,
	}, nil
}
