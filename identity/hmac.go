package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type hmacClaims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"cognito:username,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier accepts HS256 JWTs signed with a shared secret. It is meant for local development
// where no OIDC provider is available.
type HMACVerifier struct {
	secret   []byte
	issuer   string
	audience string
	nowFunc  func() time.Time
}

type HMACOption func(*HMACVerifier)

func WithIssuer(issuer string) HMACOption {
	return func(v *HMACVerifier) {
		v.issuer = issuer
	}
}

func WithAudience(audience string) HMACOption {
	return func(v *HMACVerifier) {
		v.audience = audience
	}
}

func WithNowFunc(now func() time.Time) HMACOption {
	return func(v *HMACVerifier) {
		v.nowFunc = now
	}
}

func NewHMACVerifier(secret string, opts ...HMACOption) *HMACVerifier {
	v := &HMACVerifier{secret: []byte(strings.TrimSpace(secret)), nowFunc: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (*Identity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidToken)
	}
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: hmac secret not configured", ErrInvalidToken)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.nowFunc),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &hmacClaims{}
	parsed, err := jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
		Claims: map[string]any{
			"iss": claims.Issuer,
			"sub": claims.Subject,
		},
	}, nil
}

// SignHMAC creates a token HMACVerifier accepts. Used by development tooling and tests.
func SignHMAC(secret string, id Identity, ttl time.Duration, now time.Time) (string, error) {
	claims := hmacClaims{
		Email:    id.Email,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}
