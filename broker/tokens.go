package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-chat-server/scope"
	"github.com/jrsteele09/go-chat-server/transport"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const tokenIssuer = "chat-broker"

// tokenClaims is the payload of a disposable token. Topic "*" selects all topics.
type tokenClaims struct {
	Namespace   string   `json:"ns"`
	Topic       string   `json:"tp"`
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// grant is a verified disposable token.
type grant struct {
	scope     scope.CredentialScope
	tokenID   string
	expiresAt time.Time
}

// HashAPIKey produces the bcrypt hash stored in place of an administrative API key.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

// Connect performs the administrative handshake. The key itself never appears in the returned error.
func (b *Broker) Connect(_ context.Context, apiKey string) (transport.AuthClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, transport.NewError(transport.CodeInvalidAPIKey, "api key is empty")
	}

	b.keysMu.RLock()
	hashes := append([][]byte(nil), b.apiKeyHashes...)
	b.keysMu.RUnlock()

	for idx, hash := range hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(apiKey)) == nil {
			b.logger.Debug().Int("key_index", idx).Msg("Admin client connected")
			return &authClient{broker: b, limiter: b.limiterFor(idx)}, nil
		}
	}
	b.logger.Warn().Msg("Rejected admin handshake")
	return nil, transport.NewError(transport.CodeInvalidAPIKey, "api key rejected")
}

type authClient struct {
	broker  *Broker
	limiter *rate.Limiter
}

func (a *authClient) GenerateDisposableToken(_ context.Context, s scope.CredentialScope, opts transport.TokenOptions) (*transport.DisposableToken, error) {
	if err := s.Validate(); err != nil {
		return nil, transport.NewError(transport.CodeBadRequest, err.Error())
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return nil, transport.NewError(transport.CodeQuotaExceeded, "token issuance quota exceeded")
	}

	b := a.broker
	now := b.nowFunc()
	expiresAt := now.Add(s.TTL())
	claims := tokenClaims{
		Namespace:   s.Namespace(),
		Topic:       s.Topics().String(),
		Permissions: s.Permissions().Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   opts.TokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := b.signer.Sign(claims)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to sign disposable token")
		return nil, transport.NewError(transport.CodeUnavailable, "failed to sign token")
	}

	return &transport.DisposableToken{
		AuthToken: signed,
		Endpoint:  b.endpoint,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (b *Broker) verify(raw string) (*grant, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, transport.NewError(transport.CodeInvalidToken, "missing token")
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, b.signer.VerificationKey,
		jwt.WithValidMethods([]string{b.signer.Method().Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(b.nowFunc),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, transport.NewError(transport.CodeTokenExpired, "disposable token has expired")
		}
		return nil, transport.NewError(transport.CodeInvalidToken, "disposable token rejected")
	}
	if !parsed.Valid {
		return nil, transport.NewError(transport.CodeInvalidToken, "disposable token rejected")
	}

	perms, err := scope.ParsePermissions(claims.Permissions)
	if err != nil {
		return nil, transport.NewError(transport.CodeInvalidToken, err.Error())
	}
	expiresAt := claims.ExpiresAt.Time
	var ttl time.Duration
	if claims.IssuedAt != nil {
		ttl = expiresAt.Sub(claims.IssuedAt.Time)
	}

	granted := scope.New(claims.Namespace, scope.ParseTopicSelector(claims.Topic), perms, ttl)
	if err := granted.Validate(); err != nil {
		return nil, transport.NewError(transport.CodeInvalidToken, "disposable token scope is incomplete")
	}

	return &grant{
		scope:     granted,
		tokenID:   claims.Subject,
		expiresAt: expiresAt,
	}, nil
}

func (b *Broker) authorize(raw, namespace, topic string, perm scope.Permission) (*grant, error) {
	if strings.TrimSpace(namespace) == "" || strings.TrimSpace(topic) == "" {
		return nil, transport.NewError(transport.CodeBadRequest, "namespace and topic are required")
	}
	g, err := b.verify(raw)
	if err != nil {
		return nil, err
	}
	if !g.scope.Allows(namespace, topic, perm) {
		return nil, transport.NewError(transport.CodePermissionDenied,
			fmt.Sprintf("token does not grant %s on %s/%s", perm, namespace, topic))
	}
	return g, nil
}
