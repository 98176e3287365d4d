package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/jrsteele09/go-chat-server/scope"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultNamespace = "chat"

	handshakeTimeout = 30 * time.Second
)

// SecretResolver loads the administrative credential from a deploy-time reference.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Issuer converts an authenticated caller into a disposable credential scoped to publish and
// subscribe on every topic of one namespace. It holds the only administrative client in the process.
type Issuer struct {
	connector transport.AuthConnector
	secrets   SecretResolver
	secretRef string
	namespace string
	ttl       time.Duration
	nowFunc   func() time.Time
	logger    zerolog.Logger

	mu          sync.RWMutex
	adminClient transport.AuthClient
	adminSecret string
	handshake   singleflight.Group
}

type IssuerOption func(*Issuer)

func WithNamespace(namespace string) IssuerOption {
	return func(i *Issuer) {
		i.namespace = namespace
	}
}

func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) IssuerOption {
	return func(i *Issuer) {
		i.logger = logger
	}
}

// New creates an issuer. Nothing is contacted until the first IssueToken call.
func New(connector transport.AuthConnector, secrets SecretResolver, secretRef string, options ...IssuerOption) *Issuer {
	i := &Issuer{
		connector: connector,
		secrets:   secrets,
		secretRef: secretRef,
		logger:    log.Logger.With().Str("component", "token-issuer").Logger(),
	}
	for _, opt := range options {
		opt(i)
	}

	if i.namespace == "" {
		i.namespace = DefaultNamespace
	}
	if i.ttl == 0 {
		i.ttl = scope.DefaultTTL
	}
	if i.nowFunc == nil {
		i.nowFunc = time.Now
	}
	return i
}

func (i *Issuer) Namespace() string {
	return i.namespace
}

// IssueToken mints a new credential for caller. The caller must already be authenticated; no
// authentication happens here. Every call produces an independent credential.
func (i *Issuer) IssueToken(ctx context.Context, caller identity.Identity) (*DisposableCredential, error) {
	client, err := i.client(ctx)
	if err != nil {
		return nil, err
	}

	issuedAt := i.nowFunc()
	s := scope.TopicPublishSubscribe(i.namespace, scope.AllTopics, i.ttl)
	if err := s.Validate(); err != nil {
		return nil, &CredentialIssuanceError{Op: "scope", Diagnostic: err.Error(), Err: err}
	}

	generated, err := client.GenerateDisposableToken(ctx, s, transport.TokenOptions{TokenID: caller.Subject})
	if err != nil {
		issueErr := newIssuanceError("generate", err, i.secret())
		i.logger.Error().
			Str("caller", caller.Subject).
			Str("namespace", i.namespace).
			Str("error_code", string(transport.CodeOf(err))).
			Str("error_message", issueErr.Diagnostic).
			Msg("Failed to generate disposable token")
		return nil, issueErr
	}

	cred := &DisposableCredential{
		Endpoint:  generated.Endpoint,
		Token:     generated.AuthToken,
		Namespace: i.namespace,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(i.ttl),
	}
	i.logger.Info().Str("caller", caller.Subject).Object("credential", cred).Msg("Issued disposable token")
	return cred, nil
}

// client returns the administrative client, performing the handshake on first use. Concurrent first
// callers share a single handshake; a failed handshake is not cached.
func (i *Issuer) client(ctx context.Context) (transport.AuthClient, error) {
	i.mu.RLock()
	c := i.adminClient
	i.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	// The handshake outlives any one caller: a cancelled request must not fail the others
	// waiting on it, so it runs detached and each caller waits on its own context.
	handshakeCtx := context.WithoutCancel(ctx)
	result := i.handshake.DoChan("admin", func() (any, error) {
		ctx, cancel := context.WithTimeout(handshakeCtx, handshakeTimeout)
		defer cancel()

		i.mu.RLock()
		existing := i.adminClient
		i.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		i.logger.Info().Str("secret_ref", i.secretRef).Msg("Initializing transport auth client")
		apiKey, err := i.secrets.Resolve(ctx, i.secretRef)
		if err != nil {
			return nil, &CredentialIssuanceError{
				Op:         "load-admin-credential",
				Diagnostic: fmt.Sprintf("administrative credential %s could not be loaded", i.secretRef),
				Err:        err,
			}
		}

		client, err := i.connector.Connect(ctx, apiKey)
		if err != nil {
			issueErr := newIssuanceError("connect", err, apiKey)
			i.logger.Error().Str("error_message", issueErr.Diagnostic).Msg("Failed to initialize transport auth client")
			return nil, issueErr
		}

		i.mu.Lock()
		i.adminClient = client
		i.adminSecret = apiKey
		i.mu.Unlock()
		i.logger.Info().Msg("Initialized transport auth client")
		return client, nil
	})

	select {
	case <-ctx.Done():
		return nil, &CredentialIssuanceError{Op: "connect", Diagnostic: ctx.Err().Error(), Err: ctx.Err()}
	case r := <-result:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(transport.AuthClient), nil
	}
}

func (i *Issuer) secret() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.adminSecret
}
