package token_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-server/broker"
	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/jrsteele09/go-chat-server/scope"
	"github.com/jrsteele09/go-chat-server/token"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const adminSecret = "admin-secret-value"

type staticSecrets map[string]string

func (s staticSecrets) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := s[ref]
	if !ok {
		return "", errors.New("secret not found: " + ref)
	}
	return v, nil
}

type fakeConnector struct {
	handshakes atomic.Int32
	delay      time.Duration
	err        error
	client     *fakeAuthClient
}

func (f *fakeConnector) Connect(_ context.Context, apiKey string) (transport.AuthClient, error) {
	f.handshakes.Add(1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	if apiKey != adminSecret {
		return nil, transport.NewError(transport.CodeInvalidAPIKey, "api key "+apiKey+" rejected")
	}
	return f.client, nil
}

type fakeAuthClient struct {
	mu     sync.Mutex
	scopes []scope.CredentialScope
	ids    []string
	err    error
	seq    atomic.Int32
}

func (f *fakeAuthClient) GenerateDisposableToken(_ context.Context, s scope.CredentialScope, opts transport.TokenOptions) (*transport.DisposableToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.scopes = append(f.scopes, s)
	f.ids = append(f.ids, opts.TokenID)
	f.mu.Unlock()
	n := f.seq.Add(1)
	return &transport.DisposableToken{
		AuthToken: "disposable-token-" + string(rune('a'+n)),
		Endpoint:  "wss://transport.test",
		ExpiresAt: time.Now().Add(s.TTL()),
	}, nil
}

func newIssuer(connector transport.AuthConnector, opts ...token.IssuerOption) *token.Issuer {
	opts = append([]token.IssuerOption{token.WithLogger(zerolog.Nop())}, opts...)
	return token.New(connector, staticSecrets{"env:ADMIN": adminSecret}, "env:ADMIN", opts...)
}

func TestIssueToken(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeAuthClient{}
	issuer := newIssuer(&fakeConnector{client: client}, token.WithNowFunc(func() time.Time { return now }))

	cred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user-1"})
	require.NoError(t, err)

	require.Equal(t, "wss://transport.test", cred.Endpoint)
	require.NotEmpty(t, cred.Token)
	require.Equal(t, token.DefaultNamespace, cred.Namespace)
	require.Equal(t, now, cred.IssuedAt)
	require.Equal(t, 30*time.Minute, cred.ExpiresAt.Sub(cred.IssuedAt))

	require.Len(t, client.scopes, 1)
	granted := client.scopes[0]
	require.Equal(t, "chat", granted.Namespace())
	require.True(t, granted.Topics().IsAll())
	require.True(t, granted.Permissions().Contains(scope.PublishSubscribe()))
	require.Equal(t, scope.DefaultTTL, granted.TTL())
	require.Equal(t, []string{"user-1"}, client.ids)

	t.Run("every call issues a fresh credential", func(t *testing.T) {
		second, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user-1"})
		require.NoError(t, err)
		require.NotEqual(t, cred.Token, second.Token)
	})

	t.Run("configured namespace and ttl", func(t *testing.T) {
		c := &fakeAuthClient{}
		i := newIssuer(&fakeConnector{client: c}, token.WithNamespace("support"), token.WithTTL(5*time.Minute))
		cred, err := i.IssueToken(context.Background(), identity.Identity{Subject: "user-2"})
		require.NoError(t, err)
		require.Equal(t, "support", cred.Namespace)
		require.Equal(t, 5*time.Minute, cred.ExpiresAt.Sub(cred.IssuedAt))
		require.Equal(t, "support", c.scopes[0].Namespace())
	})
}

func TestIssueToken_SingleHandshake(t *testing.T) {
	connector := &fakeConnector{client: &fakeAuthClient{}, delay: 50 * time.Millisecond}
	issuer := newIssuer(connector)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), connector.handshakes.Load())

	_, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
	require.NoError(t, err)
	require.Equal(t, int32(1), connector.handshakes.Load())
}

// slowConnector honours ctx cancellation while the handshake is in flight.
type slowConnector struct {
	handshakes atomic.Int32
	delay      time.Duration
	client     *fakeAuthClient
}

func (s *slowConnector) Connect(ctx context.Context, _ string) (transport.AuthClient, error) {
	s.handshakes.Add(1)
	select {
	case <-time.After(s.delay):
		return s.client, nil
	case <-ctx.Done():
		return nil, transport.NewError(transport.CodeUnavailable, ctx.Err().Error())
	}
}

func TestIssueToken_CancelledCallerDoesNotFailOthers(t *testing.T) {
	connector := &slowConnector{client: &fakeAuthClient{}, delay: 100 * time.Millisecond}
	issuer := newIssuer(connector)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := issuer.IssueToken(firstCtx, identity.Identity{Subject: "hangs-up"})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return connector.handshakes.Load() == 1 }, time.Second, time.Millisecond)

	secondErr := make(chan error, 1)
	go func() {
		_, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "waits"})
		secondErr <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-firstErr
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, token.ErrCredentialIssuance)

	require.NoError(t, <-secondErr)
	require.Equal(t, int32(1), connector.handshakes.Load())

	_, err = issuer.IssueToken(context.Background(), identity.Identity{Subject: "later"})
	require.NoError(t, err)
	require.Equal(t, int32(1), connector.handshakes.Load())
}

func TestIssueToken_Failures(t *testing.T) {
	t.Run("rejected admin credential", func(t *testing.T) {
		connector := &fakeConnector{client: &fakeAuthClient{}}
		issuer := token.New(connector, staticSecrets{"env:ADMIN": "wrong-secret"}, "env:ADMIN",
			token.WithLogger(zerolog.Nop()))

		cred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
		require.Nil(t, cred)
		require.ErrorIs(t, err, token.ErrCredentialIssuance)
		require.ErrorIs(t, err, transport.ErrInvalidAPIKey)
		require.NotContains(t, err.Error(), "wrong-secret")

		var issueErr *token.CredentialIssuanceError
		require.ErrorAs(t, err, &issueErr)
		require.Equal(t, "connect", issueErr.Op)
		require.NotContains(t, issueErr.Diagnostic, "wrong-secret")
	})

	t.Run("failed handshake is retried", func(t *testing.T) {
		connector := &fakeConnector{client: &fakeAuthClient{}, err: transport.NewError(transport.CodeUnavailable, "down")}
		issuer := newIssuer(connector)

		_, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
		require.ErrorIs(t, err, transport.ErrUnavailable)

		connector.err = nil
		_, err = issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
		require.NoError(t, err)
		require.Equal(t, int32(2), connector.handshakes.Load())
	})

	t.Run("secret cannot be loaded", func(t *testing.T) {
		connector := &fakeConnector{client: &fakeAuthClient{}}
		issuer := token.New(connector, staticSecrets{}, "env:ADMIN", token.WithLogger(zerolog.Nop()))

		_, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
		var issueErr *token.CredentialIssuanceError
		require.ErrorAs(t, err, &issueErr)
		require.Equal(t, "load-admin-credential", issueErr.Op)
		require.Equal(t, int32(0), connector.handshakes.Load())
	})

	t.Run("generation refused", func(t *testing.T) {
		client := &fakeAuthClient{err: transport.NewError(transport.CodeQuotaExceeded, "slow down")}
		issuer := newIssuer(&fakeConnector{client: client})

		cred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
		require.Nil(t, cred)
		require.ErrorIs(t, err, token.ErrCredentialIssuance)
		require.ErrorIs(t, err, transport.ErrQuotaExceeded)
	})

	t.Run("secret echoed by generation is scrubbed", func(t *testing.T) {
		client := &fakeAuthClient{err: transport.NewError(transport.CodePermissionDenied, "key "+adminSecret+" lacks grant")}
		issuer := newIssuer(&fakeConnector{client: client})

		_, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
		require.ErrorIs(t, err, transport.ErrPermissionDenied)
		require.NotContains(t, err.Error(), adminSecret)
		for unwrapped := errors.Unwrap(err); unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
			require.NotContains(t, unwrapped.Error(), adminSecret)
		}
	})
}

func TestIssueToken_NeverLogsToken(t *testing.T) {
	var buf bytes.Buffer
	client := &fakeAuthClient{}
	issuer := token.New(&fakeConnector{client: client}, staticSecrets{"env:ADMIN": adminSecret}, "env:ADMIN",
		token.WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))

	cred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "user"})
	require.NoError(t, err)

	require.NotEmpty(t, buf.String())
	require.NotContains(t, buf.String(), cred.Token)
	require.NotContains(t, buf.String(), adminSecret)
	require.Contains(t, buf.String(), token.Fingerprint(cred.Token))
}

func TestIssueToken_AgainstBroker(t *testing.T) {
	b, err := broker.New(broker.WithEndpoint("ws://broker.test"), broker.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, b.RegisterAPIKey(adminSecret))

	issuer := newIssuer(b)
	cred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "alice"})
	require.NoError(t, err)
	require.Equal(t, "ws://broker.test", cred.Endpoint)

	sub, err := b.Subscribe(context.Background(), cred.Namespace, "lobby", cred.Token)
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), cred.Namespace, "lobby", cred.Token, []byte("hi")))

	item := <-sub.Items()
	require.Equal(t, "hi", string(item.Value))
	require.Equal(t, "alice", item.PublisherID)
	require.NoError(t, sub.Unsubscribe())
}

func TestCredential(t *testing.T) {
	now := time.Now()
	cred := token.DisposableCredential{Token: "abc", ExpiresAt: now.Add(time.Minute)}
	require.False(t, cred.Expired(now))
	require.True(t, cred.Expired(now.Add(time.Minute)))
	require.Empty(t, token.Fingerprint(""))
	require.Len(t, token.Fingerprint("abc"), 12)
}
