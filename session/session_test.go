package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-server/broker"
	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/jrsteele09/go-chat-server/secrets"
	"github.com/jrsteele09/go-chat-server/session"
	"github.com/jrsteele09/go-chat-server/token"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	items        chan transport.Item
	unsubscribes atomic.Int32
	once         sync.Once
	mu           sync.Mutex
	err          error
}

func newFakeSub() *fakeSub {
	return &fakeSub{items: make(chan transport.Item, 8)}
}

func (f *fakeSub) Items() <-chan transport.Item { return f.items }

func (f *fakeSub) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSub) Unsubscribe() error {
	f.unsubscribes.Add(1)
	f.end(nil)
	return nil
}

func (f *fakeSub) end(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.items)
	})
}

type fakeClient struct {
	sub        *fakeSub
	err        error
	gate       chan struct{}
	subscribes atomic.Int32
	published  chan []byte
}

func (f *fakeClient) Subscribe(ctx context.Context, _, _, _ string) (transport.Subscription, error) {
	f.subscribes.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func (f *fakeClient) Publish(_ context.Context, _, _, _ string, payload []byte) error {
	if f.published != nil {
		f.published <- payload
	}
	return nil
}

func validCredential() token.DisposableCredential {
	now := time.Now()
	return token.DisposableCredential{
		Endpoint:  "ws://broker.test",
		Token:     "disposable",
		Namespace: "chat",
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
}

func newSession(client transport.TopicClient, cred token.DisposableCredential) *session.Session {
	return session.New(client, cred, "chat", "lobby", session.WithLogger(zerolog.Nop()))
}

func TestSession_Lifecycle(t *testing.T) {
	sub := newFakeSub()
	client := &fakeClient{sub: sub, published: make(chan []byte, 1)}
	s := newSession(client, validCredential())
	require.Equal(t, session.StateConnecting, s.State())

	t.Run("send before subscribe", func(t *testing.T) {
		err := s.Send(context.Background(), []byte("early"))
		var pubErr *session.PublishError
		require.ErrorAs(t, err, &pubErr)
		require.ErrorIs(t, err, session.ErrNotSubscribed)
	})

	require.NoError(t, s.Connect(context.Background()))
	require.Equal(t, session.StateSubscribed, s.State())
	require.ErrorIs(t, s.Connect(context.Background()), session.ErrAlreadyOpened)

	sub.items <- transport.Item{Topic: "lobby", Value: []byte("a"), Sequence: 1}
	sub.items <- transport.Item{Topic: "lobby", Value: []byte("b"), Sequence: 2}
	require.Equal(t, "a", string((<-s.Messages()).Payload))
	require.Equal(t, "b", string((<-s.Messages()).Payload))

	require.NoError(t, s.Send(context.Background(), []byte("hello")))
	require.Equal(t, "hello", string(<-client.published))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, session.StateClosed, s.State())
	require.Equal(t, int32(1), sub.unsubscribes.Load())
	require.NoError(t, s.Err())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("done was not closed")
	}
	require.Eventually(t, func() bool {
		select {
		case _, open := <-s.Messages():
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	err := s.Send(context.Background(), []byte("late"))
	require.ErrorIs(t, err, session.ErrNotSubscribed)
}

func TestSession_SubscribeFails(t *testing.T) {
	client := &fakeClient{err: transport.NewError(transport.CodePermissionDenied, "no")}
	s := newSession(client, validCredential())

	err := s.Connect(context.Background())
	var subErr *session.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	require.ErrorIs(t, err, transport.ErrPermissionDenied)
	require.Equal(t, session.StateFailed, s.State())
	require.ErrorIs(t, s.Err(), transport.ErrPermissionDenied)

	require.ErrorIs(t, s.Connect(context.Background()), session.ErrAlreadyOpened)
	require.Equal(t, session.StateFailed, s.State())
	require.NoError(t, s.Close())
	require.Equal(t, session.StateFailed, s.State())

	_, open := <-s.Messages()
	require.False(t, open)
}

func TestSession_ExpiredCredential(t *testing.T) {
	client := &fakeClient{sub: newFakeSub()}
	cred := validCredential()
	cred.ExpiresAt = time.Now().Add(-time.Second)

	s := newSession(client, cred)
	err := s.Connect(context.Background())
	require.ErrorIs(t, err, transport.ErrTokenExpired)
	require.Equal(t, session.StateFailed, s.State())
	require.Equal(t, int32(0), client.subscribes.Load())
}

func TestSession_CloseDuringConnect(t *testing.T) {
	sub := newFakeSub()
	client := &fakeClient{sub: sub, gate: make(chan struct{})}
	s := newSession(client, validCredential())

	connectErr := make(chan error, 1)
	go func() { connectErr <- s.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return client.subscribes.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, session.StateConnecting, s.State())
	select {
	case <-s.Done():
		t.Fatal("session ended before subscribe settled")
	default:
	}

	close(client.gate)
	require.ErrorIs(t, <-connectErr, session.ErrSessionClosed)
	require.Equal(t, session.StateClosed, s.State())
	require.Equal(t, int32(1), sub.unsubscribes.Load())
	<-s.Done()

	require.NoError(t, s.Close())
	require.Equal(t, int32(1), sub.unsubscribes.Load())
	_, open := <-s.Messages()
	require.False(t, open)
}

func TestSession_CloseBeforeConnect(t *testing.T) {
	client := &fakeClient{sub: newFakeSub()}
	s := newSession(client, validCredential())

	require.NoError(t, s.Close())
	require.ErrorIs(t, s.Connect(context.Background()), session.ErrSessionClosed)
	require.Equal(t, int32(0), client.subscribes.Load())
}

func TestSession_TransportEndsSubscription(t *testing.T) {
	sub := newFakeSub()
	s := newSession(&fakeClient{sub: sub}, validCredential())
	require.NoError(t, s.Connect(context.Background()))

	sub.items <- transport.Item{Value: []byte("last")}
	sub.end(transport.NewError(transport.CodeSlowConsumer, "behind"))

	require.Equal(t, "last", string((<-s.Messages()).Payload))
	<-s.Done()
	require.Equal(t, session.StateFailed, s.State())
	require.ErrorIs(t, s.Err(), transport.ErrSlowConsumer)

	require.NoError(t, s.Close())
	require.Equal(t, session.StateFailed, s.State())
}

func newBrokerIssuer(t *testing.T, ttl time.Duration) (*broker.Broker, *token.Issuer) {
	t.Helper()
	b, err := broker.New(broker.WithEndpoint("ws://broker.test"), broker.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, b.RegisterAPIKey("admin-key"))
	t.Cleanup(func() { _ = b.Close() })

	resolver := secrets.NewResolver(secrets.WithLookupEnv(func(string) (string, bool) { return "admin-key", true }))
	issuer := token.New(b, resolver, "env:CHAT_ADMIN_API_KEY", token.WithTTL(ttl), token.WithLogger(zerolog.Nop()))
	return b, issuer
}

func TestSession_RoundTripOverBroker(t *testing.T) {
	b, issuer := newBrokerIssuer(t, 30*time.Minute)

	aliceCred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "alice"})
	require.NoError(t, err)
	bobCred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "bob"})
	require.NoError(t, err)

	alice, err := session.Open(context.Background(), b, *aliceCred, aliceCred.Namespace, "lobby", session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer alice.Close()
	bob, err := session.Open(context.Background(), b, *bobCred, bobCred.Namespace, "lobby", session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer bob.Close()

	for _, m := range []string{"hi", "how are you", "bye"} {
		require.NoError(t, alice.Send(context.Background(), []byte(m)))
	}

	for _, want := range []string{"hi", "how are you", "bye"} {
		select {
		case msg := <-bob.Messages():
			require.Equal(t, want, string(msg.Payload))
			require.Equal(t, "alice", msg.PublisherID)
		case <-time.After(time.Second):
			t.Fatalf("bob did not receive %q", want)
		}
	}

	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return b.Subscribers("chat", "lobby") == 1 }, time.Second, 10*time.Millisecond)
}

func TestSession_FailsWhenCredentialExpires(t *testing.T) {
	b, issuer := newBrokerIssuer(t, 2*time.Second)
	cred, err := issuer.IssueToken(context.Background(), identity.Identity{Subject: "alice"})
	require.NoError(t, err)

	s, err := session.Open(context.Background(), b, *cred, cred.Namespace, "lobby", session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.State() == session.StateFailed }, 5*time.Second, 20*time.Millisecond)
	require.ErrorIs(t, s.Err(), transport.ErrTokenExpired)
	var subErr *session.SubscriptionError
	require.ErrorAs(t, s.Err(), &subErr)
}
