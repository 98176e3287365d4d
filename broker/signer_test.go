package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-chat-server/broker"
	"github.com/jrsteele09/go-chat-server/scope"
	"github.com/jrsteele09/go-chat-server/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestECDSASigner(t *testing.T) {
	signer, err := broker.GenerateECDSASigner("key-1")
	require.NoError(t, err)

	pemData, err := signer.ExportPrivateKeyPEM()
	require.NoError(t, err)
	reloaded, err := broker.ParseECDSASigner("key-1", pemData)
	require.NoError(t, err)

	issuing := newBroker(t, broker.WithSigner(signer))
	verifying := newBroker(t, broker.WithSigner(reloaded))

	tok := issue(t, issuing, scope.TopicPublishSubscribe("chat", scope.AllTopics, time.Hour), "alice")
	sub, err := verifying.Subscribe(context.Background(), "chat", "lobby", tok.AuthToken)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	t.Run("hmac broker rejects ecdsa token", func(t *testing.T) {
		hb := newBroker(t)
		_, err := hb.Subscribe(context.Background(), "chat", "lobby", tok.AuthToken)
		require.ErrorIs(t, err, transport.ErrInvalidToken)
	})

	t.Run("invalid pem", func(t *testing.T) {
		_, err := broker.ParseECDSASigner("key-1", []byte("not pem"))
		require.Error(t, err)
	})
}

func TestNew_GeneratesSigningKey(t *testing.T) {
	a, err := broker.New(broker.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, a.RegisterAPIKey(adminKey))
	b := newBroker(t)

	tok := issue(t, a, scope.TopicPublishSubscribe("chat", scope.AllTopics, time.Hour), "alice")
	_, err = b.Subscribe(context.Background(), "chat", "lobby", tok.AuthToken)
	require.ErrorIs(t, err, transport.ErrInvalidToken)
}
