package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-chat-server/identity"
	"github.com/stretchr/testify/require"
)

const testSecret = "dev-secret"

func TestHMACVerifier(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := identity.NewHMACVerifier(testSecret, identity.WithNowFunc(func() time.Time { return now }))

	t.Run("valid token", func(t *testing.T) {
		raw, err := identity.SignHMAC(testSecret, identity.Identity{Subject: "user-1", Email: "a@example.com"}, time.Hour, now)
		require.NoError(t, err)

		id, err := v.Verify(context.Background(), raw)
		require.NoError(t, err)
		require.Equal(t, "user-1", id.Subject)
		require.Equal(t, "a@example.com", id.Email)
	})

	t.Run("wrong secret", func(t *testing.T) {
		raw, err := identity.SignHMAC("other", identity.Identity{Subject: "user-1"}, time.Hour, now)
		require.NoError(t, err)

		_, err = v.Verify(context.Background(), raw)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		raw, err := identity.SignHMAC(testSecret, identity.Identity{Subject: "user-1"}, time.Minute, now.Add(-time.Hour))
		require.NoError(t, err)

		_, err = v.Verify(context.Background(), raw)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		raw, err := identity.SignHMAC(testSecret, identity.Identity{}, time.Hour, now)
		require.NoError(t, err)

		_, err = v.Verify(context.Background(), raw)
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := v.Verify(context.Background(), "  ")
		require.ErrorIs(t, err, identity.ErrInvalidToken)
	})
}

func TestOIDCVerifier_RejectsGarbage(t *testing.T) {
	v := identity.NewOIDCVerifierFromKeySet("https://issuer.example.com", "client", &oidc.StaticKeySet{})

	_, err := v.Verify(context.Background(), "")
	require.ErrorIs(t, err, identity.ErrInvalidToken)

	_, err = v.Verify(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, identity.ErrInvalidToken)
}

func TestContext(t *testing.T) {
	_, ok := identity.FromContext(context.Background())
	require.False(t, ok)

	ctx := identity.NewContext(context.Background(), &identity.Identity{Subject: "user-1"})
	id, ok := identity.FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "user-1", id.Subject)
}
