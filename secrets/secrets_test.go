package secrets_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/jrsteele09/go-chat-server/secrets"
	"github.com/stretchr/testify/require"
)

func TestResolver_Env(t *testing.T) {
	env := map[string]string{"ADMIN_KEY": "  s3cr3t\n", "EMPTY": ""}
	r := secrets.NewResolver(secrets.WithLookupEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	v, err := r.Resolve(context.Background(), "env:ADMIN_KEY")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", v)

	_, err = r.Resolve(context.Background(), "env:MISSING")
	require.ErrorIs(t, err, secrets.ErrNotFound)

	_, err = r.Resolve(context.Background(), "env:EMPTY")
	require.ErrorIs(t, err, secrets.ErrNotFound)
}

func TestResolver_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin-key")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0o600))

	v, err := secrets.NewResolver().Resolve(context.Background(), "file:"+path)
	require.NoError(t, err)
	require.Equal(t, "file-secret", v)
}

func TestResolver_Age(t *testing.T) {
	dir := t.TempDir()
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	identityPath := filepath.Join(dir, "identity.txt")
	require.NoError(t, os.WriteFile(identityPath, []byte(id.String()+"\n"), 0o600))

	sealed, err := secrets.Seal("age-secret", id.Recipient().String())
	require.NoError(t, err)
	secretPath := filepath.Join(dir, "admin-key.age")
	require.NoError(t, os.WriteFile(secretPath, sealed, 0o600))

	t.Run("decrypts", func(t *testing.T) {
		r := secrets.NewResolver(secrets.WithAgeIdentityFile(identityPath))
		v, err := r.Resolve(context.Background(), "age:"+secretPath)
		require.NoError(t, err)
		require.Equal(t, "age-secret", v)
	})

	t.Run("identity not configured", func(t *testing.T) {
		_, err := secrets.NewResolver().Resolve(context.Background(), "age:"+secretPath)
		require.ErrorIs(t, err, secrets.ErrInvalidReference)
	})
}

func TestResolver_InvalidReference(t *testing.T) {
	r := secrets.NewResolver()
	for _, ref := range []string{"", "plain-value", "env:", "vault:path"} {
		_, err := r.Resolve(context.Background(), ref)
		require.ErrorIs(t, err, secrets.ErrInvalidReference, ref)
	}
}

func TestResolver_ErrorsNeverContainValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.age")
	require.NoError(t, os.WriteFile(path, []byte("super-secret-plaintext"), 0o600))
	identityPath := filepath.Join(t.TempDir(), "identity.txt")
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(identityPath, []byte(id.String()), 0o600))

	_, err = secrets.NewResolver(secrets.WithAgeIdentityFile(identityPath)).Resolve(context.Background(), "age:"+path)
	require.Error(t, err)
	require.NotContains(t, err.Error(), "super-secret-plaintext")
}
