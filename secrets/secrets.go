// Package secrets resolves deploy-time secret references such as "env:CHAT_ADMIN_API_KEY",
// "file:/run/secrets/admin-key" or "age:/etc/chat/admin-key.age". Resolved values are never
// included in returned errors.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
)

var (
	ErrInvalidReference = errors.New("invalid secret reference")
	ErrNotFound         = errors.New("secret not found")
)

const (
	SchemeEnv  = "env"
	SchemeFile = "file"
	SchemeAge  = "age"
)

// Resolver turns a secret reference into its value.
type Resolver struct {
	lookupEnv       func(string) (string, bool)
	readFile        func(string) ([]byte, error)
	ageIdentityFile string
}

type Option func(*Resolver)

// WithAgeIdentityFile sets the age identity file used to decrypt "age:" references.
func WithAgeIdentityFile(path string) Option {
	return func(r *Resolver) {
		r.ageIdentityFile = path
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) {
		r.lookupEnv = fn
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ParseReference splits "scheme:location".
func ParseReference(ref string) (scheme, location string, err error) {
	scheme, location, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok || scheme == "" || strings.TrimSpace(location) == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return scheme, strings.TrimSpace(location), nil
}

func (r *Resolver) Resolve(_ context.Context, ref string) (string, error) {
	scheme, location, err := ParseReference(ref)
	if err != nil {
		return "", err
	}

	var value string
	switch scheme {
	case SchemeEnv:
		v, ok := r.lookupEnv(location)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrNotFound, location)
		}
		value = v
	case SchemeFile:
		data, err := r.readFile(location)
		if err != nil {
			return "", fmt.Errorf("%w: reading %s: %v", ErrNotFound, location, err)
		}
		value = string(data)
	case SchemeAge:
		value, err = r.resolveAge(location)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", ErrInvalidReference, scheme)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s reference %s is empty", ErrNotFound, scheme, location)
	}
	return value, nil
}

func (r *Resolver) resolveAge(location string) (string, error) {
	if r.ageIdentityFile == "" {
		return "", fmt.Errorf("%w: age identity file not configured", ErrInvalidReference)
	}
	identityData, err := r.readFile(r.ageIdentityFile)
	if err != nil {
		return "", fmt.Errorf("reading age identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(identityData))
	if err != nil {
		return "", fmt.Errorf("parsing age identities: %w", err)
	}

	ciphertext, err := r.readFile(location)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrNotFound, location, err)
	}
	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", location, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading decrypted %s: %w", location, err)
	}
	return string(plaintext), nil
}

// Seal encrypts a secret value to the given age recipients, producing the file content an
// "age:" reference points at.
func Seal(value string, recipientKeys ...string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var buf bytes.Buffer
	writer, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := io.WriteString(writer, value); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}
