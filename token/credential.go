package token

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog"
)

// DisposableCredential is a short-lived bearer credential handed to exactly one caller. It is never
// persisted server-side.
type DisposableCredential struct {
	Endpoint  string    `json:"endpoint"`  // Transport address to use with Token
	Token     string    `json:"token"`     // Opaque bearer string, never logged
	Namespace string    `json:"namespace"` // Messaging namespace the token is scoped to
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the transport will no longer honour the credential at now.
func (c DisposableCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// MarshalZerologObject logs the credential with its token reduced to a fingerprint.
func (c DisposableCredential) MarshalZerologObject(e *zerolog.Event) {
	e.Str("endpoint", c.Endpoint).
		Str("namespace", c.Namespace).
		Str("token_fingerprint", Fingerprint(c.Token)).
		Time("expires_at", c.ExpiresAt)
}

// Fingerprint identifies a token in logs without revealing it.
func Fingerprint(raw string) string {
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:6])
}
