package broker

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer signs disposable tokens and supplies the key that verifies them
type Signer interface {
	Sign(claims jwt.Claims) (string, error)

	// VerificationKey is used as the jwt.Keyfunc when a token comes back
	VerificationKey(token *jwt.Token) (any, error)

	Method() jwt.SigningMethod
}

// HMACSigner signs with a shared secret. All broker instances must share it.
type HMACSigner struct {
	secret []byte
}

func NewHMACSigner(secret []byte) *HMACSigner {
	return &HMACSigner{secret: secret}
}

func (h *HMACSigner) Sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signed, nil
}

func (h *HMACSigner) VerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACSigner) Method() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

// ECDSASigner signs with a P-256 private key (ES256).
type ECDSASigner struct {
	keyID string
	key   *ecdsa.PrivateKey
}

// GenerateECDSASigner creates a signer with a fresh P-256 key.
func GenerateECDSASigner(keyID string) (*ECDSASigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ECDSA key")
	}
	return &ECDSASigner{keyID: keyID, key: key}, nil
}

// ParseECDSASigner loads a PEM encoded EC or PKCS8 private key.
func ParseECDSASigner(keyID string, pemData []byte) (*ECDSASigner, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return &ECDSASigner{keyID: keyID, key: key}, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not ECDSA")
	}
	return &ECDSASigner{keyID: keyID, key: key}, nil
}

func (e *ECDSASigner) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = e.keyID
	signed, err := token.SignedString(e.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with ECDSA")
	}
	return signed, nil
}

func (e *ECDSASigner) VerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &e.key.PublicKey, nil
}

func (e *ECDSASigner) Method() jwt.SigningMethod {
	return jwt.SigningMethodES256
}

// ExportPrivateKeyPEM returns the key in the form accepted by ParseECDSASigner.
func (e *ECDSASigner) ExportPrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(e.key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal ECDSA private key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
