package config

type SecurityConfig interface {
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetAuthJWTSecretRef() string
	GetTokenRatePerMinute() float64
	GetTokenRateBurst() int
}

type Security struct {
	OIDCIssuer         string  `env:"OIDC_ISSUER"`
	OIDCClientID       string  `env:"OIDC_CLIENT_ID"`
	AuthJWTSecretRef   string  `env:"AUTH_JWT_SECRET_REF"`
	TokenRatePerMinute float64 `env:"TOKEN_RATE_PER_MINUTE,default=30" validate:"gte=0"`
	TokenRateBurst     int     `env:"TOKEN_RATE_BURST,default=5" validate:"gte=0"`
}

var _ SecurityConfig = Security{}

// GetOIDCIssuer enables OIDC identity verification when set, e.g. a Cognito user pool URL.
func (s Security) GetOIDCIssuer() string {
	return s.OIDCIssuer
}

func (s Security) GetOIDCClientID() string {
	return s.OIDCClientID
}

// GetAuthJWTSecretRef is the secrets reference of the HS256 key used when no OIDC issuer is set.
func (s Security) GetAuthJWTSecretRef() string {
	return s.AuthJWTSecretRef
}

// GetTokenRatePerMinute limits GET /token per caller. Zero disables the limit.
func (s Security) GetTokenRatePerMinute() float64 {
	return s.TokenRatePerMinute
}

func (s Security) GetTokenRateBurst() int {
	return s.TokenRateBurst
}
