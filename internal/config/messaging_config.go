package config

import "time"

type MessagingConfig interface {
	GetNamespace() string
	GetTokenTTL() time.Duration
	GetAdminCredentialRef() string
	GetAgeIdentityFile() string
	GetPublicEndpoint() string
	GetBrokerSigningKeyRef() string
	GetBrokerAdminKeyHash() string
	GetSubscriberBuffer() int
	GetKafkaBrokers() []string
	GetKafkaTopic() string
}

type Messaging struct {
	Namespace           string `env:"NAMESPACE_NAME,default=chat" validate:"required"`
	TokenTTLMinutes     int    `env:"TOKEN_TTL_MINUTES,default=30" validate:"gt=0"`
	AdminCredentialRef  string `env:"ADMIN_CREDENTIAL_SECRET_REF,default=env:CHAT_ADMIN_API_KEY" validate:"required"`
	AgeIdentityFile     string `env:"AGE_IDENTITY_FILE"`
	PublicEndpoint      string `env:"PUBLIC_ENDPOINT"`
	BrokerSigningKeyRef string `env:"BROKER_SIGNING_KEY_REF"`
	BrokerAdminKeyHash  string `env:"BROKER_ADMIN_KEY_HASH"`
	SubscriberBuffer    int    `env:"SUBSCRIBER_BUFFER,default=64" validate:"gt=0"`
	KafkaBrokers        string `env:"KAFKA_BROKERS"`
	KafkaTopic          string `env:"KAFKA_TOPIC,default=chat-events"`
}

var _ MessagingConfig = Messaging{}

func (m Messaging) GetNamespace() string {
	return m.Namespace
}

func (m Messaging) GetTokenTTL() time.Duration {
	return time.Duration(m.TokenTTLMinutes) * time.Minute
}

// GetAdminCredentialRef is a secrets reference (env:, file: or age:), never the key itself.
func (m Messaging) GetAdminCredentialRef() string {
	return m.AdminCredentialRef
}

func (m Messaging) GetAgeIdentityFile() string {
	return m.AgeIdentityFile
}

// GetPublicEndpoint is the transport address handed out with credentials. Empty means derive it
// from the listen port.
func (m Messaging) GetPublicEndpoint() string {
	return m.PublicEndpoint
}

func (m Messaging) GetBrokerSigningKeyRef() string {
	return m.BrokerSigningKeyRef
}

func (m Messaging) GetBrokerAdminKeyHash() string {
	return m.BrokerAdminKeyHash
}

func (m Messaging) GetSubscriberBuffer() int {
	return m.SubscriberBuffer
}

// GetKafkaBrokers is empty when fan-out stays in process.
func (m Messaging) GetKafkaBrokers() []string {
	return splitList(m.KafkaBrokers)
}

func (m Messaging) GetKafkaTopic() string {
	return m.KafkaTopic
}
