package config

import (
	"fmt"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type Config interface {
	EnvConfig
	CorsConfig
	MessagingConfig
	SecurityConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	IsProduction() bool
	GetLogLevel() string
	GetLogFormat() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type StorageConfig interface {
	GetStorageDriver() string
	GetDataFolder() string
}

type mainConfig struct {
	EnvVars
	Cors
	Messaging
	Security
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var c mainConfig
	if _, err := env.UnmarshalFromEnviron(&c); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}
