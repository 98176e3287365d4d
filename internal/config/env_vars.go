package config

import (
	"fmt"
	"strings"
)

type EnvVars struct {
	Port          string `env:"PORT,default=8080"`
	AppName       string `env:"APP_NAME,default=Chat Server"`
	Env           string `env:"ENV,default=dev"`
	LogLevel      string `env:"LOG_LEVEL"`
	LogFormat     string `env:"LOG_FORMAT,default=console" validate:"oneof=console json"`
	StorageDriver string `env:"STORAGE_DRIVER,default=memory" validate:"oneof=memory badger"`
	DataFolder    string `env:"DATA_FOLDER,default=./data"`
}

var (
	_ EnvConfig     = EnvVars{}
	_ StorageConfig = EnvVars{}
)

func (e EnvVars) GetPort() string {
	port := e.Port
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return e.Env
}

func (e EnvVars) IsProduction() bool {
	return strings.EqualFold(e.Env, "prod")
}

// GetLogLevel defaults to debug outside production and info in production.
func (e EnvVars) GetLogLevel() string {
	if e.LogLevel != "" {
		return e.LogLevel
	}
	if e.IsProduction() {
		return "info"
	}
	return "debug"
}

func (e EnvVars) GetLogFormat() string {
	return e.LogFormat
}

func (e EnvVars) GetStorageDriver() string {
	return e.StorageDriver
}

func (e EnvVars) GetDataFolder() string {
	return e.DataFolder
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
