package config

import (
	"os"
	"strconv"
	"time"
)

const (
	authURLVar    = "FIDS_AUTH_URL"
	userURLVar    = "FIDS_USER_URL"
	timeoutVar    = "FIDS_REQUEST_TIMEOUT"
	storeDirVar   = "FIDS_STORE_DIR"
	passphraseVar = "FIDS_STORE_PASSPHRASE"
)

type EndpointConfig interface {
	GetAuthBaseURL() string
	GetUserBaseURL() string
	GetRequestTimeout() time.Duration
}

type Endpoints struct{}

var _ EndpointConfig = Endpoints{}

func (Endpoints) GetAuthBaseURL() string {
	return GetEnv(authURLVar, "http://localhost:8222/api/v1/auth")
}

func (Endpoints) GetUserBaseURL() string {
	return GetEnv(userURLVar, "http://localhost:8222/api/v1/users")
}

func (Endpoints) GetRequestTimeout() time.Duration {
	return GetEnvDuration(timeoutVar, 15*time.Second)
}

type StoreConfig interface {
	GetStoreDir() string
	GetStorePassphrase() string
}

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStoreDir() string {
	if dir := os.Getenv(storeDirVar); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fids"
	}
	return home + "/.fids"
}

func (Store) GetStorePassphrase() string {
	return GetEnv(passphraseVar, "")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func GetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
