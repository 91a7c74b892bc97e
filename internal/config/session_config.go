package config

import "time"

type SessionConfig interface {
	GetRefreshLeadTime() time.Duration
	GetRefreshMaxRetries() int
	GetRetryBaseDelay() time.Duration
	GetRetryMaxDelay() time.Duration
	GetDefaultRole() string
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRefreshLeadTime() time.Duration {
	return GetEnvDuration("FIDS_REFRESH_LEAD_TIME", 5*time.Minute)
}

func (Session) GetRefreshMaxRetries() int {
	return GetEnvInt("FIDS_REFRESH_MAX_RETRIES", 2)
}

func (Session) GetRetryBaseDelay() time.Duration {
	return GetEnvDuration("FIDS_RETRY_BASE_DELAY", 1*time.Second)
}

func (Session) GetRetryMaxDelay() time.Duration {
	return GetEnvDuration("FIDS_RETRY_MAX_DELAY", 5*time.Second)
}

func (Session) GetDefaultRole() string {
	return GetEnv("FIDS_DEFAULT_ROLE", "ROLE_USER")
}
