package config

type Config interface {
	EndpointConfig
	SessionConfig
	StoreConfig
}

type mainConfig struct {
	Endpoints
	Session
	Store
}

func New() Config {
	return mainConfig{}
}
