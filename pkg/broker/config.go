package broker

import "time"

// Driver names accepted by Config.Driver.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverNATS   = "nats"
)

// Config holds broker settings loaded from the environment.
type Config struct {
	Driver            string        `env:"BROKER_DRIVER" envDefault:"memory"`
	URL               string        `env:"BROKER_URL"`
	ReconnectInterval time.Duration `env:"BROKER_RECONNECT_INTERVAL" envDefault:"5s"`
	MaxReconnectDelay time.Duration `env:"BROKER_MAX_RECONNECT_DELAY" envDefault:"1m"`
	Prefetch          int           `env:"BROKER_PREFETCH" envDefault:"10"`
}
