package redis

import "time"

// Config describes how to reach Redis. Used by the cache provider and the
// Redis streams broker driver.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"5"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"500ms"` // base delay, doubled per attempt
	MaxRetryDelay  time.Duration `env:"REDIS_MAX_RETRY_DELAY" envDefault:"10s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}
