package worker

import "time"

// Config holds per-worker defaults loaded from the environment.
type Config struct {
	MaxRetries  int           `env:"WORKER_MAX_RETRIES" envDefault:"3"`
	BaseDelay   time.Duration `env:"WORKER_BASE_DELAY" envDefault:"1s"`
	Concurrency int           `env:"WORKER_CONCURRENCY" envDefault:"1"`
	AutoStart   bool          `env:"WORKER_AUTO_START" envDefault:"true"`
}
