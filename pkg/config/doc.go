// Package config loads notifykit configuration from environment variables.
//
// Structs describe their settings with `env` / `envDefault` tags and are
// parsed by github.com/caarlos0/env/v11. An optional .env file in the working
// directory (or any files passed to LoadEnv) is read first with
// github.com/joho/godotenv; variables already present in the process
// environment win.
//
// Unlike a process-wide cache, Load returns a freshly parsed value on every
// call, so the composition root decides where configuration lives.
//
//	type Config struct {
//	    BrokerURL string `env:"BROKER_URL" envDefault:"memory://"`
//	}
//
//	cfg, err := config.Load[Config]()
//
// Source is the narrow read-only lookup used by components that only need a
// handful of keys with defaults.
package config
