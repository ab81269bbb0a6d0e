package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// LoadEnv reads the given .env files into the process environment without
// overriding variables that are already set. Missing files are an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return errors.Join(ErrLoadingEnvFile, err)
	}
	return nil
}

// Load parses environment variables into a new T. The default .env file is
// read once per process; its absence is not an error.
func Load[T any](opts ...env.Options) (T, error) {
	defaultEnvLoaded.Do(func() {
		_ = godotenv.Load()
	})

	var (
		cfg T
		err error
	)
	if len(opts) > 0 {
		err = env.ParseWithOptions(&cfg, opts[0])
	} else {
		err = env.Parse(&cfg)
	}
	if err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](opts ...env.Options) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}

// Source is a read-only key lookup with defaults.
type Source interface {
	Get(key, def string) string
}

// SourceFunc adapts a plain function to Source.
type SourceFunc func(key, def string) string

func (f SourceFunc) Get(key, def string) string { return f(key, def) }

// Env returns a Source backed by the process environment. Blank values fall
// back to the default.
func Env() Source {
	return SourceFunc(func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return v
		}
		return def
	})
}

// Map returns a Source backed by a fixed map; used in tests and for overrides.
func Map(values map[string]string) Source {
	return SourceFunc(func(key, def string) string {
		if v, ok := values[key]; ok {
			return v
		}
		return def
	})
}
