package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/config"
)

type brokerConfig struct {
	URL               string        `env:"TEST_BROKER_URL" envDefault:"memory://"`
	ReconnectInterval time.Duration `env:"TEST_BROKER_RECONNECT" envDefault:"5s"`
	Queues            []string      `env:"TEST_BROKER_QUEUES" envSeparator:","`
}

type requiredConfig struct {
	Token string `env:"TEST_REQUIRED_TOKEN,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := config.Load[brokerConfig]()
		require.NoError(t, err)
		assert.Equal(t, "memory://", cfg.URL)
		assert.Equal(t, 5*time.Second, cfg.ReconnectInterval)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("TEST_BROKER_URL", "redis://localhost:6379/0")
		t.Setenv("TEST_BROKER_QUEUES", "a,b")

		cfg, err := config.Load[brokerConfig]()
		require.NoError(t, err)
		assert.Equal(t, "redis://localhost:6379/0", cfg.URL)
		assert.Equal(t, []string{"a", "b"}, cfg.Queues)
	})

	t.Run("no caching between calls", func(t *testing.T) {
		t.Setenv("TEST_BROKER_URL", "nats://one")
		first, err := config.Load[brokerConfig]()
		require.NoError(t, err)

		t.Setenv("TEST_BROKER_URL", "nats://two")
		second, err := config.Load[brokerConfig]()
		require.NoError(t, err)

		assert.Equal(t, "nats://one", first.URL)
		assert.Equal(t, "nats://two", second.URL)
	})

	t.Run("prefix option", func(t *testing.T) {
		t.Setenv("APP_TEST_BROKER_URL", "memory://prefixed")
		cfg, err := config.Load[brokerConfig](env.Options{Prefix: "APP_"})
		require.NoError(t, err)
		assert.Equal(t, "memory://prefixed", cfg.URL)
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := config.Load[requiredConfig]()
		assert.ErrorIs(t, err, config.ErrParsingConfig)
		assert.Panics(t, func() { config.MustLoad[requiredConfig]() })
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("TEST_REQUIRED_TOKEN=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TEST_REQUIRED_TOKEN") })

	require.NoError(t, config.LoadEnv(path))
	cfg, err := config.Load[requiredConfig]()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Token)

	assert.ErrorIs(t, config.LoadEnv(filepath.Join(dir, "missing.env")), config.ErrLoadingEnvFile)
}

func TestSource(t *testing.T) {
	t.Setenv("TEST_SOURCE_KEY", "value")
	t.Setenv("TEST_SOURCE_BLANK", " ")

	src := config.Env()
	assert.Equal(t, "value", src.Get("TEST_SOURCE_KEY", "def"))
	assert.Equal(t, "def", src.Get("TEST_SOURCE_BLANK", "def"))
	assert.Equal(t, "def", src.Get("TEST_SOURCE_MISSING", "def"))

	m := config.Map(map[string]string{"k": "v"})
	assert.Equal(t, "v", m.Get("k", "x"))
	assert.Equal(t, "x", m.Get("other", "x"))
}
