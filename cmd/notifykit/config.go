package main

import (
	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/compress"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/gateway"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/ratelimit"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/worker"
)

// Storage and cache drivers.
const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverRedis    = "redis"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`
	CacheDriver   string `env:"CACHE_DRIVER" envDefault:"memory"`
	CacheCapacity int    `env:"CACHE_CAPACITY" envDefault:"10000"`
	CachePrefix   string `env:"CACHE_PREFIX" envDefault:"notifykit"`

	// sms and push are delivered through signed webhooks to these gateways.
	SMSRelayURL    string   `env:"SMS_RELAY_URL"`
	PushRelayURL   string   `env:"PUSH_RELAY_URL"`
	RelaySecret    string   `env:"RELAY_SIGNING_SECRET"`
	RelayRetries   int      `env:"RELAY_RETRIES" envDefault:"2"`
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS"`
	TrustedHeaders []string `env:"TRUSTED_IP_HEADERS" envDefault:"X-Forwarded-For,X-Real-IP"`

	HTTP          httpserver.Config
	Broker        broker.Config
	Compression   compress.Config
	Gateway       gateway.Config
	Email         email.Config
	Redis         redis.Config
	Worker        worker.Config
	Notifications notifications.Config
	RateLimit     ratelimit.Config
}

func (c appConfig) usesRedis() bool {
	return c.CacheDriver == driverRedis || c.Broker.Driver == broker.DriverRedis
}
