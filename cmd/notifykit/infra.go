package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/broker/memdriver"
	"github.com/dmitrymomot/notifykit/pkg/broker/natsdriver"
	"github.com/dmitrymomot/notifykit/pkg/broker/redisdriver"
	"github.com/dmitrymomot/notifykit/pkg/cache"
	"github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/gateway"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/ratelimit"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

// infra holds the shared connections selected by configuration.
type infra struct {
	driver  broker.Driver
	cache   cache.Provider
	store   notifications.Storage
	redis   *goredis.Client
	checks  []httpserver.Check
	closers []func() error
}

func newInfra(ctx context.Context, cfg appConfig, log *slog.Logger) (*infra, error) {
	in := &infra{}

	var rdb *goredis.Client
	if cfg.usesRedis() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return in, fmt.Errorf("connect redis: %w", err)
		}
		rdb = client
		in.redis = client
		in.closers = append(in.closers, client.Close)
		in.checks = append(in.checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	}

	switch cfg.CacheDriver {
	case driverMemory, "":
		in.cache = cache.NewMemoryProvider(cfg.CacheCapacity)
	case driverRedis:
		in.cache = cache.NewRedisProvider(rdb, cache.WithPrefix(cfg.CachePrefix))
	default:
		return in, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
	in.closers = append(in.closers, in.cache.Close)

	switch cfg.Broker.Driver {
	case broker.DriverMemory, "":
		in.driver = memdriver.New()
	case broker.DriverRedis:
		in.driver = redisdriver.New(rdb,
			redisdriver.WithPrefix(cfg.CachePrefix+":broker"),
			redisdriver.WithLogger(log))
	case broker.DriverNATS:
		in.driver = natsdriver.New(cfg.Broker.URL,
			natsdriver.WithName("notifykit"),
			natsdriver.WithLogger(log))
	default:
		return in, fmt.Errorf("%w: %q", broker.ErrUnknownDriver, cfg.Broker.Driver)
	}

	switch cfg.StorageDriver {
	case driverMemory, "":
		in.store = notifications.NewMemoryStorage()
	case driverPostgres:
		pgCfg, err := config.Load[pg.Config]()
		if err != nil {
			return in, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return in, err
		}
		in.closers = append(in.closers, func() error { pool.Close(); return nil })
		if err := notifications.Migrate(ctx, pool, pgCfg, log); err != nil {
			return in, err
		}
		in.store = notifications.NewPostgresStorage(pool)
		in.checks = append(in.checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
	default:
		return in, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	return in, nil
}

// newRateLimit returns the create endpoint limiter, or nil when disabled.
// Buckets live in Redis when the cache does.
func newRateLimit(cfg appConfig, in *infra, log *slog.Logger) (func(http.Handler) http.Handler, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.CacheDriver == driverRedis && in.redis != nil {
		store = ratelimit.NewRedisStore(in.redis, cfg.CachePrefix+":ratelimit")
	}
	l, err := ratelimit.New(store, cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	return ratelimit.Middleware(l, ratelimit.ByClientIP("create"), ratelimit.WithLogger(log)), nil
}

// newDispatcher registers a sender for every configured channel that can be
// served. sms and push without a relay URL are dropped with a warning.
func newDispatcher(cfg appConfig, store notifications.Storage, gw *gateway.Gateway, log *slog.Logger) (*notifications.Dispatcher, []string, error) {
	opts := []notifications.DispatcherOption{notifications.WithDispatcherLogger(log)}
	relay := webhook.NewSender(
		webhook.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		webhook.WithUserAgent("notifykit"))
	relayOpts := []webhook.SendOption{webhook.WithRetry(cfg.RelayRetries, time.Second)}
	if cfg.RelaySecret != "" {
		relayOpts = append(relayOpts, webhook.WithSignature(cfg.RelaySecret))
	}

	var channels []string
	for _, name := range cfg.Notifications.Channels {
		ch, err := notifications.ParseDeliveryType(name)
		if err != nil {
			return nil, nil, err
		}
		var sender notifications.Sender
		switch ch {
		case notifications.DeliveryInApp:
			sender = notifications.NewInAppSender(gw, gateway.DefaultNamespace)
		case notifications.DeliveryEmail:
			es, err := email.NewSender(cfg.Email, log)
			if err != nil {
				return nil, nil, err
			}
			sender = notifications.NewEmailSender(es, notifications.DataAddressBook)
		case notifications.DeliverySMS, notifications.DeliveryPush:
			url := cfg.SMSRelayURL
			if ch == notifications.DeliveryPush {
				url = cfg.PushRelayURL
			}
			if url == "" {
				log.Warn("channel disabled, no relay url configured", logger.Channel(string(ch)))
				continue
			}
			cb := webhook.NewCircuitBreaker(0, 0, 0)
			sender = notifications.NewRelaySender(ch, url, relay, notifications.DataAddressBook,
				slices.Concat(relayOpts, []webhook.SendOption{webhook.WithCircuitBreaker(cb)})...)
		default:
			continue
		}
		opts = append(opts, notifications.WithSender(ch, sender))
		channels = append(channels, string(ch))
	}
	return notifications.NewDispatcher(store, opts...), channels, nil
}
