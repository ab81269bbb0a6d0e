// Command notifykit runs the notification service: the HTTP API, the
// WebSocket gateway and the per-channel delivery workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/clientip"
	"github.com/dmitrymomot/notifykit/pkg/compress"
	"github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/gateway"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/requestid"
	"github.com/dmitrymomot/notifykit/pkg/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load[appConfig]()
	if err != nil {
		return err
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, "notifykit"),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var closers []func() error
	defer func() {
		for _, c := range slices.Backward(closers) {
			if err := c(); err != nil {
				log.Warn("close failed", logger.Error(err))
			}
		}
	}()

	deps, err := newInfra(ctx, cfg, log)
	closers = append(closers, deps.closers...)
	if err != nil {
		return err
	}

	codec := compress.New(cfg.Compression, compress.WithLogger(log))

	presence, err := metrics.InstrumentCache(deps.cache, "presence", reg)
	if err != nil {
		return err
	}

	client := broker.NewClient(deps.driver,
		broker.WithConfig(cfg.Broker),
		broker.WithCodec(codec),
		broker.WithLogger(log))
	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect broker: %w", err)
	}
	provider, err := metrics.InstrumentProvider(client, reg)
	if err != nil {
		return err
	}

	gw := gateway.New(
		gateway.WithConfig(cfg.Gateway),
		gateway.WithCodec(codec),
		gateway.WithPresence(presence, cfg.Gateway.PresenceTTL),
		gateway.WithCheckOrigin(checkOrigin(cfg.AllowedOrigins)),
		gateway.WithLogger(log))
	reg.MustRegister(gw)

	dispatcher, channels, err := newDispatcher(cfg, deps.store, gw, log)
	if err != nil {
		return err
	}
	cfg.Notifications.Channels = channels

	events, err := metrics.NewEventCounter(reg)
	if err != nil {
		return err
	}
	manager := worker.NewManager(worker.WithManagerLogger(log))
	workerOpts := []worker.Option{
		worker.WithConfig(cfg.Worker),
		worker.WithLogger(log),
		worker.WithEventHandler(events.Handle),
	}
	delivery, err := notifications.NewDeliveryWorkers(provider, dispatcher, cfg.Notifications, workerOpts...)
	if err != nil {
		return err
	}
	for _, w := range delivery {
		if err := manager.Register(w); err != nil {
			return err
		}
	}
	if cfg.Notifications.StatsInterval > 0 {
		reporter := notifications.NewStatsReporter(manager, cfg.Notifications.StatsInterval, log, workerOpts...)
		if err := manager.Register(reporter); err != nil {
			return err
		}
	}
	reg.MustRegister(metrics.NewWorkerCollector(manager))

	statsCache, err := metrics.InstrumentCache(deps.cache, "stats", reg)
	if err != nil {
		return err
	}
	svc := notifications.NewService(deps.store, provider,
		notifications.WithChannels(channels...),
		notifications.WithStatsCache(statsCache, cfg.Notifications.StatsCacheTTL),
		notifications.WithServiceLogger(log))
	var routerOpts []notifications.RouterOption
	limit, err := newRateLimit(cfg, deps, log)
	if err != nil {
		return err
	}
	if limit != nil {
		routerOpts = append(routerOpts, notifications.WithCreateMiddleware(limit))
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(clientip.Middleware(cfg.TrustedHeaders...))
	r.Use(middleware.Recoverer)
	r.Get("/health/live", httpserver.Liveness())
	r.Get("/health/ready", httpserver.Readiness(log, deps.checks...))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Handle("/ws", gw)
	r.Mount("/", notifications.NewRouter(svc, log, routerOpts...))

	srv := httpserver.New(r, httpserver.WithConfig(cfg.HTTP), httpserver.WithLogger(log))

	log.InfoContext(ctx, "starting notifykit",
		slog.String("broker", cfg.Broker.Driver),
		slog.String("storage", cfg.StorageDriver),
		slog.String("cache", cfg.CacheDriver),
		slog.Any("channels", channels))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(manager.Run(ctx))
	g.Go(gw.Run(ctx))
	g.Go(srv.Run(ctx))
	g.Go(client.Run(ctx))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("notifykit stopped")
	return nil
}

// checkOrigin allows same-origin requests and the listed origins. "*"
// allows any origin.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}
