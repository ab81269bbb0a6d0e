// Package httpserver runs an http.Handler with configured timeouts and
// graceful shutdown, and serves liveness and readiness probes.
//
// Run returns a function for errgroup.Group.Go. The server stops when the
// context ends and is given ShutdownTimeout to drain:
//
//	srv := httpserver.New(router,
//		httpserver.WithConfig(cfg.HTTP),
//		httpserver.WithLogger(log))
//	g.Go(srv.Run(ctx))
//
// Health checks are named so a failing readiness probe reports which
// dependency is down:
//
//	r.Get("/health/ready", httpserver.Readiness(log,
//		httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)},
//		httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)}))
package httpserver
