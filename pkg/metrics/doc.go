// Package metrics exposes Prometheus instrumentation for the broker, the
// cache and the worker pool.
//
// Wrappers register their collectors on the given prometheus.Registerer and
// otherwise behave exactly like the value they wrap:
//
//	provider, err := metrics.InstrumentProvider(client, prometheus.DefaultRegisterer)
//	presence, err := metrics.InstrumentCache(cache.NewMemoryProvider(1024), "presence", prometheus.DefaultRegisterer)
//	prometheus.MustRegister(metrics.NewWorkerCollector(manager))
//
// All metric names use the notifykit namespace.
package metrics
