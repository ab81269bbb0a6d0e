package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/notifykit/pkg/worker"
)

// StatsSource is satisfied by worker.Manager.
type StatsSource interface {
	Stats() []worker.Stats
}

var (
	workerUp = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "running"),
		"Whether the worker is running.",
		[]string{"worker"}, nil)
	workerInFlight = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "in_flight"),
		"Jobs currently being processed.",
		[]string{"worker"}, nil)
	workerJobs = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "jobs_total"),
		"Jobs finished, by outcome.",
		[]string{"worker", "outcome"}, nil)
	workerAttempts = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "attempts_total"),
		"Handler attempts, including retries.",
		[]string{"worker"}, nil)
	workerAttemptErrors = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "worker", "attempt_errors_total"),
		"Handler attempts that returned an error.",
		[]string{"worker"}, nil)
)

// WorkerCollector exports worker.Stats snapshots at scrape time.
type WorkerCollector struct {
	src StatsSource
}

func NewWorkerCollector(src StatsSource) *WorkerCollector {
	return &WorkerCollector{src: src}
}

// Describe implements prometheus.Collector.
func (c *WorkerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- workerUp
	ch <- workerInFlight
	ch <- workerJobs
	ch <- workerAttempts
	ch <- workerAttemptErrors
}

// Collect implements prometheus.Collector.
func (c *WorkerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.Stats() {
		running := 0.0
		if s.State == worker.StateRunning {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(workerUp, prometheus.GaugeValue, running, s.Name)
		ch <- prometheus.MustNewConstMetric(workerInFlight, prometheus.GaugeValue, float64(s.InFlight), s.Name)
		ch <- prometheus.MustNewConstMetric(workerAttempts, prometheus.CounterValue, float64(s.Processed), s.Name)
		ch <- prometheus.MustNewConstMetric(workerAttemptErrors, prometheus.CounterValue, float64(s.Errors), s.Name)
		for outcome, v := range map[string]uint64{
			"succeeded": s.Succeeded,
			"failed":    s.Failed,
			"retried":   s.Retried,
			"skipped":   s.Skipped,
		} {
			ch <- prometheus.MustNewConstMetric(workerJobs, prometheus.CounterValue, float64(v), s.Name, outcome)
		}
	}
}

// EventCounter counts retry engine events. Pass Handle to
// worker.WithEventHandler.
type EventCounter struct {
	events *prometheus.CounterVec
}

func NewEventCounter(reg prometheus.Registerer) (*EventCounter, error) {
	events, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "events_total",
		Help:      "Retry engine events, by worker and kind.",
	}, []string{"worker", "kind"}))
	if err != nil {
		return nil, err
	}
	return &EventCounter{events: events}, nil
}

func (c *EventCounter) Handle(ev worker.Event) {
	c.events.WithLabelValues(ev.Worker, string(ev.Kind)).Inc()
}
