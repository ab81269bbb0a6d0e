package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/notifykit/pkg/broker"
)

// InstrumentedProvider records publish and consume outcomes of a
// broker.Provider.
type InstrumentedProvider struct {
	broker.Provider

	published       *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	consumed        *prometheus.CounterVec
	consumeDuration *prometheus.HistogramVec
}

// InstrumentProvider wraps p and registers its collectors on reg. A nil reg
// keeps the metrics unregistered.
func InstrumentProvider(p broker.Provider, reg prometheus.Registerer) (*InstrumentedProvider, error) {
	ip := &InstrumentedProvider{Provider: p}
	var err error
	if ip.published, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "published_total",
		Help:      "Messages published, by exchange and result.",
	}, []string{"exchange", "result"})); err != nil {
		return nil, err
	}
	if ip.publishDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "publish_duration_seconds",
		Help:      "Time spent publishing a message.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"exchange"})); err != nil {
		return nil, err
	}
	if ip.consumed, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "consumed_total",
		Help:      "Messages handled by subscribers, by queue and result.",
	}, []string{"queue", "result"})); err != nil {
		return nil, err
	}
	if ip.consumeDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "consume_duration_seconds",
		Help:      "Time spent in a subscriber handler.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"queue"})); err != nil {
		return nil, err
	}
	return ip, nil
}

func (p *InstrumentedProvider) Publish(ctx context.Context, exchange, routingKey string, payload any, opts broker.PublishOptions) error {
	start := time.Now()
	err := p.Provider.Publish(ctx, exchange, routingKey, payload, opts)
	p.publishDuration.WithLabelValues(exchange).Observe(time.Since(start).Seconds())
	p.published.WithLabelValues(exchange, result(err)).Inc()
	return err
}

func (p *InstrumentedProvider) Subscribe(ctx context.Context, queue string, handler broker.Handler, opts broker.SubscribeOptions) error {
	wrapped := func(ctx context.Context, msg *broker.Message) error {
		start := time.Now()
		err := handler(ctx, msg)
		p.consumeDuration.WithLabelValues(queue).Observe(time.Since(start).Seconds())
		p.consumed.WithLabelValues(queue, result(err)).Inc()
		return err
	}
	return p.Provider.Subscribe(ctx, queue, wrapped, opts)
}
