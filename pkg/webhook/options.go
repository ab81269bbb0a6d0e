package webhook

import (
	"time"
)

// DeliveryResult describes one HTTP attempt.
type DeliveryResult struct {
	Success    bool
	StatusCode int
	Attempt    int
	Duration   time.Duration
	Error      error
}

// DeliveryHook is called after each attempt.
type DeliveryHook func(result DeliveryResult)

type sendOptions struct {
	timeout   time.Duration
	headers   map[string]string
	attempts  uint64
	baseDelay time.Duration
	secret    string
	breaker   *CircuitBreaker
	hook      DeliveryHook
}

func defaultSendOptions() *sendOptions {
	return &sendOptions{
		timeout:   10 * time.Second,
		headers:   make(map[string]string),
		baseDelay: 200 * time.Millisecond,
	}
}

// SendOption configures a single Send call.
type SendOption func(*sendOptions)

// WithTimeout bounds each attempt. Default 10s.
func WithTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHeader adds a request header.
func WithHeader(key, value string) SendOption {
	return func(o *sendOptions) {
		if key != "" && value != "" {
			o.headers[key] = value
		}
	}
}

// WithHeaders adds request headers.
func WithHeaders(headers map[string]string) SendOption {
	return func(o *sendOptions) {
		for k, v := range headers {
			if k != "" && v != "" {
				o.headers[k] = v
			}
		}
	}
}

// WithRetry retries temporary failures up to n more times with exponential
// backoff starting at base.
func WithRetry(n int, base time.Duration) SendOption {
	return func(o *sendOptions) {
		if n >= 0 {
			o.attempts = uint64(n)
		}
		if base > 0 {
			o.baseDelay = base
		}
	}
}

// WithSignature signs the body with secret.
func WithSignature(secret string) SendOption {
	return func(o *sendOptions) {
		o.secret = secret
	}
}

// WithCircuitBreaker guards the endpoint. Share one breaker per endpoint.
func WithCircuitBreaker(cb *CircuitBreaker) SendOption {
	return func(o *sendOptions) {
		o.breaker = cb
	}
}

// WithOnDelivery observes every attempt.
func WithOnDelivery(hook DeliveryHook) SendOption {
	return func(o *sendOptions) {
		o.hook = hook
	}
}
