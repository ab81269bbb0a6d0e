package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultUserAgent = "notifykit-webhook/1.0"

// Sender posts JSON payloads. Zero value is not usable; use NewSender.
type Sender struct {
	client    *http.Client
	userAgent string
}

// Option configures a Sender.
type Option func(*Sender)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Sender) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// NewSender creates a sender with a pooled HTTP client.
func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send posts data to webhookURL. A []byte or json.RawMessage is sent as is,
// anything else is marshaled to JSON.
func (s *Sender) Send(ctx context.Context, webhookURL string, data any, opts ...SendOption) error {
	payload, err := encodePayload(data)
	if err != nil {
		return err
	}
	if err := validateURL(webhookURL); err != nil {
		return err
	}

	o := defaultSendOptions()
	for _, opt := range opts {
		opt(o)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(o.attempts, retry.NewExponential(o.baseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if o.breaker != nil && !o.breaker.Allow() {
			return ErrCircuitOpen
		}
		attempt++

		result, err := s.attemptDelivery(ctx, webhookURL, payload, o)
		result.Attempt = attempt
		if o.hook != nil {
			o.hook(result)
		}
		if o.breaker != nil {
			if err == nil {
				o.breaker.RecordSuccess()
			} else {
				o.breaker.RecordFailure()
			}
		}

		switch {
		case err == nil:
			return nil
		case isPermanentStatus(result.StatusCode):
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		default:
			return retry.RetryableError(err)
		}
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPermanentFailure), errors.Is(err, ErrCircuitOpen) && attempt == 0:
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return err
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrWebhookDeliveryFailed, attempt, err)
	}
}

func encodePayload(data any) ([]byte, error) {
	var payload []byte
	switch v := data.(type) {
	case []byte:
		payload = v
	case json.RawMessage:
		payload = v
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		payload = b
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	return payload, nil
}

func validateURL(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https schemes are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}

func (s *Sender) attemptDelivery(ctx context.Context, webhookURL string, payload []byte, o *sendOptions) (DeliveryResult, error) {
	start := time.Now()
	var result DeliveryResult

	reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		result.Error = err
		return result, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	if o.secret != "" {
		sig, err := SignPayload(o.secret, payload)
		if err != nil {
			result.Error = err
			return result, err
		}
		sig.Apply(req.Header)
	}

	resp, err := s.client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return result, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return result, fmt.Errorf("%w: %w", ErrTemporaryFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if result.Success {
		return result, nil
	}

	msg := fmt.Sprintf("webhook returned status %d", resp.StatusCode)
	if len(body) > 0 {
		// Single line, bounded: the body ends up in logs.
		text := strings.ReplaceAll(string(body), "\n", " ")
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		msg += ": " + text
	}
	result.Error = errors.New(msg)
	return result, result.Error
}

// 408, 425 and 429 may succeed later; every other 4xx will not.
func isPermanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}
