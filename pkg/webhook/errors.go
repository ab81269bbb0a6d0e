package webhook

import "errors"

var (
	ErrWebhookDeliveryFailed = errors.New("webhook delivery failed")
	ErrInvalidConfiguration  = errors.New("invalid webhook configuration")
	ErrPermanentFailure      = errors.New("permanent webhook failure")
	ErrTemporaryFailure      = errors.New("temporary webhook failure")
	ErrCircuitOpen           = errors.New("webhook circuit breaker is open")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrInvalidURL            = errors.New("invalid webhook URL")
	ErrTimeout               = errors.New("webhook request timeout")
	ErrInvalidSignature      = errors.New("invalid webhook signature")
)

// IsCircuitOpen checks if an error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentFailure) || errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrInvalidPayload)
}
