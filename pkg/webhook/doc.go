// Package webhook posts signed JSON payloads to HTTP endpoints. The
// notification service uses it to hand sms and push deliveries to an
// external relay.
//
//	sender := webhook.NewSender()
//	err := sender.Send(ctx, relayURL, payload,
//		webhook.WithSignature(secret),
//		webhook.WithRetry(2, 200*time.Millisecond),
//	)
//
// A request is signed with HMAC-SHA256 over "<timestamp>.<body>" and carries
// the X-Webhook-Signature, X-Webhook-Timestamp and X-Webhook-ID headers.
// Receivers check them with VerifyRequest.
//
// Send makes a single attempt unless WithRetry is given. 4xx responses other
// than 408, 425 and 429 are permanent failures and are never retried. A
// CircuitBreaker shared per endpoint stops calls to a relay that keeps failing.
package webhook
