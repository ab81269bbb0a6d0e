package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Signature header names.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
)

// Signature is the HMAC of a payload bound to a timestamp.
type Signature struct {
	Value     string
	Timestamp int64
	ID        string
}

// Apply sets the signature headers on h.
func (s Signature) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Value)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	h.Set(HeaderID, s.ID)
}

// SignPayload signs "<unix timestamp>.<payload>" with HMAC-SHA256.
func SignPayload(secret string, payload []byte) (Signature, error) {
	return signAt(secret, payload, time.Now())
}

func signAt(secret string, payload []byte, at time.Time) (Signature, error) {
	if secret == "" {
		return Signature{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return Signature{}, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	ts := at.Unix()
	return Signature{
		Value:     mac(secret, ts, payload),
		Timestamp: ts,
		ID:        uuid.NewString(),
	}, nil
}

func mac(secret string, ts int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(ts, 10)))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks sig against payload. A positive maxAge rejects
// stale signatures and those more than a minute in the future.
func VerifySignature(secret string, payload []byte, sig Signature, maxAge time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if sig.Value == "" || sig.Timestamp == 0 {
		return fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	if maxAge > 0 {
		age := time.Since(time.Unix(sig.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: timestamp too old", ErrInvalidSignature)
		}
		if age < -time.Minute {
			return fmt.Errorf("%w: timestamp in the future", ErrInvalidSignature)
		}
	}
	if !hmac.Equal([]byte(mac(secret, sig.Timestamp, payload)), []byte(sig.Value)) {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return nil
}

// ParseSignature reads the signature headers.
func ParseSignature(h http.Header) (Signature, error) {
	sig := Signature{
		Value: h.Get(HeaderSignature),
		ID:    h.Get(HeaderID),
	}
	if ts := h.Get(HeaderTimestamp); ts != "" {
		v, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return Signature{}, fmt.Errorf("%w: invalid timestamp", ErrInvalidSignature)
		}
		sig.Timestamp = v
	}
	if sig.Value == "" || sig.Timestamp == 0 {
		return Signature{}, fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}
	return sig, nil
}

// VerifyRequest validates a signed request and returns its body. The body is
// restored so later handlers can read it again.
func VerifyRequest(r *http.Request, secret string, maxAge time.Duration) ([]byte, error) {
	sig, err := ParseSignature(r.Header)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := VerifySignature(secret, body, sig, maxAge); err != nil {
		return nil, err
	}
	return body, nil
}
