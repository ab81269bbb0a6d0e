package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/notifykit/pkg/clientip"
	"github.com/dmitrymomot/notifykit/pkg/handler"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// KeyFunc names the bucket of a request. An empty key skips limiting.
type KeyFunc func(*http.Request) string

// ByClientIP keys by the address clientip.Middleware stored, falling back
// to the peer address.
func ByClientIP(prefix string) KeyFunc {
	return func(r *http.Request) string {
		ip := clientip.FromContext(r.Context())
		if ip == "" {
			ip = clientip.FromRequest(r)
		}
		if ip == "" {
			return ""
		}
		return prefix + ":" + ip
	}
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middleware)

type middleware struct {
	logger *slog.Logger
}

func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// Middleware answers 429 once key's bucket is empty.
func Middleware(l *Limiter, key KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			res, err := l.Allow(r.Context(), k)
			if err != nil {
				m.logger.WarnContext(r.Context(), "rate limit check failed, allowing request", logger.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			if !res.Allowed {
				h.Set("Retry-After", strconv.Itoa(max(1, int(math.Ceil(res.RetryAfter.Seconds())))))
				_ = handler.JSONError(handler.ErrTooManyRequests).Render(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
