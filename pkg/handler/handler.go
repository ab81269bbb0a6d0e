package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/notifykit/pkg/binder"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// HandlerFunc handles a request already bound into R.
type HandlerFunc[R any] func(ctx Context, req R) Response

// Response renders itself to the client.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind populates v from r.
type Bind func(r *http.Request, v any) error

// ErrorHandler answers a request whose binding or rendering failed.
type ErrorHandler func(ctx Context, err error)

// Decorator wraps a HandlerFunc. The first decorator passed to Wrap is the
// outermost.
type Decorator[R any] func(HandlerFunc[R]) HandlerFunc[R]

type wrapConfig[R any] struct {
	binders      []Bind
	errorHandler ErrorHandler
	decorators   []Decorator[R]
}

// WrapOption configures Wrap.
type WrapOption[R any] func(*wrapConfig[R])

// WithBinders appends binders applied in order before the handler runs.
func WithBinders[R any](binders ...Bind) WrapOption[R] {
	return func(c *wrapConfig[R]) { c.binders = append(c.binders, binders...) }
}

func WithErrorHandler[R any](h ErrorHandler) WrapOption[R] {
	return func(c *wrapConfig[R]) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

func WithDecorators[R any](decorators ...Decorator[R]) WrapOption[R] {
	return func(c *wrapConfig[R]) { c.decorators = append(c.decorators, decorators...) }
}

// Wrap adapts h to net/http.
func Wrap[R any](h HandlerFunc[R], opts ...WrapOption[R]) http.HandlerFunc {
	cfg := &wrapConfig[R]{errorHandler: NewErrorHandler(slog.Default())}
	for _, opt := range opts {
		opt(cfg)
	}
	final := h
	for i := len(cfg.decorators) - 1; i >= 0; i-- {
		final = cfg.decorators[i](final)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := NewContext(w, r)

		var req R
		for _, bind := range cfg.binders {
			if err := bind(r, &req); err != nil {
				cfg.errorHandler(ctx, bindError(err))
				return
			}
		}

		resp := final(ctx, req)
		if resp == nil {
			cfg.errorHandler(ctx, ErrNilResponse)
			return
		}
		if err := resp.Render(w, r); err != nil {
			cfg.errorHandler(ctx, err)
		}
	}
}

func bindError(err error) error {
	if errors.Is(err, binder.ErrUnsupportedMediaType) || errors.Is(err, binder.ErrMissingContentType) {
		return fmt.Errorf("%w: %w", ErrUnsupportedMediaType, err)
	}
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

// NewErrorHandler answers with a JSON error envelope. Server errors are
// logged at error level, client errors at debug; the request id reaches the
// record through requestid.LoggerExtractor.
func NewErrorHandler(log *slog.Logger) ErrorHandler {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx Context, err error) {
		status, _ := Classify(err)
		attrs := []any{
			slog.Int("status", status),
			slog.String("path", ctx.Request().URL.Path),
			logger.Error(err),
		}
		if status >= http.StatusInternalServerError {
			log.ErrorContext(ctx, "request failed", attrs...)
		} else {
			log.DebugContext(ctx, "request rejected", attrs...)
		}
		if rerr := JSONError(err).Render(ctx.ResponseWriter(), ctx.Request()); rerr != nil {
			log.WarnContext(ctx, "failed to render error response", logger.Error(rerr))
		}
	}
}
