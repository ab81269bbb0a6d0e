package logger

import (
	"context"
	"log/slog"
)

// ContextExtractor reads one attribute from a request context, e.g. the
// request id.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// contextHandler appends extracted attributes to every record.
type contextHandler struct {
	slog.Handler
	extractors []ContextExtractor
}

func withContextAttrs(h slog.Handler, extractors ...ContextExtractor) slog.Handler {
	if len(extractors) == 0 {
		return h
	}
	return contextHandler{Handler: h, extractors: extractors}
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if ctx != nil {
		for _, extract := range h.extractors {
			if attr, ok := extract(ctx); ok {
				rec.AddAttrs(attr)
			}
		}
	}
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs), extractors: h.extractors}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name), extractors: h.extractors}
}
