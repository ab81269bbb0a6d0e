package notifications

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifykit/pkg/binder"
	"github.com/dmitrymomot/notifykit/pkg/handler"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

type listRequest struct {
	UserID string `path:"userId"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
	Read   *bool  `query:"read"`
	Type   string `query:"type"`
}

type userRequest struct {
	UserID string `path:"userId"`
}

type markReadRequest struct {
	UserID string   `json:"-" path:"userId"`
	IDs    []string `json:"ids"`
}

type idRequest struct {
	ID string `path:"id"`
}

// MarkReadResult is the body of a mark-as-read response.
type MarkReadResult struct {
	Updated int `json:"updated"`
}

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	createMiddlewares []func(http.Handler) http.Handler
}

// WithCreateMiddleware wraps only the create endpoint, e.g. with a rate
// limiter.
func WithCreateMiddleware(mw ...func(http.Handler) http.Handler) RouterOption {
	return func(c *routerConfig) {
		c.createMiddlewares = append(c.createMiddlewares, mw...)
	}
}

// NewRouter exposes svc over HTTP under /notifications.
func NewRouter(svc *Service, log *slog.Logger, opts ...RouterOption) chi.Router {
	if log == nil {
		log = slog.Default()
	}
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	h := &httpHandlers{svc: svc}
	onError := handler.NewErrorHandler(log)
	path := binder.Path(chi.URLParam)

	r := chi.NewRouter()
	r.Route("/notifications", func(r chi.Router) {
		r.With(cfg.createMiddlewares...).Post("/", handler.Wrap(h.create,
			handler.WithBinders[CreateRequest](binder.JSON()),
			handler.WithErrorHandler[CreateRequest](onError)))
		r.Get("/user/{userId}", handler.Wrap(h.list,
			handler.WithBinders[listRequest](path, binder.Query()),
			handler.WithErrorHandler[listRequest](onError)))
		r.Post("/user/{userId}/read", handler.Wrap(h.markRead,
			handler.WithBinders[markReadRequest](path, optionalJSON()),
			handler.WithErrorHandler[markReadRequest](onError)))
		r.Get("/user/{userId}/stats", handler.Wrap(h.stats,
			handler.WithBinders[userRequest](path),
			handler.WithErrorHandler[userRequest](onError)))
		r.Get("/{id}", handler.Wrap(h.get,
			handler.WithBinders[idRequest](path),
			handler.WithErrorHandler[idRequest](onError)))
		r.Delete("/{id}", handler.Wrap(h.delete,
			handler.WithBinders[idRequest](path),
			handler.WithErrorHandler[idRequest](onError)))
	})
	return r
}

type httpHandlers struct {
	svc *Service
}

func (h *httpHandlers) create(ctx handler.Context, req CreateRequest) handler.Response {
	n, err := h.svc.Create(ctx, req)
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(n, handler.WithJSONStatus(http.StatusCreated))
}

func (h *httpHandlers) list(ctx handler.Context, req listRequest) handler.Response {
	page, err := h.svc.GetUserNotifications(ctx, Filter{
		UserID: req.UserID,
		Read:   req.Read,
		Type:   req.Type,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(page.Items, handler.WithJSONMeta(map[string]any{
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	}))
}

func (h *httpHandlers) markRead(ctx handler.Context, req markReadRequest) handler.Response {
	n, err := h.svc.MarkAsRead(ctx, req.UserID, req.IDs)
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(MarkReadResult{Updated: n})
}

func (h *httpHandlers) stats(ctx handler.Context, req userRequest) handler.Response {
	st, err := h.svc.Stats(ctx, req.UserID)
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(st)
}

func (h *httpHandlers) get(ctx handler.Context, req idRequest) handler.Response {
	n, err := h.svc.Get(ctx, req.ID)
	if err != nil {
		return h.fail(ctx, err)
	}
	return handler.JSON(n)
}

func (h *httpHandlers) delete(ctx handler.Context, req idRequest) handler.Response {
	if err := h.svc.Delete(ctx, req.ID); err != nil {
		return h.fail(ctx, err)
	}
	return handler.Empty()
}

// fail renders err and logs server errors.
func (h *httpHandlers) fail(ctx handler.Context, err error) handler.Response {
	err = toHTTPError(err)
	if status, _ := handler.Classify(err); status >= http.StatusInternalServerError {
		h.svc.logger.ErrorContext(ctx, "request failed", slog.String("path", ctx.Request().URL.Path), logger.Error(err))
	}
	return handler.JSONError(err)
}

func toHTTPError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return handler.ValidationError(verr.Fields)
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: %w", handler.ErrNotFound, err)
	case errors.Is(err, ErrInvalidRequest):
		return fmt.Errorf("%w: %w", handler.ErrBadRequest, err)
	}
	return err
}

// optionalJSON binds a JSON body when one is present.
func optionalJSON() handler.Bind {
	bind := binder.JSON()
	return func(r *http.Request, v any) error {
		if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
			return nil
		}
		return bind(r, v)
	}
}
