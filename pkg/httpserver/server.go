package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Server serves one handler until its context ends.
type Server struct {
	handler http.Handler
	cfg     Config
	logger  *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	ready    chan struct{}
}

// New returns a server for h. A nil h responds 404 to everything.
func New(h http.Handler, opts ...Option) *Server {
	if h == nil {
		h = http.NotFoundHandler()
	}
	s := &Server{
		handler: h,
		cfg:     defaultConfig(),
		logger:  slog.Default(),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("http"))
	return s
}

// Addr returns the bound address once the server listens, the configured
// one before that.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Ready is closed when the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run listens and serves until ctx ends, then shuts down gracefully.
// Suitable for errgroup.Group.Go.
func (s *Server) Run(ctx context.Context) func() error {
	return func() error {
		ln, srv, err := s.listen(ctx)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()
		s.logger.InfoContext(ctx, "http server started", slog.String("addr", ln.Addr().String()))

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.Join(ErrStart, err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return errors.Join(ErrShutdown, err)
		}
		<-errCh
		s.logger.InfoContext(ctx, "http server stopped")
		return nil
	}
}

func (s *Server) listen(ctx context.Context) (net.Listener, *http.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil, nil, ErrAlreadyRunning
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return nil, nil, errors.Join(ErrStart, fmt.Errorf("listen %s: %w", s.cfg.Addr, err))
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	close(s.ready)
	return ln, s.srv, nil
}
