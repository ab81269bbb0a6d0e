package httpserver

import (
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*Server)

// WithConfig applies the non-zero fields of cfg.
func WithConfig(cfg Config) Option {
	return func(s *Server) {
		if cfg.Addr != "" {
			s.cfg.Addr = cfg.Addr
		}
		if cfg.ReadHeaderTimeout > 0 {
			s.cfg.ReadHeaderTimeout = cfg.ReadHeaderTimeout
		}
		if cfg.ReadTimeout > 0 {
			s.cfg.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			s.cfg.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.IdleTimeout > 0 {
			s.cfg.IdleTimeout = cfg.IdleTimeout
		}
		if cfg.ShutdownTimeout > 0 {
			s.cfg.ShutdownTimeout = cfg.ShutdownTimeout
		}
	}
}

func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.cfg.Addr = addr
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.cfg.ShutdownTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
