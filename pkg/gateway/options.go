package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/cache"
	"github.com/dmitrymomot/notifykit/pkg/compress"
)

// Authenticator validates an authenticate request and returns the user id the
// connection is bound to.
type Authenticator func(ctx context.Context, req AuthRequest) (string, error)

// AcceptAny binds the connection to whatever non-empty user id it presents.
func AcceptAny(_ context.Context, req AuthRequest) (string, error) {
	id := strings.TrimSpace(req.UserID)
	if id == "" {
		return "", ErrEmptyUserID
	}
	return id, nil
}

// Config holds the gateway settings that are usually loaded from env.
type Config struct {
	SendBuffer     int           `env:"GATEWAY_SEND_BUFFER" envDefault:"256"`
	WriteWait      time.Duration `env:"GATEWAY_WRITE_WAIT" envDefault:"10s"`
	PongWait       time.Duration `env:"GATEWAY_PONG_WAIT" envDefault:"60s"`
	MaxMessageSize int64         `env:"GATEWAY_MAX_MESSAGE_SIZE" envDefault:"65536"`
	PresenceTTL    time.Duration `env:"GATEWAY_PRESENCE_TTL" envDefault:"24h"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithConfig applies every non-zero field of cfg.
func WithConfig(cfg Config) Option {
	return func(g *Gateway) {
		if cfg.SendBuffer > 0 {
			g.sendBuffer = cfg.SendBuffer
		}
		if cfg.WriteWait > 0 {
			g.writeWait = cfg.WriteWait
		}
		if cfg.PongWait > 0 {
			g.pongWait = cfg.PongWait
		}
		if cfg.MaxMessageSize > 0 {
			g.maxMessageSize = cfg.MaxMessageSize
		}
		if cfg.PresenceTTL > 0 {
			g.presenceTTL = cfg.PresenceTTL
		}
	}
}

// WithCodec sets the codec applied to emitted payloads.
func WithCodec(c *compress.Codec) Option {
	return func(g *Gateway) {
		if c != nil {
			g.codec = c
		}
	}
}

// WithPresence records online status in p under "presence:<userId>".
func WithPresence(p cache.Provider, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.presence = p
		if ttl > 0 {
			g.presenceTTL = ttl
		}
	}
}

// WithAuthenticator replaces AcceptAny.
func WithAuthenticator(a Authenticator) Option {
	return func(g *Gateway) {
		if a != nil {
			g.auth = a
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check. The default rejects
// cross-origin browser requests.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(g *Gateway) {
		g.upgrader.CheckOrigin = fn
	}
}

// WithSendBuffer sets how many frames may queue per connection before the
// connection is treated as a slow consumer.
func WithSendBuffer(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.sendBuffer = n
		}
	}
}

// WithPongWait sets the read deadline refreshed by each pong. Pings are sent
// at 9/10 of it.
func WithPongWait(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pongWait = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}
