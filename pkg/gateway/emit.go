package gateway

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Emit sends event to every connection in namespace ns.
func (g *Gateway) Emit(ctx context.Context, ns, event string, data any) bool {
	ns = normalizeNamespace(ns)
	return g.emit(ctx, event, data, func() []*Session {
		g.mu.RLock()
		defer g.mu.RUnlock()
		out := make([]*Session, 0, len(g.sessions))
		for _, s := range g.sessions {
			if s.namespace == ns {
				out = append(out, s)
			}
		}
		return out
	})
}

// EmitToRoom sends event to every connection that joined room in ns.
func (g *Gateway) EmitToRoom(ctx context.Context, ns, room, event string, data any) bool {
	ns = normalizeNamespace(ns)
	return g.emit(ctx, event, data, func() []*Session {
		g.mu.RLock()
		defer g.mu.RUnlock()
		members := g.rooms[ns][room]
		out := make([]*Session, 0, len(members))
		for _, s := range members {
			out = append(out, s)
		}
		return out
	})
}

// EmitToClient sends event to a single connection. It reports false when the
// socket is unknown.
func (g *Gateway) EmitToClient(ctx context.Context, socketID, event string, data any) bool {
	g.mu.RLock()
	s, ok := g.sessions[socketID]
	g.mu.RUnlock()
	if !ok {
		g.logger.DebugContext(ctx, "emit to unknown socket",
			logger.Component("gateway"),
			logger.SocketID(socketID),
			logger.Event(event))
		return false
	}
	return g.emit(ctx, event, data, func() []*Session { return []*Session{s} })
}

// emit compresses data once and queues the frame for every target. It reports
// false when encoding fails or any target could not take the frame. An empty
// target set is a success.
func (g *Gateway) emit(ctx context.Context, event string, data any, targets func() []*Session) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "emit panicked",
				logger.Component("gateway"),
				logger.Event(event),
				logger.Error(fmt.Errorf("%v", r)))
			ok = false
		}
	}()

	env, err := g.codec.MaybeCompress(ctx, data)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to encode payload",
			logger.Component("gateway"),
			logger.Event(event),
			logger.Error(err))
		return false
	}
	msg, err := encodeFrame(event, env)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to encode frame",
			logger.Component("gateway"),
			logger.Event(event),
			logger.Error(err))
		return false
	}

	ok = true
	for _, s := range targets() {
		if !s.enqueue(msg) {
			ok = false
		}
	}
	return ok
}
