package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Session is one WebSocket connection. Room membership and the bound user id
// are guarded by the gateway lock.
type Session struct {
	id        string
	namespace string
	gw        *Gateway
	conn      *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	userID string
	rooms  map[string]struct{}
}

func newSession(g *Gateway, conn *websocket.Conn, ns string) *Session {
	return &Session{
		id:        newSocketID(),
		namespace: ns,
		gw:        g,
		conn:      conn,
		send:      make(chan []byte, g.sendBuffer),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}
}

// ID returns the socket id.
func (s *Session) ID() string { return s.id }

// Namespace returns the namespace the connection belongs to.
func (s *Session) Namespace() string { return s.namespace }

// UserID returns the bound user id, empty until authenticated.
func (s *Session) UserID() string {
	s.gw.mu.RLock()
	defer s.gw.mu.RUnlock()
	return s.userID
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// enqueue never blocks. A full buffer disconnects the client.
func (s *Session) enqueue(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	case <-s.done:
		return false
	default:
		s.gw.logger.Warn("dropping slow websocket consumer",
			logger.Component("gateway"),
			logger.SocketID(s.id),
			logger.Namespace(s.namespace))
		s.close()
		return false
	}
}

func (s *Session) reply(event string, data any) bool {
	msg, err := encodeFrame(event, data)
	if err != nil {
		s.gw.logger.Error("failed to encode frame",
			logger.Component("gateway"),
			logger.SocketID(s.id),
			logger.Event(event),
			logger.Error(err))
		return false
	}
	return s.enqueue(msg)
}

func (s *Session) replyError(err error) {
	s.reply(EventError, ErrorPayload{Message: err.Error()})
}

func (s *Session) readPump(ctx context.Context) {
	defer s.close()

	s.conn.SetReadLimit(s.gw.maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.gw.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.gw.pongWait))
	})

	for {
		typ, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.gw.logger.DebugContext(ctx, "websocket read failed",
					logger.Component("gateway"),
					logger.SocketID(s.id),
					logger.Error(err))
			}
			return
		}
		if typ != websocket.TextMessage {
			s.replyError(ErrInvalidFrame)
			continue
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			s.replyError(ErrInvalidFrame)
			continue
		}
		s.handle(ctx, f)
	}
}

func (s *Session) handle(ctx context.Context, f Frame) {
	switch f.Event {
	case EventAuthenticate:
		var req AuthRequest
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &req); err != nil {
				s.replyError(ErrInvalidFrame)
				return
			}
		}
		userID, err := s.gw.auth(ctx, req)
		if err != nil {
			s.gw.logger.DebugContext(ctx, "websocket authentication rejected",
				logger.Component("gateway"),
				logger.SocketID(s.id),
				logger.Error(err))
			if errors.Is(err, ErrEmptyUserID) {
				s.replyError(err)
			} else {
				s.replyError(ErrUnauthorized)
			}
			return
		}
		if userID == "" {
			s.replyError(ErrEmptyUserID)
			return
		}

		s.gw.authenticate(ctx, s, userID)
		s.reply(EventAuthenticated, AuthResponse{UserID: userID, SocketID: s.id})

	default:
		s.replyError(ErrUnknownEvent)
	}
}

func (s *Session) writePump() {
	pingPeriod := s.gw.pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.gw.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.gw.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.gw.writeWait))
			return
		}
	}
}
