package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/notifykit/pkg/cache"
	"github.com/dmitrymomot/notifykit/pkg/compress"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

const cacheTimeout = 2 * time.Second

// Gateway tracks WebSocket connections, their namespaces and rooms.
// It implements http.Handler and prometheus.Collector.
type Gateway struct {
	codec    *compress.Codec
	presence cache.Provider
	auth     Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader

	presenceTTL    time.Duration
	sendBuffer     int
	writeWait      time.Duration
	pongWait       time.Duration
	maxMessageSize int64

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]map[string]*Session // namespace -> room -> socket id
	closed   bool
	wg       sync.WaitGroup

	connections *prometheus.GaugeVec
}

// New creates a gateway. Without WithCodec it uses compress.DefaultConfig.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		auth:           AcceptAny,
		logger:         slog.Default(),
		presenceTTL:    24 * time.Hour,
		sendBuffer:     256,
		writeWait:      10 * time.Second,
		pongWait:       60 * time.Second,
		maxMessageSize: 64 << 10,
		sessions:       make(map[string]*Session),
		rooms:          make(map[string]map[string]map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "notifykit",
			Subsystem: "gateway",
			Name:      "active_connections",
			Help:      "Number of open WebSocket connections.",
		}, []string{"namespace"}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.codec == nil {
		g.codec = compress.New(compress.DefaultConfig(), compress.WithLogger(g.logger))
	}
	return g
}

// ServeHTTP upgrades the request into the namespace named by the "namespace"
// query parameter, or DefaultNamespace.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, normalizeNamespace(r.URL.Query().Get("namespace")))
}

// Namespace returns a handler bound to a fixed namespace.
func (g *Gateway) Namespace(ns string) http.Handler {
	ns = normalizeNamespace(ns)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(w, r, ns)
	})
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, ns string) {
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied to the client.
		g.logger.DebugContext(r.Context(), "websocket upgrade failed",
			logger.Component("gateway"),
			logger.Error(err))
		return
	}

	s := newSession(g, conn, ns)
	if !g.register(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(g.writeWait))
		_ = conn.Close()
		return
	}
	defer g.wg.Done()

	g.logger.DebugContext(r.Context(), "websocket connected",
		logger.Component("gateway"),
		logger.SocketID(s.id),
		logger.Namespace(ns))

	go s.writePump()
	s.readPump(context.WithoutCancel(r.Context()))

	g.unregister(s)
}

func (g *Gateway) register(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.sessions[s.id] = s
	g.wg.Add(1)
	g.connections.WithLabelValues(s.namespace).Inc()
	return true
}

func (g *Gateway) unregister(s *Session) {
	s.close()

	g.mu.Lock()
	if _, ok := g.sessions[s.id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.sessions, s.id)
	for room := range s.rooms {
		g.leaveLocked(s, room)
	}
	userID := s.userID
	g.connections.WithLabelValues(s.namespace).Dec()
	g.mu.Unlock()

	g.logger.Debug("websocket disconnected",
		logger.Component("gateway"),
		logger.SocketID(s.id),
		logger.Namespace(s.namespace),
		logger.UserID(userID))

	if userID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		defer cancel()
		g.clearPresence(ctx, userID, s.id)
	}
}

// authenticate binds s to userID, moving it between user rooms when the
// connection re-authenticates as somebody else.
func (g *Gateway) authenticate(ctx context.Context, s *Session, userID string) {
	g.mu.Lock()
	prev := s.userID
	if prev != "" && prev != userID {
		g.leaveLocked(s, UserRoom(prev))
	}
	s.userID = userID
	g.joinLocked(s, UserRoom(userID))
	g.mu.Unlock()

	if prev != "" && prev != userID {
		g.clearPresence(ctx, prev, s.id)
	}
	g.writePresence(ctx, userID, s.id)
}

// Join adds a connection to a room of its namespace.
func (g *Gateway) Join(socketID, room string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[socketID]
	if !ok {
		return ErrUnknownSocket
	}
	g.joinLocked(s, room)
	return nil
}

// Leave removes a connection from a room.
func (g *Gateway) Leave(socketID, room string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[socketID]
	if !ok {
		return ErrUnknownSocket
	}
	g.leaveLocked(s, room)
	return nil
}

// Must be called with g.mu held.
func (g *Gateway) joinLocked(s *Session, room string) {
	rooms, ok := g.rooms[s.namespace]
	if !ok {
		rooms = make(map[string]map[string]*Session)
		g.rooms[s.namespace] = rooms
	}
	members, ok := rooms[room]
	if !ok {
		members = make(map[string]*Session)
		rooms[room] = members
	}
	members[s.id] = s
	s.rooms[room] = struct{}{}
}

// Must be called with g.mu held.
func (g *Gateway) leaveLocked(s *Session, room string) {
	delete(s.rooms, room)
	rooms, ok := g.rooms[s.namespace]
	if !ok {
		return
	}
	members, ok := rooms[room]
	if !ok {
		return
	}
	delete(members, s.id)
	if len(members) == 0 {
		delete(rooms, room)
	}
	if len(rooms) == 0 {
		delete(g.rooms, s.namespace)
	}
}

// ConnectionCount returns the number of open connections in ns, or in every
// namespace when ns is empty.
func (g *Gateway) ConnectionCount(ns string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ns == "" {
		return len(g.sessions)
	}
	ns = normalizeNamespace(ns)
	n := 0
	for _, s := range g.sessions {
		if s.namespace == ns {
			n++
		}
	}
	return n
}

// RoomSize returns the number of connections in a room.
func (g *Gateway) RoomSize(ns, room string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[normalizeNamespace(ns)][room])
}

// Describe implements prometheus.Collector.
func (g *Gateway) Describe(ch chan<- *prometheus.Desc) {
	g.connections.Describe(ch)
}

// Collect implements prometheus.Collector.
func (g *Gateway) Collect(ch chan<- prometheus.Metric) {
	g.connections.Collect(ch)
}

// Close disconnects every client and rejects new ones. It waits for the
// connection handlers to return.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	g.wg.Wait()
	return nil
}

// Run returns a function for errgroup that closes the gateway when ctx ends.
func (g *Gateway) Run(ctx context.Context) func() error {
	return func() error {
		<-ctx.Done()
		return g.Close()
	}
}

func newSocketID() string {
	return uuid.NewString()
}

func normalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	if !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	return ns
}
