package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/cache"
	"github.com/dmitrymomot/notifykit/pkg/compress"
	"github.com/dmitrymomot/notifykit/pkg/gateway"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

func newGateway(t *testing.T, opts ...gateway.Option) (*gateway.Gateway, *httptest.Server) {
	t.Helper()
	cfg := compress.DefaultConfig()
	cfg.Threshold = 64
	opts = append([]gateway.Option{
		gateway.WithCodec(compress.New(cfg)),
		gateway.WithLogger(logger.Discard()),
	}, opts...)
	gw := gateway.New(opts...)
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		_ = gw.Close()
		srv.Close()
	})
	return gw, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(gateway.Frame{Event: event, Data: raw}))
}

func read(t *testing.T, conn *websocket.Conn) gateway.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f gateway.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr interface{ Timeout() bool }
	require.Error(t, err)
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no frame, got %v", err)
}

func authenticate(t *testing.T, conn *websocket.Conn, userID string) gateway.AuthResponse {
	t.Helper()
	send(t, conn, gateway.EventAuthenticate, gateway.AuthRequest{UserID: userID})
	f := read(t, conn)
	require.Equal(t, gateway.EventAuthenticated, f.Event, "payload: %s", f.Data)
	var resp gateway.AuthResponse
	require.NoError(t, json.Unmarshal(f.Data, &resp))
	return resp
}

func decodeEnvelope(t *testing.T, f gateway.Frame) (compress.Envelope, any) {
	t.Helper()
	var env compress.Envelope
	require.NoError(t, json.Unmarshal(f.Data, &env))
	v, err := compress.New(compress.DefaultConfig()).MaybeDecompress(context.Background(), env)
	require.NoError(t, err)
	return env, v
}

func TestGateway_Authenticate(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")

	resp := authenticate(t, conn, "u1")
	assert.Equal(t, "u1", resp.UserID)
	assert.NotEmpty(t, resp.SocketID)

	assert.Equal(t, 1, gw.ConnectionCount(gateway.DefaultNamespace))
	assert.Equal(t, 1, gw.RoomSize(gateway.DefaultNamespace, gateway.UserRoom("u1")))
	assert.True(t, gw.Online(context.Background(), "u1"))
}

func TestGateway_EmitToRoomTargetsOnlyThatUser(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	u1 := dial(t, srv, "")
	u2 := dial(t, srv, "")
	authenticate(t, u1, "u1")
	authenticate(t, u2, "u2")

	payload := map[string]any{"title": "Hi", "message": "hello"}
	ok := gw.EmitToRoom(context.Background(), gateway.DefaultNamespace, gateway.UserRoom("u1"), gateway.EventNotification, payload)
	require.True(t, ok)

	f := read(t, u1)
	assert.Equal(t, gateway.EventNotification, f.Event)
	env, v := decodeEnvelope(t, f)
	assert.False(t, env.Metadata.Compressed)
	assert.Equal(t, compress.TypeObject, env.Metadata.OriginalType)
	assert.Equal(t, payload, v)

	assertSilent(t, u2)
}

func TestGateway_EmitCompressesLargePayloads(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	authenticate(t, conn, "u1")

	large := strings.Repeat("notification ", 100)
	require.True(t, gw.EmitToRoom(context.Background(), "/", gateway.UserRoom("u1"), gateway.EventNotification, large))

	env, v := decodeEnvelope(t, read(t, conn))
	assert.True(t, env.Metadata.Compressed)
	assert.Equal(t, compress.AlgorithmGzip, env.Metadata.Algorithm)
	assert.Equal(t, large, v)
}

func TestGateway_EmitIsScopedToNamespace(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	root := dial(t, srv, "")
	admin := dial(t, srv, "?namespace=admin")

	require.Eventually(t, func() bool {
		return gw.ConnectionCount("/admin") == 1 && gw.ConnectionCount("/") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, gw.ConnectionCount(""))

	require.True(t, gw.Emit(context.Background(), "/admin", gateway.EventBroadcast, "maintenance"))

	f := read(t, admin)
	assert.Equal(t, gateway.EventBroadcast, f.Event)
	_, v := decodeEnvelope(t, f)
	assert.Equal(t, "maintenance", v)

	assertSilent(t, root)
}

func TestGateway_NamespaceHandler(t *testing.T) {
	t.Parallel()

	gw := gateway.New(gateway.WithLogger(logger.Discard()))
	srv := httptest.NewServer(gw.Namespace("chat"))
	t.Cleanup(func() {
		_ = gw.Close()
		srv.Close()
	})

	conn := dial(t, srv, "")
	authenticate(t, conn, "u1")
	assert.Equal(t, 1, gw.RoomSize("/chat", gateway.UserRoom("u1")))
	assert.Equal(t, 0, gw.RoomSize("/", gateway.UserRoom("u1")))
}

func TestGateway_EmitToClient(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	resp := authenticate(t, conn, "u1")

	assert.False(t, gw.EmitToClient(context.Background(), "missing", gateway.EventNotification, "x"))
	require.True(t, gw.EmitToClient(context.Background(), resp.SocketID, gateway.EventNotification, []byte("raw")))

	env, v := decodeEnvelope(t, read(t, conn))
	assert.Equal(t, compress.TypeBuffer, env.Metadata.OriginalType)
	assert.Equal(t, []byte("raw"), v)
}

func TestGateway_EmitUnencodablePayload(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	authenticate(t, conn, "u1")

	assert.False(t, gw.Emit(context.Background(), "/", gateway.EventNotification, map[string]any{"ch": make(chan int)}))
}

func TestGateway_EmitToEmptyRoom(t *testing.T) {
	t.Parallel()

	gw, _ := newGateway(t)
	assert.True(t, gw.EmitToRoom(context.Background(), "/", gateway.UserRoom("nobody"), gateway.EventNotification, "x"))
}

func TestGateway_ClientErrors(t *testing.T) {
	t.Parallel()

	reject := func(_ context.Context, req gateway.AuthRequest) (string, error) {
		if req.Token != "secret" {
			return "", errors.New("bad token")
		}
		return req.UserID, nil
	}
	_, srv := newGateway(t, gateway.WithAuthenticator(reject))

	tests := []struct {
		name    string
		write   func(t *testing.T, conn *websocket.Conn)
		message string
	}{
		{
			name: "bad token",
			write: func(t *testing.T, conn *websocket.Conn) {
				send(t, conn, gateway.EventAuthenticate, gateway.AuthRequest{UserID: "u1", Token: "nope"})
			},
			message: gateway.ErrUnauthorized.Error(),
		},
		{
			name: "unknown event",
			write: func(t *testing.T, conn *websocket.Conn) {
				send(t, conn, "subscribe", map[string]string{"room": "x"})
			},
			message: gateway.ErrUnknownEvent.Error(),
		},
		{
			name: "not json",
			write: func(t *testing.T, conn *websocket.Conn) {
				require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
			},
			message: gateway.ErrInvalidFrame.Error(),
		},
		{
			name: "binary frame",
			write: func(t *testing.T, conn *websocket.Conn) {
				require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}))
			},
			message: gateway.ErrInvalidFrame.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, srv, "")
			tt.write(t, conn)

			f := read(t, conn)
			require.Equal(t, gateway.EventError, f.Event)
			var payload gateway.ErrorPayload
			require.NoError(t, json.Unmarshal(f.Data, &payload))
			assert.Equal(t, tt.message, payload.Message)
		})
	}
}

func TestGateway_EmptyUserIDRejected(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	send(t, conn, gateway.EventAuthenticate, gateway.AuthRequest{UserID: "  "})

	f := read(t, conn)
	require.Equal(t, gateway.EventError, f.Event)
	assert.Equal(t, 0, gw.RoomSize("/", gateway.UserRoom("")))
}

func TestGateway_ReauthenticateMovesRooms(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	authenticate(t, conn, "u1")
	authenticate(t, conn, "u2")

	assert.Equal(t, 0, gw.RoomSize("/", gateway.UserRoom("u1")))
	assert.Equal(t, 1, gw.RoomSize("/", gateway.UserRoom("u2")))
}

func TestGateway_JoinLeave(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	resp := authenticate(t, conn, "u1")

	require.NoError(t, gw.Join(resp.SocketID, "team:1"))
	assert.Equal(t, 1, gw.RoomSize("/", "team:1"))
	require.True(t, gw.EmitToRoom(context.Background(), "/", "team:1", gateway.EventBroadcast, "hi team"))
	assert.Equal(t, gateway.EventBroadcast, read(t, conn).Event)

	require.NoError(t, gw.Leave(resp.SocketID, "team:1"))
	assert.Equal(t, 0, gw.RoomSize("/", "team:1"))

	assert.ErrorIs(t, gw.Join("missing", "team:1"), gateway.ErrUnknownSocket)
	assert.ErrorIs(t, gw.Leave("missing", "team:1"), gateway.ErrUnknownSocket)
}

func TestGateway_PresenceLifecycle(t *testing.T) {
	t.Parallel()

	presence := cache.NewMemoryProvider(16)
	gw, srv := newGateway(t, gateway.WithPresence(presence, time.Minute))
	conn := dial(t, srv, "")
	resp := authenticate(t, conn, "u1")

	got, err := presence.Get(context.Background(), gateway.PresenceKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, resp.SocketID, string(got))
	assert.True(t, gw.Online(context.Background(), "u1"))

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		_, err := presence.Get(context.Background(), gateway.PresenceKey("u1"))
		return cache.IsMiss(err)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, gw.ConnectionCount(""))
	assert.Equal(t, 0, gw.RoomSize("/", gateway.UserRoom("u1")))
	assert.False(t, gw.Online(context.Background(), "u1"))
}

func TestGateway_DisconnectKeepsNewerPresence(t *testing.T) {
	t.Parallel()

	presence := cache.NewMemoryProvider(16)
	_, srv := newGateway(t, gateway.WithPresence(presence, time.Minute))
	first := dial(t, srv, "")
	second := dial(t, srv, "")
	authenticate(t, first, "u1")
	newer := authenticate(t, second, "u1")

	require.NoError(t, first.Close())
	assertSilent(t, second)

	got, err := presence.Get(context.Background(), gateway.PresenceKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, newer.SocketID, string(got))
}

type brokenCache struct{ cache.Provider }

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("cache down")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func (brokenCache) Delete(context.Context, string) error {
	return errors.New("cache down")
}

func TestGateway_PresenceIsBestEffort(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t, gateway.WithPresence(brokenCache{}, time.Minute))
	conn := dial(t, srv, "")

	resp := authenticate(t, conn, "u1")
	assert.Equal(t, "u1", resp.UserID)
	assert.False(t, gw.Online(context.Background(), "u1"))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return gw.ConnectionCount("") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ConnectionGauge(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	authenticate(t, conn, "u1")

	assert.Equal(t, 1, testutil.CollectAndCount(gw))
	assert.InDelta(t, 1, testutil.ToFloat64(gw), 0)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(gw) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_Close(t *testing.T) {
	t.Parallel()

	gw, srv := newGateway(t)
	conn := dial(t, srv, "")
	authenticate(t, conn, "u1")

	require.NoError(t, gw.Close())
	assert.Equal(t, 0, gw.ConnectionCount(""))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	assert.NoError(t, gw.Close())
}

func TestGateway_Run(t *testing.T) {
	t.Parallel()

	gw, _ := newGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx)() }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
