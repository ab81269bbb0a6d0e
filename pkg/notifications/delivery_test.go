package notifications_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/broker/memdriver"
	"github.com/dmitrymomot/notifykit/pkg/compress"
	"github.com/dmitrymomot/notifykit/pkg/gateway"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/worker"
)

type pipeline struct {
	svc     *notifications.Service
	store   *notifications.MemoryStorage
	broker  *memdriver.Broker
	workers []*worker.QueueWorker[notifications.Job]
	srv     *httptest.Server
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()

	mem := memdriver.New()
	client := broker.NewClient(mem, broker.WithLogger(logger.Discard()))
	require.NoError(t, client.Initialize(ctx))

	gw := gateway.New(gateway.WithLogger(logger.Discard()))
	srv := httptest.NewServer(gw)

	store := notifications.NewMemoryStorage()
	dispatcher := notifications.NewDispatcher(store,
		notifications.WithSender(notifications.DeliveryInApp, notifications.NewInAppSender(gw, "")),
		notifications.WithDispatcherLogger(logger.Discard()))
	workers, err := notifications.NewDeliveryWorkers(client, dispatcher,
		notifications.Config{Channels: []string{"in-app"}},
		worker.WithLogger(logger.Discard()),
		worker.WithBaseDelay(10*time.Millisecond))
	require.NoError(t, err)
	for _, w := range workers {
		require.NoError(t, w.Start(ctx))
	}

	t.Cleanup(func() {
		for _, w := range workers {
			_ = w.Stop(context.Background())
		}
		_ = gw.Close()
		srv.Close()
		_ = client.Close()
	})

	return &pipeline{
		svc:     notifications.NewService(store, client, notifications.WithServiceLogger(logger.Discard())),
		store:   store,
		broker:  mem,
		workers: workers,
		srv:     srv,
	}
}

func (p *pipeline) connect(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(p.srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	raw, err := json.Marshal(gateway.AuthRequest{UserID: userID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(gateway.Frame{Event: gateway.EventAuthenticate, Data: raw}))
	f := readFrame(t, conn, 2*time.Second)
	require.Equal(t, gateway.EventAuthenticated, f.Event)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) gateway.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	var f gateway.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestDeliveryPipeline_InApp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t)

	require.Len(t, p.workers, 1)
	assert.Equal(t, "notifications.in-app", p.workers[0].Queue())
	assert.Equal(t, []string{"notifications.delivery.in-app"}, p.broker.Bindings("notifications", "notifications.in-app"))

	u1 := p.connect(t, "u1")
	u2 := p.connect(t, "u2")

	n, err := p.svc.Create(ctx, notifications.CreateRequest{
		UserID:       "u1",
		Type:         "message",
		Title:        "Hi",
		Message:      "hello",
		DeliveryType: notifications.DeliveryInApp,
		Deliver:      true,
	})
	require.NoError(t, err)
	assert.False(t, n.Delivered)

	f := readFrame(t, u1, 3*time.Second)
	require.Equal(t, gateway.EventNotification, f.Event)
	var env compress.Envelope
	require.NoError(t, json.Unmarshal(f.Data, &env))
	v, err := compress.New(compress.DefaultConfig()).MaybeDecompress(ctx, env)
	require.NoError(t, err)
	payload, ok := v.(map[string]any)
	require.True(t, ok, "payload %T", v)
	assert.Equal(t, n.ID, payload["id"])
	assert.Equal(t, "hello", payload["message"])

	assert.Eventually(t, func() bool {
		got, err := p.store.Get(ctx, n.ID)
		return err == nil && got.Delivered
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, u2.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = u2.ReadMessage()
	assert.Error(t, err, "other users receive nothing")

	assert.Eventually(t, func() bool {
		return p.workers[0].Stats().Succeeded == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDeliveryPipeline_NoDeliveryRequested(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t)

	n, err := p.svc.Create(ctx, notifications.CreateRequest{
		UserID: "u1", Type: "message", Title: "Hi", Message: "hello",
	})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	got, err := p.store.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, got.Delivered)
	assert.Zero(t, p.workers[0].Stats().Processed)
}

func TestNewDeliveryWorkers(t *testing.T) {
	t.Parallel()
	client := broker.NewClient(memdriver.New(), broker.WithLogger(logger.Discard()))
	noop := notifications.SenderFunc(func(context.Context, notifications.Job) error { return nil })
	d := notifications.NewDispatcher(notifications.NewMemoryStorage(),
		notifications.WithSender(notifications.DeliveryInApp, noop),
		notifications.WithSender(notifications.DeliveryEmail, noop))

	workers, err := notifications.NewDeliveryWorkers(client, d, notifications.Config{
		Channels: []string{"email", "in-app", "none", "email"},
	})
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "delivery.email", workers[0].Name())
	assert.Equal(t, "notifications.email", workers[0].Queue())
	assert.Equal(t, "delivery.in-app", workers[1].Name())

	_, err = notifications.NewDeliveryWorkers(client, d, notifications.Config{Channels: []string{"sms"}})
	assert.ErrorIs(t, err, notifications.ErrNoSender)

	_, err = notifications.NewDeliveryWorkers(client, d, notifications.Config{Channels: []string{"fax"}})
	assert.ErrorIs(t, err, notifications.ErrInvalidDeliveryType)
}

func TestStatsReporter(t *testing.T) {
	t.Parallel()
	mgr := worker.NewManager(worker.WithManagerLogger(logger.Discard()))
	reporter := notifications.NewStatsReporter(mgr, time.Hour, logger.Discard(), worker.WithLogger(logger.Discard()))
	require.NoError(t, mgr.Register(reporter))
	require.NoError(t, reporter.Start(context.Background()))
	t.Cleanup(func() { _ = reporter.Stop(context.Background()) })

	res, err := reporter.RunNow(context.Background())
	require.NoError(t, err)
	stats, ok := res.([]worker.Stats)
	require.True(t, ok)
	require.Len(t, stats, 1)
	assert.Equal(t, "stats-reporter", stats[0].Name)
}
