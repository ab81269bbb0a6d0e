package broker_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/broker/memdriver"
	"github.com/dmitrymomot/notifykit/pkg/compress"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

func newClient(t *testing.T, b *memdriver.Broker, opts ...broker.ClientOption) *broker.Client {
	t.Helper()
	opts = append([]broker.ClientOption{
		broker.WithLogger(logger.Discard()),
		broker.WithReconnect(10*time.Millisecond, 50*time.Millisecond),
	}, opts...)
	c := broker.NewClient(b, opts...)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type job struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func TestClient_Initialize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := memdriver.New()
	c := broker.NewClient(b, broker.WithLogger(logger.Discard()))

	err := c.Publish(ctx, "ex", "key", "x", broker.PublishOptions{})
	assert.ErrorIs(t, err, broker.ErrNotConnected)

	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, 1, b.Connections())
	assert.True(t, c.Connected())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 0, b.Connections())
	assert.ErrorIs(t, c.Initialize(ctx), broker.ErrClosed)
	assert.ErrorIs(t, c.Publish(ctx, "ex", "key", "x", broker.PublishOptions{}), broker.ErrClosed)
}

func TestClient_InitializeDialFailure(t *testing.T) {
	t.Parallel()

	b := memdriver.New()
	b.FailDials(1)
	c := broker.NewClient(b, broker.WithLogger(logger.Discard()))
	t.Cleanup(func() { _ = c.Close() })

	assert.ErrorIs(t, c.Initialize(context.Background()), memdriver.ErrDialRefused)
	require.NoError(t, c.Initialize(context.Background()))
}

func TestClient_PublishSubscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		payload    any
		compressed bool
	}{
		{name: "small object", payload: job{ID: "1", Text: "hi"}},
		{name: "large object", payload: job{ID: "2", Text: strings.Repeat("x", 4096)}, compressed: true},
		{name: "string", payload: "hello"},
		{name: "bytes", payload: []byte{0x00, 0x01, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			codec := compress.New(compress.Config{Enabled: true, Threshold: 256, Level: 6})
			c := newClient(t, memdriver.New(), broker.WithCodec(codec))

			got := make(chan *broker.Message, 1)
			require.NoError(t, c.Subscribe(ctx, "jobs", func(_ context.Context, msg *broker.Message) error {
				got <- msg
				return nil
			}, broker.SubscribeOptions{Exchange: "work", RoutingKey: "work.*"}))

			require.NoError(t, c.Publish(ctx, "work", "work.created", tt.payload, broker.PublishOptions{}))

			select {
			case msg := <-got:
				assert.Equal(t, tt.compressed, msg.Metadata.Compressed)
				assert.Equal(t, "work.created", msg.RoutingKey)
				assert.Equal(t, "work", msg.Exchange)
				if j, ok := tt.payload.(job); ok {
					var decoded job
					require.NoError(t, msg.Decode(ctx, &decoded))
					assert.Equal(t, j, decoded)
				} else {
					assert.Equal(t, tt.payload, msg.Body)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("message not delivered")
			}
		})
	}
}

func TestClient_TopicRouting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	var email, sms atomic.Int32
	require.NoError(t, c.Subscribe(ctx, "n.email", func(context.Context, *broker.Message) error {
		email.Add(1)
		return nil
	}, broker.SubscribeOptions{Exchange: "notifications", RoutingKey: "notifications.delivery.email"}))
	require.NoError(t, c.Subscribe(ctx, "n.sms", func(context.Context, *broker.Message) error {
		sms.Add(1)
		return nil
	}, broker.SubscribeOptions{Exchange: "notifications", RoutingKey: "notifications.delivery.sms"}))

	require.NoError(t, c.Publish(ctx, "notifications", "notifications.delivery.email", job{ID: "1"}, broker.PublishOptions{}))
	require.NoError(t, c.Publish(ctx, "notifications", "notifications.delivery.email", job{ID: "2"}, broker.PublishOptions{}))
	require.NoError(t, c.Publish(ctx, "notifications", "notifications.delivery.sms", job{ID: "3"}, broker.PublishOptions{}))

	assert.Eventually(t, func() bool { return email.Load() == 2 && sms.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_NackDeadLetter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	var calls atomic.Int32
	require.NoError(t, c.Subscribe(ctx, "jobs", func(context.Context, *broker.Message) error {
		calls.Add(1)
		return errors.New("boom")
	}, broker.SubscribeOptions{Requeue: false}))

	require.NoError(t, c.Publish(ctx, "", "jobs", job{ID: "1"}, broker.PublishOptions{}))

	assert.Eventually(t, func() bool { return b.QueueLen(broker.DeadLetterQueue("jobs")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, b.QueueLen("jobs"))
}

func TestClient_NackRequeue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	var calls atomic.Int32
	redelivered := make(chan bool, 1)
	require.NoError(t, c.Subscribe(ctx, "jobs", func(_ context.Context, msg *broker.Message) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		redelivered <- msg.Redelivered
		return nil
	}, broker.SubscribeOptions{Requeue: true}))

	require.NoError(t, c.Publish(ctx, "", "jobs", job{ID: "1"}, broker.PublishOptions{}))

	select {
	case r := <-redelivered:
		assert.True(t, r)
	case <-time.After(2 * time.Second):
		t.Fatal("message not redelivered")
	}
	assert.Equal(t, 0, b.QueueLen(broker.DeadLetterQueue("jobs")))
}

func TestClient_HandlerPanic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	require.NoError(t, c.Subscribe(ctx, "jobs", func(context.Context, *broker.Message) error {
		panic("handler exploded")
	}, broker.SubscribeOptions{}))

	require.NoError(t, c.Publish(ctx, "", "jobs", "x", broker.PublishOptions{}))
	assert.Eventually(t, func() bool { return b.QueueLen(broker.DeadLetterQueue("jobs")) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_ManualSettlement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	second := make(chan error, 1)
	require.NoError(t, c.Subscribe(ctx, "jobs", func(_ context.Context, msg *broker.Message) error {
		assert.NoError(t, msg.Nack(false))
		second <- msg.Ack()
		return nil
	}, broker.SubscribeOptions{Requeue: true}))

	require.NoError(t, c.Publish(ctx, "", "jobs", "x", broker.PublishOptions{}))

	select {
	case err := <-second:
		assert.ErrorIs(t, err, broker.ErrAlreadySettled)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
	assert.Eventually(t, func() bool { return b.QueueLen(broker.DeadLetterQueue("jobs")) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_ForeignMessageWithoutHeader(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	got := make(chan *broker.Message, 2)
	require.NoError(t, c.Subscribe(ctx, "jobs", func(_ context.Context, msg *broker.Message) error {
		got <- msg
		return nil
	}, broker.SubscribeOptions{}))

	conn, err := b.Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.Publish(ctx, "", "jobs", broker.Outgoing{Body: []byte(`{"id":"7"}`)}))
	require.NoError(t, conn.Publish(ctx, "", "jobs", broker.Outgoing{Body: []byte("not json")}))

	first := <-got
	assert.Equal(t, map[string]any{"id": "7"}, first.Body)
	var j job
	require.NoError(t, first.Decode(ctx, &j))
	assert.Equal(t, "7", j.ID)

	second := <-got
	assert.Equal(t, compress.TypeBuffer, second.Metadata.OriginalType)
	assert.Equal(t, []byte("not json"), second.Body)
}

func TestClient_Subscriptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	var calls atomic.Int32
	h := func(context.Context, *broker.Message) error {
		calls.Add(1)
		return nil
	}

	require.NoError(t, c.Subscribe(ctx, "jobs", h, broker.SubscribeOptions{}))
	assert.ErrorIs(t, c.Subscribe(ctx, "jobs", h, broker.SubscribeOptions{}), broker.ErrAlreadySubscribed)
	assert.ErrorIs(t, c.Subscribe(ctx, "", h, broker.SubscribeOptions{}), broker.ErrEmptyName)

	require.NoError(t, c.Unsubscribe(ctx, "jobs"))
	assert.ErrorIs(t, c.Unsubscribe(ctx, "jobs"), broker.ErrNotSubscribed)

	require.NoError(t, c.Publish(ctx, "", "jobs", "x", broker.PublishOptions{}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, b.QueueLen("jobs"))

	// Resubscribing picks up the retained message.
	require.NoError(t, c.Subscribe(ctx, "jobs", h, broker.SubscribeOptions{}))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestClient_Primitives(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	require.NoError(t, c.CreateExchange(ctx, "events", broker.ExchangeOptions{Kind: broker.ExchangeDirect}))
	assert.ErrorIs(t, c.CreateExchange(ctx, "events", broker.ExchangeOptions{Kind: broker.ExchangeFanout}), broker.ErrExchangeMismatch)
	require.NoError(t, c.CreateQueue(ctx, "audit", broker.QueueOptions{}))
	require.NoError(t, c.BindQueue(ctx, "audit", "events", "user.created"))
	assert.Equal(t, []string{"user.created"}, b.Bindings("events", "audit"))
	assert.ErrorIs(t, c.BindQueue(ctx, "missing", "events", "k"), broker.ErrQueueNotFound)

	require.NoError(t, c.Publish(ctx, "events", "user.created", "x", broker.PublishOptions{Exchange: broker.ExchangeOptions{Kind: broker.ExchangeDirect}}))
	require.NoError(t, c.Publish(ctx, "events", "user.deleted", "x", broker.PublishOptions{Exchange: broker.ExchangeOptions{Kind: broker.ExchangeDirect}}))
	assert.Equal(t, 1, b.QueueLen("audit"))

	require.NoError(t, c.DeleteQueue(ctx, "audit"))
	assert.Equal(t, 0, b.QueueLen("audit"))
	assert.Empty(t, b.Bindings("events", "audit"))
}

func TestClient_ReconnectReplaysSubscriptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	got := make(chan string, 4)
	require.NoError(t, c.Subscribe(ctx, "notifications.in-app", func(ctx context.Context, msg *broker.Message) error {
		var j job
		if err := msg.Decode(ctx, &j); err != nil {
			return err
		}
		got <- j.ID
		return nil
	}, broker.SubscribeOptions{Exchange: "notifications", RoutingKey: "notifications.delivery.in-app"}))

	require.NoError(t, c.Publish(ctx, "notifications", "notifications.delivery.in-app", job{ID: "before"}, broker.PublishOptions{}))
	assert.Equal(t, "before", <-got)

	b.FailDials(2)
	b.DropConnections()
	assert.Eventually(t, func() bool { return !c.Connected() }, time.Second, time.Millisecond)

	// Publish waits for the reconnect instead of failing.
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.Publish(pubCtx, "notifications", "notifications.delivery.in-app", job{ID: "after"}, broker.PublishOptions{}))

	select {
	case id := <-got:
		assert.Equal(t, "after", id)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not resume after reconnect")
	}
	assert.True(t, c.Connected())
	assert.Equal(t, 1, b.Connections())
}

func TestClient_InFlightMessageRedeliveredAfterDrop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := memdriver.New()
	c := newClient(t, b)

	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, c.Subscribe(ctx, "jobs", func(context.Context, *broker.Message) error {
		if calls.Add(1) == 1 {
			<-release
		}
		return nil
	}, broker.SubscribeOptions{}))

	require.NoError(t, c.Publish(ctx, "", "jobs", "x", broker.PublishOptions{}))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	b.DropConnections()
	close(release)

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, 5*time.Second, 5*time.Millisecond)
}

func TestClient_Run(t *testing.T) {
	t.Parallel()
	b := memdriver.New()
	c := broker.NewClient(b, broker.WithLogger(logger.Discard()))
	require.NoError(t, c.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx)() }()
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 0, b.Connections())
}
