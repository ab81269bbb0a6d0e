package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/broker/memdriver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/worker"
)

type delivery struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

func newBroker(t *testing.T) (*broker.Client, *memdriver.Broker) {
	t.Helper()
	b := memdriver.New()
	c := broker.NewClient(b,
		broker.WithLogger(logger.Discard()),
		broker.WithReconnect(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, b
}

func TestQueueWorker_ProcessesAndAcks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, b := newBroker(t)

	got := make(chan delivery, 1)
	w := worker.NewQueueWorker("email", client, "notifications.email",
		func(_ context.Context, d delivery) (any, error) {
			got <- d
			return nil, nil
		},
		worker.WithExchange("notifications", "notifications.delivery.email"),
		worker.WithLogger(logger.Discard()))

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })
	assert.Equal(t, worker.StateRunning, w.State())
	assert.Equal(t, "notifications.email", w.Queue())

	require.NoError(t, client.Publish(ctx, "notifications", "notifications.delivery.email",
		delivery{ID: "n1", Channel: "email"}, broker.PublishOptions{}))

	select {
	case d := <-got:
		assert.Equal(t, "n1", d.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("job not processed")
	}

	assert.Eventually(t, func() bool { return w.Stats().Succeeded == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, b.QueueLen("notifications.email"))
	assert.Equal(t, 0, b.QueueLen(broker.DeadLetterQueue("notifications.email")))
}

func TestQueueWorker_RetriesThenDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, b := newBroker(t)

	rec := &eventRecorder{}
	var calls atomic.Int32
	w := worker.NewQueueWorker("sms", client, "notifications.sms",
		func(context.Context, delivery) (any, error) {
			calls.Add(1)
			return nil, errors.New("gateway down")
		},
		worker.WithExchange("notifications", "notifications.delivery.sms"),
		worker.WithMaxRetries(3),
		worker.WithBaseDelay(time.Millisecond),
		worker.WithRequeue(false),
		worker.WithEventHandler(rec.handle),
		worker.WithLogger(logger.Discard()))

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	require.NoError(t, client.Publish(ctx, "notifications", "notifications.delivery.sms", delivery{ID: "n1"}, broker.PublishOptions{}))

	assert.Eventually(t, func() bool {
		return b.QueueLen(broker.DeadLetterQueue("notifications.sms")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, rec.byKind(worker.EventFailure), 1)
	assert.Len(t, rec.byKind(worker.EventRetry), 2)
	assert.Equal(t, uint64(1), w.Stats().Failed)
}

func TestQueueWorker_RequeuesTerminalFailureByDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, b := newBroker(t)

	var calls atomic.Int32
	w := worker.NewQueueWorker("push", client, "notifications.push",
		func(context.Context, delivery) (any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("first delivery fails")
			}
			return "sent", nil
		},
		worker.WithMaxRetries(1),
		worker.WithLogger(logger.Discard()))

	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	require.NoError(t, client.Publish(ctx, "", "notifications.push", delivery{ID: "n1"}, broker.PublishOptions{}))

	assert.Eventually(t, func() bool { return w.Stats().Succeeded == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, b.QueueLen(broker.DeadLetterQueue("notifications.push")))
}

func TestQueueWorker_PoisonMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, b := newBroker(t)

	var calls atomic.Int32
	w := worker.NewQueueWorker("email", client, "jobs",
		func(context.Context, delivery) (any, error) {
			calls.Add(1)
			return nil, nil
		},
		worker.WithLogger(logger.Discard()))
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	require.NoError(t, client.Publish(ctx, "", "jobs", "not an object", broker.PublishOptions{}))

	assert.Eventually(t, func() bool { return b.QueueLen(broker.DeadLetterQueue("jobs")) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestQueueWorker_StopCancelsConsumer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, b := newBroker(t)

	var calls atomic.Int32
	w := worker.NewQueueWorker("email", client, "jobs",
		func(context.Context, delivery) (any, error) {
			calls.Add(1)
			return nil, nil
		},
		worker.WithLogger(logger.Discard()))

	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop(ctx))
	assert.Equal(t, worker.StateStopped, w.State())

	require.NoError(t, client.Publish(ctx, "", "jobs", delivery{ID: "n1"}, broker.PublishOptions{}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 1, b.QueueLen("jobs"))

	// Restart consumes the retained message.
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestQueueWorker_StopDoesNotWaitForInFlight(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, _ := newBroker(t)

	started := make(chan struct{})
	release := make(chan struct{})
	w := worker.NewQueueWorker("slow", client, "jobs",
		func(context.Context, delivery) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
		worker.WithLogger(logger.Discard()))
	require.NoError(t, w.Start(ctx))

	require.NoError(t, client.Publish(ctx, "", "jobs", delivery{ID: "n1"}, broker.PublishOptions{}))
	<-started

	require.NoError(t, w.Stop(ctx))
	assert.False(t, w.Idle())

	close(release)
	assert.Eventually(t, w.Idle, time.Second, 5*time.Millisecond)
}

func TestQueueWorker_ResumesAfterBrokerReconnect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, b := newBroker(t)

	got := make(chan string, 2)
	w := worker.NewQueueWorker("in-app", client, "notifications.in-app",
		func(_ context.Context, d delivery) (any, error) {
			got <- d.ID
			return nil, nil
		},
		worker.WithExchange("notifications", "notifications.delivery.in-app"),
		worker.WithLogger(logger.Discard()))
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	b.DropConnections()

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, client.Publish(pubCtx, "notifications", "notifications.delivery.in-app", delivery{ID: "after-drop"}, broker.PublishOptions{}))

	select {
	case id := <-got:
		assert.Equal(t, "after-drop", id)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not resume after reconnect")
	}
	assert.Equal(t, worker.StateRunning, w.State())
}

func TestQueueWorker_ConsumesBacklogOnStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client, b := newBroker(t)

	const backlog = 50
	require.NoError(t, client.CreateQueue(ctx, "jobs", broker.QueueOptions{}))
	for range backlog {
		require.NoError(t, client.Publish(ctx, "", "jobs", delivery{ID: "n1"}, broker.PublishOptions{}))
	}
	require.Equal(t, backlog, b.QueueLen("jobs"))

	var calls atomic.Int32
	w := worker.NewQueueWorker("backlog", client, "jobs",
		func(context.Context, delivery) (any, error) {
			calls.Add(1)
			return nil, nil
		},
		worker.WithRequeue(false),
		worker.WithConcurrency(8),
		worker.WithLogger(logger.Discard()))
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop(ctx) })

	assert.Eventually(t, func() bool { return w.Stats().Succeeded == backlog }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(backlog), calls.Load())
	assert.Equal(t, 0, b.QueueLen(broker.DeadLetterQueue("jobs")))
}
