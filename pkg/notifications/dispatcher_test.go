package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

type fakeEmitter struct {
	ok    bool
	calls atomic.Int32
	room  atomic.Value
}

func (f *fakeEmitter) EmitToRoom(_ context.Context, _, room, _ string, _ any) bool {
	f.calls.Add(1)
	f.room.Store(room)
	return f.ok
}

func storedJob(t *testing.T, store *notifications.MemoryStorage, ch notifications.DeliveryType, data map[string]any) notifications.Job {
	t.Helper()
	n := notifications.Notification{
		ID:           "job-" + string(ch),
		UserID:       "u1",
		Type:         "message",
		Title:        "Hi",
		Message:      "hello",
		Data:         data,
		DeliveryType: ch,
		CreatedAt:    epoch,
	}
	require.NoError(t, store.Create(context.Background(), n))
	return notifications.NewJob(n)
}

func TestDispatcher_Deliver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("marks delivered after confirmed send", func(t *testing.T) {
		t.Parallel()
		store := notifications.NewMemoryStorage()
		em := &fakeEmitter{ok: true}
		d := notifications.NewDispatcher(store,
			notifications.WithSender(notifications.DeliveryInApp, notifications.NewInAppSender(em, "")),
			notifications.WithDispatcherLogger(logger.Discard()))
		job := storedJob(t, store, notifications.DeliveryInApp, nil)

		require.NoError(t, d.Deliver(ctx, job))
		assert.Equal(t, "user:u1", em.room.Load())

		n, err := store.Get(ctx, job.Notification.ID)
		require.NoError(t, err)
		assert.True(t, n.Delivered)

		require.NoError(t, d.Deliver(ctx, job), "redelivery is a no-op")
		assert.EqualValues(t, 1, em.calls.Load())
	})

	t.Run("failed emission keeps undelivered", func(t *testing.T) {
		t.Parallel()
		store := notifications.NewMemoryStorage()
		d := notifications.NewDispatcher(store,
			notifications.WithSender(notifications.DeliveryInApp, notifications.NewInAppSender(&fakeEmitter{}, "")),
			notifications.WithDispatcherLogger(logger.Discard()))
		job := storedJob(t, store, notifications.DeliveryInApp, nil)

		err := d.Deliver(ctx, job)
		require.ErrorIs(t, err, notifications.ErrEmitFailed)
		assert.NotErrorIs(t, err, notifications.ErrUndeliverable)

		n, err := store.Get(ctx, job.Notification.ID)
		require.NoError(t, err)
		assert.False(t, n.Delivered)
	})

	t.Run("skips deleted", func(t *testing.T) {
		t.Parallel()
		store := notifications.NewMemoryStorage()
		var sent atomic.Bool
		d := notifications.NewDispatcher(store,
			notifications.WithSender(notifications.DeliveryInApp, notifications.SenderFunc(func(context.Context, notifications.Job) error {
				sent.Store(true)
				return nil
			})),
			notifications.WithDispatcherLogger(logger.Discard()))
		job := storedJob(t, store, notifications.DeliveryInApp, nil)
		require.NoError(t, store.SoftDelete(ctx, job.Notification.ID))

		require.NoError(t, d.Deliver(ctx, job))
		assert.False(t, sent.Load())
	})

	tests := []struct {
		name string
		job  notifications.Job
	}{
		{"no sender for channel", notifications.Job{Notification: notifications.JobNotification{ID: "x"}, DeliveryType: notifications.DeliverySMS}},
		{"missing id", notifications.Job{DeliveryType: notifications.DeliveryInApp}},
		{"unknown notification", notifications.Job{Notification: notifications.JobNotification{ID: "missing"}, DeliveryType: notifications.DeliveryInApp}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := notifications.NewDispatcher(notifications.NewMemoryStorage(),
				notifications.WithSender(notifications.DeliveryInApp, notifications.NewInAppSender(&fakeEmitter{ok: true}, "")),
				notifications.WithDispatcherLogger(logger.Discard()))
			assert.ErrorIs(t, d.Deliver(ctx, tt.job), notifications.ErrUndeliverable)

			res, err := d.Handle(ctx, tt.job)
			assert.NoError(t, err, "permanent failures are acknowledged")
			assert.Nil(t, res)
		})
	}

	t.Run("handle returns transient errors", func(t *testing.T) {
		t.Parallel()
		store := notifications.NewMemoryStorage()
		d := notifications.NewDispatcher(store,
			notifications.WithSender(notifications.DeliveryInApp, notifications.SenderFunc(func(context.Context, notifications.Job) error {
				return errors.New("temporary")
			})),
			notifications.WithDispatcherLogger(logger.Discard()))
		job := storedJob(t, store, notifications.DeliveryInApp, nil)

		_, err := d.Handle(ctx, job)
		assert.EqualError(t, err, "temporary")
	})

	t.Run("channels", func(t *testing.T) {
		t.Parallel()
		noop := notifications.SenderFunc(func(context.Context, notifications.Job) error { return nil })
		d := notifications.NewDispatcher(notifications.NewMemoryStorage(),
			notifications.WithSender(notifications.DeliverySMS, noop),
			notifications.WithSender(notifications.DeliveryEmail, noop))
		assert.Equal(t, []notifications.DeliveryType{notifications.DeliveryEmail, notifications.DeliverySMS}, d.Channels())
	})
}

func TestEmailSender(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := notifications.NewMemoryStorage()

	sent := make(chan email.Message, 1)
	s := notifications.NewEmailSender(email.SenderFunc(func(_ context.Context, msg email.Message) error {
		sent <- msg
		return nil
	}), nil)

	job := storedJob(t, store, notifications.DeliveryEmail, map[string]any{"email": "user@example.com"})
	require.NoError(t, s.Send(ctx, job))

	msg := <-sent
	assert.Equal(t, "user@example.com", msg.To)
	assert.Equal(t, "Hi", msg.Subject)
	assert.Equal(t, "hello", msg.TextBody)
	assert.Contains(t, msg.HTMLBody, "<h1>Hi</h1>")
	assert.Equal(t, "message", msg.Tag)
	assert.Equal(t, job.Notification.ID, msg.Metadata["notification_id"])

	t.Run("escapes html", func(t *testing.T) {
		t.Parallel()
		job := notifications.Job{Notification: notifications.JobNotification{
			ID: "x", Title: "<script>", Message: "m", Data: map[string]any{"email": "a@example.com"},
		}}
		out := make(chan email.Message, 1)
		s := notifications.NewEmailSender(email.SenderFunc(func(_ context.Context, msg email.Message) error {
			out <- msg
			return nil
		}), nil)
		require.NoError(t, s.Send(ctx, job))
		assert.NotContains(t, (<-out).HTMLBody, "<script>")
	})

	t.Run("missing address is permanent", func(t *testing.T) {
		t.Parallel()
		err := s.Send(ctx, notifications.Job{Notification: notifications.JobNotification{ID: "x", Title: "t", Message: "m"}})
		assert.ErrorIs(t, err, notifications.ErrUndeliverable)
		assert.ErrorIs(t, err, notifications.ErrMissingAddress)
	})

	t.Run("invalid address is permanent", func(t *testing.T) {
		t.Parallel()
		err := s.Send(ctx, notifications.Job{Notification: notifications.JobNotification{
			ID: "x", Title: "t", Message: "m", Data: map[string]any{"email": "not-an-email"},
		}})
		assert.ErrorIs(t, err, notifications.ErrUndeliverable)
		assert.ErrorIs(t, err, email.ErrInvalidMessage)
	})

	t.Run("custom address book", func(t *testing.T) {
		t.Parallel()
		out := make(chan email.Message, 1)
		s := notifications.NewEmailSender(email.SenderFunc(func(_ context.Context, msg email.Message) error {
			out <- msg
			return nil
		}), notifications.AddressBookFunc(func(_ context.Context, _ notifications.DeliveryType, n notifications.JobNotification) (string, error) {
			return n.UserID + "@users.example.com", nil
		}))
		require.NoError(t, s.Send(ctx, notifications.Job{Notification: notifications.JobNotification{ID: "x", UserID: "u9", Title: "t", Message: "m"}}))
		assert.Equal(t, "u9@users.example.com", (<-out).To)
	})
}

func TestRelaySender(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const secret = "relay-secret"

	type captured struct {
		payload notifications.RelayPayload
		header  http.Header
		body    []byte
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p notifications.RelayPayload
		_ = json.Unmarshal(body, &p)
		got <- captured{payload: p, header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	s := notifications.NewRelaySender(notifications.DeliverySMS, srv.URL, nil, nil, webhook.WithSignature(secret))
	job := notifications.Job{
		Notification: notifications.JobNotification{ID: "n1", UserID: "u1", Title: "t", Message: "m", Data: map[string]any{"phone": "+100"}},
		DeliveryType: notifications.DeliverySMS,
	}
	require.NoError(t, s.Send(ctx, job))

	c := <-got
	assert.Equal(t, "+100", c.payload.To)
	assert.Equal(t, notifications.DeliverySMS, c.payload.Channel)
	assert.Equal(t, "n1", c.header.Get(notifications.HeaderNotificationID))
	sig, err := webhook.ParseSignature(c.header)
	require.NoError(t, err)
	assert.NoError(t, webhook.VerifySignature(secret, c.body, sig, time.Minute))

	t.Run("client errors are permanent", func(t *testing.T) {
		t.Parallel()
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		t.Cleanup(bad.Close)
		s := notifications.NewRelaySender(notifications.DeliveryPush, bad.URL, nil, nil)
		job := notifications.Job{Notification: notifications.JobNotification{ID: "n", Data: map[string]any{"deviceToken": "tok"}}}
		assert.ErrorIs(t, s.Send(ctx, job), notifications.ErrUndeliverable)
	})

	t.Run("server errors are retried by the worker", func(t *testing.T) {
		t.Parallel()
		down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(down.Close)
		s := notifications.NewRelaySender(notifications.DeliveryPush, down.URL, nil, nil)
		job := notifications.Job{Notification: notifications.JobNotification{ID: "n", Data: map[string]any{"deviceToken": "tok"}}}
		err := s.Send(ctx, job)
		require.Error(t, err)
		assert.NotErrorIs(t, err, notifications.ErrUndeliverable)
	})
}
