package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/worker"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("start and stop", func(t *testing.T) {
		t.Parallel()
		starts, stops := 0, 0
		var during worker.State
		var l *worker.Lifecycle
		l = worker.NewLifecycle("w",
			func(context.Context) error {
				starts++
				during = l.State()
				return nil
			},
			func(context.Context) error {
				stops++
				return nil
			},
			logger.Discard())

		ctx := context.Background()
		assert.Equal(t, worker.StateStopped, l.State())
		require.NoError(t, l.Start(ctx))
		require.NoError(t, l.Start(ctx))
		assert.Equal(t, 1, starts)
		assert.Equal(t, worker.StateStarting, during)
		assert.Equal(t, worker.StateRunning, l.State())
		assert.False(t, l.StartedAt().IsZero())

		require.NoError(t, l.Stop(ctx))
		require.NoError(t, l.Stop(ctx))
		assert.Equal(t, 1, stops)
		assert.Equal(t, worker.StateStopped, l.State())
	})

	t.Run("failing start hook", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		l := worker.NewLifecycle("w", func(context.Context) error { return boom }, nil, logger.Discard())

		assert.ErrorIs(t, l.Start(context.Background()), boom)
		assert.Equal(t, worker.StateStopped, l.State())
		require.NoError(t, l.Stop(context.Background()))
	})

	t.Run("missing start hook", func(t *testing.T) {
		t.Parallel()
		l := worker.NewLifecycle("w", nil, nil, logger.Discard())
		assert.ErrorIs(t, l.Start(context.Background()), worker.ErrNoStartHook)
		assert.Equal(t, worker.StateStopped, l.State())
	})

	t.Run("stop hook error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		l := worker.NewLifecycle("w",
			func(context.Context) error { return nil },
			func(context.Context) error { return boom },
			logger.Discard())
		require.NoError(t, l.Start(context.Background()))
		assert.ErrorIs(t, l.Stop(context.Background()), boom)
		assert.Equal(t, worker.StateStopped, l.State())
	})
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stopped", worker.StateStopped.String())
	assert.Equal(t, "starting", worker.StateStarting.String())
	assert.Equal(t, "running", worker.StateRunning.String())
	assert.Equal(t, "stopping", worker.StateStopping.String())

	text, err := worker.StateRunning.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "running", string(text))
}
