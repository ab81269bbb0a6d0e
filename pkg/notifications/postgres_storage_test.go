package notifications_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notifications"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// postgresStorage connects to TEST_PG_URL and applies the schema. Each test
// uses its own user ids so runs do not interfere.
func postgresStorage(t *testing.T) *notifications.PostgresStorage {
	t.Helper()
	url := os.Getenv("TEST_PG_URL")
	if url == "" {
		t.Skip("TEST_PG_URL not set")
	}
	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     4,
		RetryAttempts:    1,
		RetryInterval:    100 * time.Millisecond,
		MigrationsTable:  "notifykit_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, notifications.Migrate(ctx, pool, cfg, logger.Discard()))
	return notifications.NewPostgresStorage(pool)
}

func newPGNotification(userID, typ string, at time.Time) notifications.Notification {
	return notifications.Notification{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         typ,
		Title:        "t",
		Message:      "m",
		Data:         map[string]any{"email": "user@example.com"},
		DeliveryType: notifications.DeliveryEmail,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestPostgresStorage(t *testing.T) {
	t.Parallel()
	store := postgresStorage(t)
	ctx := context.Background()
	user := "pg-" + uuid.NewString()
	other := "pg-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	var created []notifications.Notification
	for i, typ := range []string{"message", "message", "alert"} {
		n := newPGNotification(user, typ, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.Create(ctx, n))
		created = append(created, n)
	}
	foreign := newPGNotification(other, "message", now)
	require.NoError(t, store.Create(ctx, foreign))

	t.Run("duplicate id", func(t *testing.T) {
		err := store.Create(ctx, created[0])
		assert.ErrorIs(t, err, notifications.ErrDuplicateID)
	})

	t.Run("get round trips", func(t *testing.T) {
		got, err := store.Get(ctx, created[0].ID)
		require.NoError(t, err)
		assert.Equal(t, created[0].ID, got.ID)
		assert.Equal(t, "user@example.com", got.Data["email"])
		assert.Equal(t, notifications.DeliveryEmail, got.DeliveryType)
		assert.True(t, created[0].CreatedAt.Equal(got.CreatedAt))

		_, err = store.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, notifications.ErrNotFound)
		_, err = store.Get(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, notifications.ErrNotFound)
	})

	t.Run("find newest first", func(t *testing.T) {
		items, total, err := store.FindAndCountAll(ctx, notifications.Filter{UserID: user, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Equal(t, []string{created[2].ID, created[1].ID}, ids(items))

		items, total, err = store.FindAndCountAll(ctx, notifications.Filter{UserID: user, Type: "message", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, items, 2)
	})

	t.Run("mark read scoped to user", func(t *testing.T) {
		n, err := store.MarkRead(ctx, user, []string{created[0].ID, foreign.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := store.Get(ctx, foreign.ID)
		require.NoError(t, err)
		assert.False(t, got.Read)

		items, total, err := store.FindAndCountAll(ctx, notifications.Filter{UserID: user, Read: boolPtr(false), Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.NotContains(t, ids(items), created[0].ID)
	})

	t.Run("mark delivered once", func(t *testing.T) {
		changed, err := store.MarkDelivered(ctx, created[1].ID)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = store.MarkDelivered(ctx, created[1].ID)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = store.MarkDelivered(ctx, uuid.NewString())
		assert.ErrorIs(t, err, notifications.ErrNotFound)

		got, err := store.Get(ctx, created[1].ID)
		require.NoError(t, err)
		assert.True(t, got.Delivered)
		assert.NotNil(t, got.DeliveredAt)
	})

	t.Run("soft delete", func(t *testing.T) {
		require.NoError(t, store.SoftDelete(ctx, created[2].ID))
		assert.ErrorIs(t, store.SoftDelete(ctx, created[2].ID), notifications.ErrNotFound)

		got, err := store.Get(ctx, created[2].ID)
		require.NoError(t, err)
		assert.True(t, got.Deleted())

		_, total, err := store.FindAndCountAll(ctx, notifications.Filter{UserID: user, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := store.Stats(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 2, st.Total)
		assert.Equal(t, 1, st.Unread)
		assert.Equal(t, 1, st.Delivered)
		assert.Equal(t, map[string]int{"message": 2}, st.ByType)
	})
}

type recordedQuery struct {
	sql  string
	args []any
}

// recordingDB captures statements; updates affect one row and single-row
// reads find nothing.
type recordingDB struct {
	mu      sync.Mutex
	queries []recordedQuery
}

type emptyRow struct{}

func (emptyRow) Scan(...any) error { return pgx.ErrNoRows }

func (d *recordingDB) record(sql string, args []any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, recordedQuery{sql: sql, args: args})
}

func (d *recordingDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.record(sql, args)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (d *recordingDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.record(sql, args)
	return nil, pgx.ErrNoRows
}

func (d *recordingDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	d.record(sql, args)
	return emptyRow{}
}

func (d *recordingDB) last() recordedQuery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries[len(d.queries)-1]
}

func (d *recordingDB) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queries)
}

func TestPostgresStorage_LooksUpByPrimaryKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := &recordingDB{}
	store := notifications.NewPostgresStorage(db)
	id := uuid.NewString()

	_, err := store.Get(ctx, strings.ToUpper(id))
	assert.ErrorIs(t, err, notifications.ErrNotFound)
	q := db.last()
	assert.Contains(t, q.sql, "WHERE id = $1")
	assert.NotContains(t, q.sql, "id::text =")
	assert.Equal(t, []any{id}, q.args)

	changed, err := store.MarkDelivered(ctx, id)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, db.last().sql, "WHERE id = $1 AND delivered = FALSE")

	require.NoError(t, store.SoftDelete(ctx, id))
	assert.Contains(t, db.last().sql, "WHERE id = $1 AND deleted_at IS NULL")

	n, err := store.MarkRead(ctx, "u1", []string{id, "not-a-uuid"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	q = db.last()
	assert.Contains(t, q.sql, "id = ANY($2::uuid[])")
	assert.Equal(t, []any{"u1", []string{id}}, q.args)
}

func TestPostgresStorage_MalformedIDsSkipTheDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := &recordingDB{}
	store := notifications.NewPostgresStorage(db)

	_, err := store.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, notifications.ErrNotFound)
	_, err = store.MarkDelivered(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, notifications.ErrNotFound)
	assert.ErrorIs(t, store.SoftDelete(ctx, "not-a-uuid"), notifications.ErrNotFound)

	n, err := store.MarkRead(ctx, "u1", []string{"not-a-uuid"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, db.count())
}

var _ notifications.DB = (*pgxpool.Pool)(nil)
