package notifications

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/notifykit/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the notifications schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg pg.Config, log *slog.Logger) error {
	return pg.Migrate(ctx, pool, cfg, migrations, "migrations", log)
}

// DB is the subset of pgxpool.Pool the storage uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStorage stores notifications in the notifications table.
type PostgresStorage struct {
	db DB
}

func NewPostgresStorage(db DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

const selectColumns = `id::text, user_id, type, title, message, data, read, delivered,
	delivery_type, delivered_at, deleted_at, created_at, updated_at`

func (s *PostgresStorage) Create(ctx context.Context, n Notification) error {
	data, err := encodeData(n.Data)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO notifications
		(id, user_id, type, title, message, data, read, delivered, delivery_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, data, n.Read, n.Delivered,
		string(n.DeliveryType), n.CreatedAt, n.UpdatedAt)
	switch {
	case pg.IsDuplicateKeyError(err):
		return ErrDuplicateID
	case err != nil:
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// parseID normalizes id so lookups hit the primary key. Ids that are not
// UUIDs cannot exist in the table.
func parseID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func (s *PostgresStorage) Get(ctx context.Context, id string) (*Notification, error) {
	id, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStorage) FindAndCountAll(ctx context.Context, f Filter) ([]Notification, int, error) {
	where := []string{"user_id = $1", "deleted_at IS NULL"}
	args := []any{f.UserID}
	if f.Read != nil {
		args = append(args, *f.Read)
		where = append(where, fmt.Sprintf("read = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	query := `SELECT ` + selectColumns + ` FROM notifications WHERE ` + cond +
		` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return items, total, nil
}

func (s *PostgresStorage) MarkRead(ctx context.Context, userID string, ids []string) (int, error) {
	query := `UPDATE notifications SET read = TRUE, updated_at = NOW()
		WHERE user_id = $1 AND read = FALSE AND deleted_at IS NULL`
	args := []any{userID}
	if len(ids) > 0 {
		valid := make([]string, 0, len(ids))
		for _, id := range ids {
			if id, ok := parseID(id); ok {
				valid = append(valid, id)
			}
		}
		if len(valid) == 0 {
			return 0, nil
		}
		query += ` AND id = ANY($2::uuid[])`
		args = append(args, valid)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStorage) MarkDelivered(ctx context.Context, id string) (bool, error) {
	id, ok := parseID(id)
	if !ok {
		return false, ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE notifications
		SET delivered = TRUE, delivered_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND delivered = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *PostgresStorage) SoftDelete(ctx context.Context, id string) error {
	id, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) Stats(ctx context.Context, userID string) (Stats, error) {
	rows, err := s.db.Query(ctx, `SELECT type, COUNT(*),
		COUNT(*) FILTER (WHERE NOT read),
		COUNT(*) FILTER (WHERE delivered)
		FROM notifications
		WHERE user_id = $1 AND deleted_at IS NULL
		GROUP BY type`, userID)
	if err != nil {
		return Stats{}, fmt.Errorf("notification stats: %w", err)
	}
	defer rows.Close()

	st := Stats{ByType: make(map[string]int)}
	for rows.Next() {
		var (
			typ                      string
			total, unread, delivered int
		)
		if err := rows.Scan(&typ, &total, &unread, &delivered); err != nil {
			return Stats{}, fmt.Errorf("notification stats: %w", err)
		}
		st.ByType[typ] = total
		st.Total += total
		st.Unread += unread
		st.Delivered += delivered
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("notification stats: %w", err)
	}
	return st, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n    Notification
		data []byte
		dt   string
	)
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &data, &n.Read, &n.Delivered,
		&dt, &n.DeliveredAt, &n.DeletedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.DeliveryType = DeliveryType(dt)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		if len(n.Data) == 0 {
			n.Data = nil
		}
	}
	return &n, nil
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return b, nil
}

var _ Storage = (*PostgresStorage)(nil)
