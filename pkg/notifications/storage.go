package notifications

import "context"

// Storage persists notifications.
type Storage interface {
	Create(ctx context.Context, n Notification) error
	// Get returns the notification by id, soft-deleted ones included.
	Get(ctx context.Context, id string) (*Notification, error)
	// FindAndCountAll returns one page of matches and the total match count.
	FindAndCountAll(ctx context.Context, f Filter) ([]Notification, int, error)
	// MarkRead marks the user's unread notifications with the given ids, or
	// all of them when ids is empty, and returns how many changed. Ids owned
	// by another user are ignored.
	MarkRead(ctx context.Context, userID string, ids []string) (int, error)
	// MarkDelivered flips delivered from false to true and reports whether
	// this call changed it.
	MarkDelivered(ctx context.Context, id string) (bool, error)
	SoftDelete(ctx context.Context, id string) error
	Stats(ctx context.Context, userID string) (Stats, error)
}
