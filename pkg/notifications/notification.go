package notifications

import (
	"fmt"
	"time"
)

// Exchange is the topic exchange delivery jobs are published to.
const Exchange = "notifications"

// DeliveryType is the channel a notification is delivered through.
type DeliveryType string

const (
	DeliveryEmail DeliveryType = "email"
	DeliverySMS   DeliveryType = "sms"
	DeliveryPush  DeliveryType = "push"
	DeliveryInApp DeliveryType = "in-app"
	DeliveryNone  DeliveryType = "none"
)

// DeliveryTypes lists every channel that produces delivery jobs.
var DeliveryTypes = []DeliveryType{DeliveryEmail, DeliverySMS, DeliveryPush, DeliveryInApp}

// ParseDeliveryType accepts the wire names including "none".
func ParseDeliveryType(s string) (DeliveryType, error) {
	switch d := DeliveryType(s); d {
	case DeliveryEmail, DeliverySMS, DeliveryPush, DeliveryInApp, DeliveryNone:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDeliveryType, s)
}

// RoutingKey is the key jobs for this channel are published under.
func (d DeliveryType) RoutingKey() string { return Exchange + ".delivery." + string(d) }

// Queue is the queue the channel's delivery worker consumes.
func (d DeliveryType) Queue() string { return Exchange + "." + string(d) }

// Notification is a persisted user notification. It is never physically
// deleted; DeletedAt marks soft deletion.
type Notification struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	Read         bool           `json:"read"`
	Delivered    bool           `json:"delivered"`
	DeliveryType DeliveryType   `json:"deliveryType"`
	DeliveredAt  *time.Time     `json:"deliveredAt,omitempty"`
	DeletedAt    *time.Time     `json:"deletedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Deleted reports whether the notification was soft-deleted.
func (n *Notification) Deleted() bool { return n.DeletedAt != nil }

// JobNotification is the notification snapshot carried by a Job.
type JobNotification struct {
	ID      string         `json:"id"`
	UserID  string         `json:"userId"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Job is the queue message produced for one delivery.
type Job struct {
	Notification JobNotification `json:"notification"`
	DeliveryType DeliveryType    `json:"deliveryType"`
}

// NewJob snapshots n into a delivery job.
func NewJob(n Notification) Job {
	return Job{
		Notification: JobNotification{
			ID:      n.ID,
			UserID:  n.UserID,
			Type:    n.Type,
			Title:   n.Title,
			Message: n.Message,
			Data:    n.Data,
		},
		DeliveryType: n.DeliveryType,
	}
}

// Filter selects a user's notifications. Soft-deleted rows are always
// excluded. Results are ordered newest first.
type Filter struct {
	UserID string
	Read   *bool
	Type   string
	Limit  int
	Offset int
}

func (f Filter) match(n *Notification) bool {
	if n.UserID != f.UserID || n.Deleted() {
		return false
	}
	if f.Read != nil && n.Read != *f.Read {
		return false
	}
	return f.Type == "" || n.Type == f.Type
}

// Stats summarises a user's active notifications.
type Stats struct {
	Total     int            `json:"total"`
	Unread    int            `json:"unread"`
	Delivered int            `json:"delivered"`
	ByType    map[string]int `json:"byType"`
}
