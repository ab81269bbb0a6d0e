package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/cache"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// HeaderNotificationID carries the notification id on published jobs.
const HeaderNotificationID = "x-notification-id"

// Publisher is the part of broker.Provider the service needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload any, opts broker.PublishOptions) error
}

// CreateRequest describes a new notification. DeliveryType defaults to
// in-app; Deliver requests a delivery job.
type CreateRequest struct {
	UserID       string         `json:"userId" validate:"required,max=255"`
	Type         string         `json:"type" validate:"required,max=100"`
	Title        string         `json:"title" validate:"required,max=255"`
	Message      string         `json:"message" validate:"required,max=10000"`
	Data         map[string]any `json:"data,omitempty"`
	DeliveryType DeliveryType   `json:"deliveryType,omitempty" validate:"omitempty,oneof=email sms push in-app none"`
	Deliver      bool           `json:"deliver"`
}

// Page is one page of a user's notifications.
type Page struct {
	Items  []Notification `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Service implements the notification use cases.
type Service struct {
	store      Storage
	publisher  Publisher
	channels   map[DeliveryType]bool
	statsCache cache.Provider
	statsTTL   time.Duration
	validate   *validator.Validate
	logger     *slog.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChannels restricts delivery to the given channels. Create rejects a
// delivery request for any other channel. All channels are accepted when
// the option is not given.
func WithChannels(channels ...string) ServiceOption {
	return func(s *Service) {
		s.channels = make(map[DeliveryType]bool, len(channels))
		for _, ch := range channels {
			s.channels[DeliveryType(strings.TrimSpace(ch))] = true
		}
	}
}

// WithStatsCache memoizes Stats in p under stats:<userId> for ttl. Entries
// are dropped on Create, MarkAsRead and Delete; delivery confirmations show
// up once the entry expires.
func WithStatsCache(p cache.Provider, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if p != nil && ttl > 0 {
			s.statsCache = p
			s.statsTTL = ttl
		}
	}
}

// NewService builds the service. A nil publisher disables delivery jobs.
func NewService(store Storage, publisher Publisher, opts ...ServiceOption) *Service {
	if store == nil {
		panic("notifications: nil storage")
	}
	s := &Service{
		store:     store,
		publisher: publisher,
		validate:  newValidator(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("notifications"))
	return s
}

// Create validates and persists req. When delivery is requested for a
// channel other than none, one job is published. A publish failure is
// logged; the notification stays undelivered.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Notification, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Type = strings.TrimSpace(req.Type)
	req.Title = strings.TrimSpace(req.Title)
	if req.DeliveryType == "" {
		req.DeliveryType = DeliveryInApp
	}
	if err := s.check(req); err != nil {
		return nil, err
	}
	if req.Deliver && req.DeliveryType != DeliveryNone && s.channels != nil && !s.channels[req.DeliveryType] {
		verr := &ValidationError{}
		verr.add("deliveryType", "channel "+string(req.DeliveryType)+" is not enabled")
		return nil, verr
	}

	now := s.now().UTC()
	n := Notification{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		Data:         req.Data,
		DeliveryType: req.DeliveryType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}
	s.invalidateStats(ctx, n.UserID)

	if req.Deliver && n.DeliveryType != DeliveryNone {
		s.publish(ctx, n)
	}
	return &n, nil
}

func (s *Service) publish(ctx context.Context, n Notification) {
	log := s.logger.With(logger.NotificationID(n.ID), logger.UserID(n.UserID), logger.Channel(string(n.DeliveryType)))
	if s.publisher == nil {
		log.WarnContext(ctx, "delivery requested but no publisher configured")
		return
	}
	key := n.DeliveryType.RoutingKey()
	err := s.publisher.Publish(ctx, Exchange, key, NewJob(n), broker.PublishOptions{
		Headers: map[string]string{HeaderNotificationID: n.ID},
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to publish delivery job, notification stored undelivered",
			logger.RoutingKey(key),
			logger.Error(err))
		return
	}
	log.DebugContext(ctx, "delivery job published", logger.RoutingKey(key))
}

// GetUserNotifications lists a user's active notifications. Limit defaults
// to DefaultLimit and is capped at MaxLimit.
func (s *Service) GetUserNotifications(ctx context.Context, f Filter) (Page, error) {
	f.UserID = strings.TrimSpace(f.UserID)
	if f.UserID == "" {
		return Page{}, requiredField("userId")
	}
	if f.Offset < 0 {
		verr := &ValidationError{}
		verr.add("offset", "must not be negative")
		return Page{}, verr
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}

	items, total, err := s.store.FindAndCountAll(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("list notifications: %w", err)
	}
	if items == nil {
		items = []Notification{}
	}
	return Page{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// MarkAsRead marks the user's notifications read, all of them when ids is
// empty. Notifications of other users are never touched.
func (s *Service) MarkAsRead(ctx context.Context, userID string, ids []string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, requiredField("userId")
	}
	n, err := s.store.MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		s.invalidateStats(ctx, userID)
	}
	return n, nil
}

func (s *Service) Stats(ctx context.Context, userID string) (Stats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Stats{}, requiredField("userId")
	}
	load := func(ctx context.Context) (Stats, error) { return s.store.Stats(ctx, userID) }
	var (
		st  Stats
		err error
	)
	if s.statsCache != nil {
		st, err = cache.Memoize(ctx, s.statsCache, statsKey(userID), s.statsTTL, load)
	} else {
		st, err = load(ctx)
	}
	if err != nil {
		return Stats{}, fmt.Errorf("notification stats: %w", err)
	}
	return st, nil
}

func statsKey(userID string) string { return "stats:" + userID }

func (s *Service) invalidateStats(ctx context.Context, userID string) {
	if s.statsCache == nil {
		return
	}
	if err := s.statsCache.Delete(ctx, statsKey(userID)); err != nil && !cache.IsMiss(err) {
		s.logger.WarnContext(ctx, "failed to drop cached stats", logger.UserID(userID), logger.Error(err))
	}
}

// Get returns an active notification.
func (s *Service) Get(ctx context.Context, id string) (*Notification, error) {
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Deleted() {
		return nil, ErrNotFound
	}
	return n, nil
}

// Delete soft-deletes a notification.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s.statsCache == nil {
		return s.store.SoftDelete(ctx, id)
	}
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.invalidateStats(ctx, n.UserID)
	return nil
}

func (s *Service) check(req CreateRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Join(ErrInvalidRequest, err)
	}
	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.add(fe.Field(), message(fe))
	}
	return verr
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

func requiredField(name string) error {
	verr := &ValidationError{}
	verr.add(name, "is required")
	return verr
}
