package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/gateway"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

// Sender delivers a job over one channel. Errors wrapping ErrUndeliverable
// are permanent; any other error is retried.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, job Job) error

func (f SenderFunc) Send(ctx context.Context, job Job) error { return f(ctx, job) }

// Emitter is the part of gateway.Gateway used for in-app delivery.
type Emitter interface {
	EmitToRoom(ctx context.Context, ns, room, event string, data any) bool
}

// InAppSender pushes a notification event into the user's websocket room.
type InAppSender struct {
	emitter   Emitter
	namespace string
}

// NewInAppSender emits into ns, gateway.DefaultNamespace when empty.
func NewInAppSender(e Emitter, ns string) *InAppSender {
	if ns == "" {
		ns = gateway.DefaultNamespace
	}
	return &InAppSender{emitter: e, namespace: ns}
}

func (s *InAppSender) Send(ctx context.Context, job Job) error {
	room := gateway.UserRoom(job.Notification.UserID)
	if !s.emitter.EmitToRoom(ctx, s.namespace, room, gateway.EventNotification, job.Notification) {
		return fmt.Errorf("%w: room %s", ErrEmitFailed, room)
	}
	return nil
}

// AddressBook resolves where a channel reaches a user.
type AddressBook interface {
	Address(ctx context.Context, ch DeliveryType, n JobNotification) (string, error)
}

// AddressBookFunc adapts a function to AddressBook.
type AddressBookFunc func(ctx context.Context, ch DeliveryType, n JobNotification) (string, error)

func (f AddressBookFunc) Address(ctx context.Context, ch DeliveryType, n JobNotification) (string, error) {
	return f(ctx, ch, n)
}

// Keys read from notification data by DataAddressBook.
const (
	DataKeyEmail       = "email"
	DataKeyPhone       = "phone"
	DataKeyDeviceToken = "deviceToken"
)

// DataAddressBook reads the address from the notification data payload.
var DataAddressBook = AddressBookFunc(func(_ context.Context, ch DeliveryType, n JobNotification) (string, error) {
	var key string
	switch ch {
	case DeliveryEmail:
		key = DataKeyEmail
	case DeliverySMS:
		key = DataKeyPhone
	case DeliveryPush:
		key = DataKeyDeviceToken
	default:
		return "", fmt.Errorf("%w: %s", ErrMissingAddress, ch)
	}
	if v, ok := n.Data[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	return "", fmt.Errorf("%w: data.%s not set", ErrMissingAddress, key)
})

var emailBody = template.Must(template.New("notification").Parse(
	`<!DOCTYPE html><html><body><h1>{{.Title}}</h1><p>{{.Message}}</p></body></html>`))

// EmailSender delivers through pkg/email.
type EmailSender struct {
	sender email.Sender
	book   AddressBook
}

func NewEmailSender(s email.Sender, book AddressBook) *EmailSender {
	if book == nil {
		book = DataAddressBook
	}
	return &EmailSender{sender: s, book: book}
}

func (s *EmailSender) Send(ctx context.Context, job Job) error {
	n := job.Notification
	to, err := s.book.Address(ctx, DeliveryEmail, n)
	if err != nil {
		return undeliverable(err)
	}
	var html bytes.Buffer
	if err := emailBody.Execute(&html, n); err != nil {
		return undeliverable(err)
	}
	msg := email.Message{
		To:       to,
		Subject:  n.Title,
		HTMLBody: html.String(),
		TextBody: n.Message,
		Tag:      n.Type,
		Metadata: map[string]string{"notification_id": n.ID, "user_id": n.UserID},
	}
	if err := msg.Validate(); err != nil {
		return undeliverable(err)
	}
	return s.sender.Send(ctx, msg)
}

// RelayPayload is the body posted to an sms or push gateway.
type RelayPayload struct {
	NotificationID string         `json:"notificationId"`
	UserID         string         `json:"userId"`
	Channel        DeliveryType   `json:"channel"`
	To             string         `json:"to"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
}

// RelaySender posts sms and push jobs to an HTTP gateway as signed JSON.
type RelaySender struct {
	channel DeliveryType
	url     string
	client  *webhook.Sender
	book    AddressBook
	opts    []webhook.SendOption
}

// NewRelaySender builds a sender for ch posting to url. opts are applied to
// every request, typically webhook.WithSignature and webhook.WithRetry.
func NewRelaySender(ch DeliveryType, url string, client *webhook.Sender, book AddressBook, opts ...webhook.SendOption) *RelaySender {
	if client == nil {
		client = webhook.NewSender()
	}
	if book == nil {
		book = DataAddressBook
	}
	return &RelaySender{channel: ch, url: url, client: client, book: book, opts: opts}
}

func (s *RelaySender) Send(ctx context.Context, job Job) error {
	n := job.Notification
	to, err := s.book.Address(ctx, s.channel, n)
	if err != nil {
		return undeliverable(err)
	}
	payload := RelayPayload{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        s.channel,
		To:             to,
		Title:          n.Title,
		Message:        n.Message,
		Data:           n.Data,
	}
	opts := append([]webhook.SendOption{webhook.WithHeader(HeaderNotificationID, n.ID)}, s.opts...)
	if err := s.client.Send(ctx, s.url, payload, opts...); err != nil {
		if webhook.IsPermanent(err) {
			return undeliverable(err)
		}
		return err
	}
	return nil
}
