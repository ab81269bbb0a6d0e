package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Message is an outgoing email. At least one body is required.
type Message struct {
	To       string            `json:"to" validate:"required,email"`
	Subject  string            `json:"subject" validate:"required,max=998"`
	HTMLBody string            `json:"html_body,omitempty" validate:"required_without=TextBody"`
	TextBody string            `json:"text_body,omitempty" validate:"required_without=HTMLBody"`
	Tag      string            `json:"tag,omitempty" validate:"max=1000"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports ErrInvalidMessage joined with the failing fields.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Errorf("%s: failed on %q", fe.Field(), fe.Tag()))
			}
			return errors.Join(append([]error{ErrInvalidMessage}, fields...)...)
		}
		return errors.Join(ErrInvalidMessage, err)
	}
	return nil
}

// NewSender builds the sender selected by cfg.Driver.
func NewSender(cfg Config, log *slog.Logger) (Sender, error) {
	switch cfg.Driver {
	case DriverPostmark:
		return NewPostmarkSender(cfg)
	case DriverDir:
		return NewDevSender(cfg.OutputDir), nil
	case DriverLog, "":
		return NewLogSender(log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
