package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// PostmarkSender sends through Postmark's transactional API.
type PostmarkSender struct {
	client *postmark.Client
	config Config
}

// PostmarkOption configures a PostmarkSender.
type PostmarkOption func(*PostmarkSender)

// WithPostmarkClient replaces the API client, e.g. to point it at a test server.
func WithPostmarkClient(c *postmark.Client) PostmarkOption {
	return func(s *PostmarkSender) {
		if c != nil {
			s.client = c
		}
	}
}

// NewPostmarkSender validates cfg and creates the sender.
func NewPostmarkSender(cfg Config, opts ...PostmarkOption) (*PostmarkSender, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if cfg.PostmarkAccountToken == "" {
		return nil, fmt.Errorf("%w: PostmarkAccountToken is required", ErrInvalidConfig)
	}
	if err := validate.Var(cfg.SenderEmail, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if cfg.SupportEmail != "" {
		if err := validate.Var(cfg.SupportEmail, "email"); err != nil {
			return nil, fmt.Errorf("%w: SupportEmail must be a valid email address", ErrInvalidConfig)
		}
	}

	s := &PostmarkSender{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MustNewPostmarkSender panics on invalid config.
func MustNewPostmarkSender(cfg Config, opts ...PostmarkOption) *PostmarkSender {
	s, err := NewPostmarkSender(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Send tracks opens and HTML link clicks. Replies go to SupportEmail when set.
func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.config.SenderEmail,
		ReplyTo:    s.config.SupportEmail,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		Metadata:   msg.Metadata,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
