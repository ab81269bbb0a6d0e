package email

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a sender that logs at info level.
func NewLogSender(l *slog.Logger) *LogSender {
	if l == nil {
		l = slog.Default()
	}
	return &LogSender{logger: l}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "email sent",
		logger.Component("email"),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
		slog.Int("html_size", len(msg.HTMLBody)),
		slog.Int("text_size", len(msg.TextBody)))
	return nil
}
