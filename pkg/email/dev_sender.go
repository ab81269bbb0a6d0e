package email

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"
)

// DevSender writes every message to dir as <stamp>_<tag>.html and a JSON
// file with the remaining fields. Meant for local development.
type DevSender struct {
	dir string
	seq atomic.Uint64
	now func() time.Time
}

// NewDevSender creates the sender. The directory is created on first send.
func NewDevSender(dir string) *DevSender {
	return &DevSender{dir: dir, now: time.Now}
}

type devRecord struct {
	Timestamp string            `json:"timestamp"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	Tag       string            `json:"tag,omitempty"`
	TextBody  string            `json:"text_body,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (d *DevSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %w", ErrFailedToSendEmail, err)
	}

	now := d.now()
	name := msg.Tag
	if name == "" {
		name = msg.Subject
	}
	// The sequence keeps names unique within one second.
	base := fmt.Sprintf("%s_%04d_%s", now.Format("2006_01_02_150405"), d.seq.Add(1), sanitizeFilename(name))

	if msg.HTMLBody != "" {
		if err := os.WriteFile(filepath.Join(d.dir, base+".html"), []byte(msg.HTMLBody), 0o644); err != nil {
			return fmt.Errorf("%w: write html: %w", ErrFailedToSendEmail, err)
		}
	}

	rec, err := json.MarshalIndent(devRecord{
		Timestamp: now.Format(time.RFC3339),
		To:        msg.To,
		Subject:   msg.Subject,
		Tag:       msg.Tag,
		TextBody:  msg.TextBody,
		Metadata:  msg.Metadata,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal record: %w", ErrFailedToSendEmail, err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, base+".json"), rec, 0o644); err != nil {
		return fmt.Errorf("%w: write record: %w", ErrFailedToSendEmail, err)
	}
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeFilenameChars.ReplaceAllString(s, "")
	if len(s) > 100 {
		s = s[:100]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
