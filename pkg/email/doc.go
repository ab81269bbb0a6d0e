// Package email sends notification emails.
//
// Sender is implemented by PostmarkSender for production, DevSender which
// writes every message to a directory as HTML plus JSON metadata, and
// LogSender which only logs. NewSender picks one from Config.Driver.
//
//	sender, err := email.NewSender(cfg, logger)
//	if err != nil {
//		return err
//	}
//	err = sender.Send(ctx, email.Message{
//		To:       "user@example.com",
//		Subject:  "Welcome!",
//		HTMLBody: html,
//		Tag:      "welcome",
//	})
//
// Every sender validates the message first and reports ErrInvalidMessage
// for bad input, so callers can tell permanent failures from transient ones.
package email
