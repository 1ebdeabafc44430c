package email

import (
	"context"
	"log/slog"

	"gogetit/internal/domain/mail"
)

// NoopSender is used when no provider should be contacted (local development
// with no SMTP settings, tests). Every send is logged and reported as Skipped.
type NoopSender struct{}

// NewNoopSender creates a new NoopSender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

// Send logs the request and skips delivery.
// POST: Returns a Skipped outcome; nothing leaves the process
func (s *NoopSender) Send(_ context.Context, req SendRequest) mail.Outcome {
	slog.Info("notify_skipped", "sender", "noop", "to", req.To, "subject", req.Subject)
	return mail.Skipped("delivery disabled")
}
