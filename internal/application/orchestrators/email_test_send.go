package orchestrators

import (
	"context"
	"log/slog"

	"gogetit/internal/adapters/email"
	"gogetit/internal/domain/mail"
	"gogetit/internal/domain/submission"
)

// EmailTestDeps are the external dependencies for the delivery diagnostic.
type EmailTestDeps struct {
	Sender email.Sender
}

// SendNotificationCommand is an operator-initiated notification.
type SendNotificationCommand struct {
	Subject string // defaults to the diagnostic subject
	Body    string // defaults to the diagnostic body
	To      string // defaults to ALERT_TO_EMAIL
}

// ExecuteEmailTest sends one notification and reports the raw outcome so an
// operator can see configuration or transport problems. Nothing is queued.
// PRE: deps.Sender is non-nil
// POST: Exactly one Send call; the outcome is returned unchanged
func ExecuteEmailTest(ctx context.Context, cmd SendNotificationCommand, deps EmailTestDeps) mail.Outcome {
	if cmd.Subject == "" {
		cmd.Subject = submission.EmailTestSubject
	}
	if cmd.Body == "" {
		cmd.Body = submission.EmailTestBody
	}

	out := deps.Sender.Send(ctx, email.SendRequest{Subject: cmd.Subject, Body: cmd.Body, To: cmd.To})
	if out.IsFailed() {
		slog.Error("email_test_failed", "kind", out.Kind, "error", out.Err)
	}
	return out
}
