package email

import (
	"context"

	"gogetit/internal/domain/mail"
)

// SendRequest is one notification to deliver.
type SendRequest struct {
	Subject string
	Body    string // plain text
	To      string // optional; empty means ALERT_TO_EMAIL
}

// Sender delivers a notification and reports how it ended.
// Implementations never panic and never return a Go error: every failure is
// a mail.Outcome with Status Failed.
type Sender interface {
	Send(ctx context.Context, req SendRequest) mail.Outcome
}
