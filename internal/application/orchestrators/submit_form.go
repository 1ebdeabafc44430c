package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gogetit/internal/adapters/email"
	outboxStore "gogetit/internal/adapters/storage/outbox"
	"gogetit/internal/domain/mail"
	domainOutbox "gogetit/internal/domain/outbox"
	"gogetit/internal/domain/submission"
)

// ErrInvalidSubmission wraps validation failures of a submitted form.
var ErrInvalidSubmission = errors.New("invalid submission")

// Delivery summarises what happened to a submission's notification.
type Delivery string

const (
	DeliverySent    Delivery = "sent"
	DeliverySkipped Delivery = "skipped"
	DeliveryQueued  Delivery = "queued" // degraded: stored for retry
	DeliveryDropped Delivery = "dropped"
)

// Validator checks tagged structs.
type Validator interface {
	Validate(data any) error
}

// SubmitFormDeps are the external dependencies for this orchestrator.
type SubmitFormDeps struct {
	Sender      email.Sender
	OutboxStore outboxStore.Store // nil disables queueing
	Validator   Validator
	NewID       func() string    // defaults to uuid.NewString
	Now         func() time.Time // defaults to time.Now
}

// SubmitFormResult holds the outcome of a submission.
type SubmitFormResult struct {
	Delivery Delivery
	Outcome  mail.Outcome
	OutboxID string // set when Delivery is queued
}

// ExecuteSubmitForm validates a public form and notifies the site owner.
// A failed notification never fails the submission: it is queued in the
// outbox for the background processor instead.
// PRE: form is non-nil
// POST: Returns ErrInvalidSubmission (wrapping field errors) for bad input;
// otherwise a result whose Delivery reflects the notification outcome
func ExecuteSubmitForm(ctx context.Context, form submission.Form, deps SubmitFormDeps) (SubmitFormResult, error) {
	form.Normalize()
	if deps.Validator != nil {
		if err := deps.Validator.Validate(form); err != nil {
			return SubmitFormResult{}, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
		}
	}

	req := email.SendRequest{Subject: form.Subject(), Body: form.Body()}
	out := deps.Sender.Send(ctx, req)

	switch {
	case out.IsSent():
		return SubmitFormResult{Delivery: DeliverySent, Outcome: out}, nil
	case out.IsSkipped():
		return SubmitFormResult{Delivery: DeliverySkipped, Outcome: out}, nil
	case out.Kind == mail.KindInvalidMessage:
		slog.Error("submission_notification_dropped", "form", form.Kind(), "error", out.Err)
		return SubmitFormResult{Delivery: DeliveryDropped, Outcome: out}, nil
	}

	id, err := enqueueNotification(ctx, deps, form.Kind(), req, out)
	if err != nil {
		slog.Error("submission_enqueue_failed", "form", form.Kind(), "error", err, "notify_error", out.Err)
		return SubmitFormResult{Delivery: DeliveryDropped, Outcome: out}, nil
	}
	slog.Warn("submission_degraded", "form", form.Kind(), "outbox_id", id, "kind", out.Kind)
	return SubmitFormResult{Delivery: DeliveryQueued, Outcome: out, OutboxID: id}, nil
}

// enqueueNotification stores a failed notification for retry.
func enqueueNotification(ctx context.Context, deps SubmitFormDeps, kind submission.Kind, req email.SendRequest, out mail.Outcome) (string, error) {
	if deps.OutboxStore == nil {
		return "", errors.New("outbox not configured")
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	payload, err := domainOutbox.NotificationPayload{
		Subject: req.Subject,
		Body:    req.Body,
		To:      req.To,
		Source:  string(kind),
	}.Encode()
	if err != nil {
		return "", err
	}

	entry := domainOutbox.NewEntry(newID(), domainOutbox.ActionTypeNotification, payload, out, now().UTC())
	if err := entry.Validate(); err != nil {
		return "", fmt.Errorf("validation: %w", err)
	}
	if err := deps.OutboxStore.Save(ctx, entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}
