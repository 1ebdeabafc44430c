package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status constants for outbox entry lifecycle.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// ActionTypeNotification replays a notification email that failed to send
// when its form was submitted.
const ActionTypeNotification = "notification"

// DefaultMaxAttempts is applied when an entry has no explicit limit.
const DefaultMaxAttempts = 5

// Domain errors.
var (
	ErrEmptyActionType = errors.New("action type is required")
	ErrEmptyPayload    = errors.New("payload is required")
	ErrNotFound        = errors.New("outbox entry not found")
	ErrTerminal        = errors.New("outbox entry is in a terminal state")
	ErrClaimed         = errors.New("outbox entry was claimed by another worker")
)

// NotificationPayload is the replayable content of a queued notification.
type NotificationPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	To      string `json:"to,omitempty"` // empty means ALERT_TO_EMAIL at send time
	Source  string `json:"source"`       // form kind that produced it
}

// Encode marshals the payload for storage.
func (p NotificationPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode notification payload: %w", err)
	}
	return string(b), nil
}

// DecodeNotification parses a stored payload.
func DecodeNotification(raw string) (NotificationPayload, error) {
	var p NotificationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return NotificationPayload{}, fmt.Errorf("decode notification payload: %w", err)
	}
	return p, nil
}

// Entry represents a single deferred notification in the outbox.
type Entry struct {
	ID              string
	ActionType      string
	Payload         string // JSON payload for replay
	Status          string // pending, retrying, done, failed, abandoned
	Attempts        int
	MaxAttempts     int
	LastAttemptedAt time.Time
	CreatedAt       time.Time
	ExternalID      string // provider message ID once delivered, if any
	ErrorMessage    string // last failure
}

// NewEntry builds a pending entry whose first failure already happened
// inline, so Attempts starts at 1.
// PRE: id and payload are non-empty
// POST: Entry is pending and valid
func NewEntry(id, actionType, payload string, firstErr error, now time.Time) Entry {
	e := Entry{
		ID:              id,
		ActionType:      actionType,
		Payload:         payload,
		Status:          StatusPending,
		Attempts:        1,
		MaxAttempts:     DefaultMaxAttempts,
		LastAttemptedAt: now,
		CreatedAt:       now,
	}
	if firstErr != nil {
		e.ErrorMessage = firstErr.Error()
	}
	return e
}

// Validate checks that the Entry has valid data.
// PRE: Entry struct is populated
// POST: Returns nil if valid, error otherwise; MaxAttempts defaulted
func (e *Entry) Validate() error {
	if e.ActionType == "" {
		return ErrEmptyActionType
	}
	if e.Payload == "" {
		return ErrEmptyPayload
	}
	if e.CreatedAt.IsZero() {
		return errors.New("created_at must be set")
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	return nil
}

// CanRetry returns true if the entry can be retried.
func (e *Entry) CanRetry() bool {
	return (e.Status == StatusPending || e.Status == StatusRetrying) && e.Attempts < e.MaxAttempts
}

// IsTerminal returns true for done, abandoned, or failed entries.
func (e *Entry) IsTerminal() bool {
	return e.Status == StatusDone || e.Status == StatusAbandoned || e.Status == StatusFailed
}

// MarkAttempt records a retry attempt.
// PRE: Entry is in a retryable state
// POST: Attempts incremented, LastAttemptedAt set to now, status retrying
func (e *Entry) MarkAttempt(now time.Time) {
	e.Attempts++
	e.LastAttemptedAt = now
	e.Status = StatusRetrying
}

// MarkSuccess marks the entry as delivered.
func (e *Entry) MarkSuccess(externalID string) {
	e.Status = StatusDone
	e.ExternalID = externalID
	e.ErrorMessage = ""
}

// MarkFailed records err; the entry becomes failed once attempts run out.
// POST: ErrorMessage set; Status is failed iff Attempts >= MaxAttempts
func (e *Entry) MarkFailed(err error) {
	e.ErrorMessage = err.Error()
	if e.Attempts >= e.MaxAttempts {
		e.Status = StatusFailed
	}
}

// MarkAbandoned marks the entry as abandoned by an operator.
func (e *Entry) MarkAbandoned() {
	e.Status = StatusAbandoned
}

// Requeue gives a failed entry a fresh set of attempts.
// POST: Status pending, Attempts reset to 0
func (e *Entry) Requeue() {
	e.Status = StatusPending
	e.Attempts = 0
	e.LastAttemptedAt = time.Time{}
}

// NextRetryDelay calculates the delay before the next retry attempt.
// Uses exponential backoff: 2^attempts * baseDelay, capped at maxDelay.
func (e *Entry) NextRetryDelay(baseDelay, maxDelay time.Duration) time.Duration {
	if e.Attempts >= 30 {
		return maxDelay
	}
	delay := baseDelay * (1 << e.Attempts)
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}
	return delay
}

// DueAt reports whether the backoff window since the last attempt has passed.
func (e *Entry) DueAt(now time.Time, baseDelay, maxDelay time.Duration) bool {
	if e.LastAttemptedAt.IsZero() {
		return true
	}
	return !now.Before(e.LastAttemptedAt.Add(e.NextRetryDelay(baseDelay, maxDelay)))
}
