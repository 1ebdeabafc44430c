package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gogetit/internal/adapters/email"
	outboxStore "gogetit/internal/adapters/storage/outbox"
	domain "gogetit/internal/domain/outbox"
)

// OutboxProcessor retries deferred notifications with exponential backoff.
type OutboxProcessor struct {
	store     outboxStore.Store
	executors map[string]ActionExecutor
	baseDelay time.Duration
	maxDelay  time.Duration
	batchSize int
	now       func() time.Time
}

// ActionExecutor executes a specific type of deferred action.
type ActionExecutor interface {
	// Execute runs the action with the given payload.
	// Returns the external ID (e.g., provider message ID) and any error.
	Execute(ctx context.Context, payload string) (string, error)
}

// ProcessSummary counts what one pass over the outbox did.
type ProcessSummary struct {
	Processed int
	Succeeded int
	Failed    int
	Deferred  int // still inside their backoff window
	Contended int // claimed by another worker first
}

// NewOutboxProcessor creates a new outbox processor.
func NewOutboxProcessor(store outboxStore.Store, executors map[string]ActionExecutor) *OutboxProcessor {
	return &OutboxProcessor{
		store:     store,
		executors: executors,
		baseDelay: 30 * time.Second,
		maxDelay:  1 * time.Hour,
		batchSize: 10,
		now:       time.Now,
	}
}

// NewNotificationProcessor wires the notification executor to sender.
func NewNotificationProcessor(store outboxStore.Store, sender email.Sender) *OutboxProcessor {
	return NewOutboxProcessor(store, map[string]ActionExecutor{
		domain.ActionTypeNotification: &NotificationExecutor{Sender: sender},
	})
}

// WithBackoff overrides the retry delays.
func (p *OutboxProcessor) WithBackoff(base, maxDelay time.Duration) *OutboxProcessor {
	p.baseDelay = base
	p.maxDelay = maxDelay
	return p
}

// WithClock overrides time.Now.
func (p *OutboxProcessor) WithClock(now func() time.Time) *OutboxProcessor {
	p.now = now
	return p
}

// ProcessPending processes pending outbox entries whose backoff has elapsed.
// Once ctx is done no further entry is started, but an entry already being
// sent runs to completion so its result is saved.
// PRE: Context is valid
// POST: Up to batchSize due entries are attempted once; results saved
func (p *OutboxProcessor) ProcessPending(ctx context.Context) (ProcessSummary, error) {
	var sum ProcessSummary
	due, deferred, err := p.collectDue(ctx)
	sum.Deferred = deferred
	if err != nil {
		return sum, err
	}

	for _, entry := range due {
		if ctx.Err() != nil {
			slog.Info("outbox_pass_interrupted", "remaining", len(due)-sum.Processed-sum.Contended)
			break
		}
		ok, err := p.processEntry(context.WithoutCancel(ctx), entry, entry)
		if errors.Is(err, domain.ErrClaimed) {
			sum.Contended++
			slog.Info("outbox_entry_contended", "entry_id", entry.ID)
			continue
		}
		sum.Processed++
		if err != nil {
			slog.Error("outbox_process_failed", "entry_id", entry.ID, "action_type", entry.ActionType, "error", err.Error())
		}
		if ok {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum, nil
}

// collectDue pages through pending entries, oldest first, until batchSize
// due entries are found or the queue runs out. Entries still in backoff
// are counted, not returned.
func (p *OutboxProcessor) collectDue(ctx context.Context) ([]domain.Entry, int, error) {
	var due []domain.Entry
	deferred := 0
	now := p.now()
	for offset := 0; len(due) < p.batchSize; {
		page, err := p.store.ListPending(ctx, offset, p.batchSize)
		if err != nil {
			return nil, deferred, fmt.Errorf("list pending outbox entries: %w", err)
		}
		for _, entry := range page {
			if len(due) == p.batchSize {
				break
			}
			if entry.DueAt(now, p.baseDelay, p.maxDelay) {
				due = append(due, entry)
			} else {
				deferred++
			}
		}
		if len(page) < p.batchSize {
			break
		}
		offset += len(page)
	}
	return due, deferred, nil
}

// processEntry claims entry (as stored) and attempts next, saving the
// result. It reports whether the action succeeded; the error is for claim
// and persistence problems only.
func (p *OutboxProcessor) processEntry(ctx context.Context, stored, next domain.Entry) (bool, error) {
	next.MarkAttempt(p.now())
	if err := p.store.Claim(ctx, stored, next); err != nil {
		return false, err
	}

	executor, ok := p.executors[next.ActionType]
	if !ok {
		next.MarkFailed(fmt.Errorf("no executor registered for action type: %s", next.ActionType))
		return false, p.store.Save(ctx, next)
	}

	externalID, err := executor.Execute(ctx, next.Payload)
	if err != nil {
		next.MarkFailed(err)
		slog.Warn("outbox_action_failed",
			"entry_id", next.ID,
			"attempt", next.Attempts,
			"max_attempts", next.MaxAttempts,
			"status", next.Status,
			"error", err.Error(),
		)
	} else {
		next.MarkSuccess(externalID)
		slog.Info("outbox_action_succeeded", "entry_id", next.ID, "action_type", next.ActionType, "external_id", externalID)
	}

	return err == nil, p.store.Save(ctx, next)
}

// ProcessSingle immediately retries one entry, ignoring backoff. A failed
// entry is requeued with a fresh attempt budget first.
// PRE: entryID is non-empty
// POST: Entry attempted once and saved; ErrTerminal for done or abandoned,
// ErrClaimed if another worker is attempting it
func (p *OutboxProcessor) ProcessSingle(ctx context.Context, entryID string) (domain.Entry, error) {
	stored, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("get outbox entry: %w", err)
	}

	next := stored
	switch stored.Status {
	case domain.StatusDone, domain.StatusAbandoned:
		return stored, fmt.Errorf("%w: %s is %s", domain.ErrTerminal, entryID, stored.Status)
	case domain.StatusFailed:
		next.Requeue()
	}

	if _, err := p.processEntry(ctx, stored, next); err != nil {
		return stored, err
	}
	return p.store.GetByID(ctx, entryID)
}

// AbandonEntry marks an entry as abandoned by an operator.
// PRE: entryID is non-empty
// POST: Entry status set to abandoned; ErrTerminal if already done
func (p *OutboxProcessor) AbandonEntry(ctx context.Context, entryID string) error {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return fmt.Errorf("get outbox entry: %w", err)
	}
	if entry.Status == domain.StatusDone {
		return fmt.Errorf("%w: %s already delivered", domain.ErrTerminal, entryID)
	}

	entry.MarkAbandoned()
	return p.store.Save(ctx, entry)
}

// --- Notification Executor ---

// errNotDelivered is returned when a retry ends Skipped.
var errNotDelivered = errors.New("notification not delivered")

// NotificationExecutor replays a queued notification through a Sender.
type NotificationExecutor struct {
	Sender email.Sender
}

// Execute sends the queued notification.
// PRE: payload is valid JSON matching domain.NotificationPayload
// POST: Returns the provider message ID on Sent; an error otherwise
// INVARIANT: outbox entry status managed by caller
func (e *NotificationExecutor) Execute(ctx context.Context, payload string) (string, error) {
	p, err := domain.DecodeNotification(payload)
	if err != nil {
		return "", err
	}

	out := e.Sender.Send(ctx, email.SendRequest{Subject: p.Subject, Body: p.Body, To: p.To})
	switch {
	case out.IsSent():
		return out.MessageID, nil
	case out.IsSkipped():
		return "", fmt.Errorf("%w: %s", errNotDelivered, out.Error())
	default:
		return "", out
	}
}

// --- Background Worker ---

// StartBackgroundWorker starts a background goroutine that periodically processes pending outbox entries.
// Closing stopCh stops the worker between entries; the returned channel is
// closed once the goroutine has exited, after any in-flight send is saved.
// PRE: stopCh is provided to signal shutdown
// POST: Worker runs until stopCh is closed
func StartBackgroundWorker(processor *OutboxProcessor, interval time.Duration, stopCh <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	base, cancelBase := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stopCh:
			cancelBase()
		case <-done:
		}
	}()

	go func() {
		defer close(done)
		defer cancelBase()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(base, 5*time.Minute)
				sum, err := processor.ProcessPending(ctx)
				if err != nil {
					slog.Error("outbox_background_process_failed", "error", err.Error())
				} else if sum.Processed > 0 || sum.Contended > 0 {
					slog.Info("outbox_background_processed",
						"processed", sum.Processed,
						"succeeded", sum.Succeeded,
						"failed", sum.Failed,
						"deferred", sum.Deferred,
						"contended", sum.Contended,
					)
				}
				cancel()
			case <-stopCh:
				slog.Info("outbox_background_worker_stopped")
				return
			}
		}
	}()
	return done
}
