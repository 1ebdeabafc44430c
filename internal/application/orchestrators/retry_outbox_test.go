package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gogetit/internal/adapters/email"
	"gogetit/internal/domain/mail"
	domainOutbox "gogetit/internal/domain/outbox"
)

var t0 = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)

// seedEntry stores a pending notification first attempted at t0.
func seedEntry(t *testing.T, store *memOutboxStore, id string) domainOutbox.Entry {
	t.Helper()
	payload, err := domainOutbox.NotificationPayload{Subject: "New Contact", Body: "Hi", Source: "contact"}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	e := domainOutbox.NewEntry(id, domainOutbox.ActionTypeNotification, payload, errors.New("first failure"), t0)
	if err := store.Save(context.Background(), e); err != nil {
		t.Fatalf("save: %v", err)
	}
	return e
}

func TestOutboxProcessor_RespectsBackoff(t *testing.T) {
	store := newMemOutboxStore()
	seedEntry(t, store, "o1")
	sender := newFakeSender(mail.Sent(mail.TransportStartTLS))

	// One attempt so far: next retry due 2 * 30s after t0.
	p := NewNotificationProcessor(store, sender).WithClock(func() time.Time { return t0.Add(30 * time.Second) })
	sum, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if sum.Deferred != 1 || sum.Processed != 0 || sender.calls() != 0 {
		t.Fatalf("summary = %+v, calls = %d; want deferred", sum, sender.calls())
	}

	p.WithClock(func() time.Time { return t0.Add(time.Minute) })
	sum, _ = p.ProcessPending(context.Background())
	if sum.Succeeded != 1 || sender.calls() != 1 {
		t.Fatalf("summary = %+v, calls = %d; want one success", sum, sender.calls())
	}
	e, _ := store.GetByID(context.Background(), "o1")
	if e.Status != domainOutbox.StatusDone || e.Attempts != 2 {
		t.Errorf("entry = %+v, want done after 2 attempts", e)
	}
	if sender.requests[0].Subject != "New Contact" || sender.requests[0].Body != "Hi" {
		t.Errorf("replayed request = %+v", sender.requests[0])
	}
}

func TestOutboxProcessor_GivesUpAfterMaxAttempts(t *testing.T) {
	store := newMemOutboxStore()
	seedEntry(t, store, "o1")
	sender := newFakeSender(mail.Failed(mail.KindTransport, mail.TransportStartTLS, errors.New("timeout")))

	now := t0
	p := NewNotificationProcessor(store, sender).WithClock(func() time.Time { return now })
	for i := 0; i < 10; i++ {
		now = now.Add(2 * time.Hour)
		if _, err := p.ProcessPending(context.Background()); err != nil {
			t.Fatalf("ProcessPending: %v", err)
		}
	}

	e, _ := store.GetByID(context.Background(), "o1")
	if e.Status != domainOutbox.StatusFailed || e.Attempts != domainOutbox.DefaultMaxAttempts {
		t.Errorf("entry = %+v, want failed after %d attempts", e, domainOutbox.DefaultMaxAttempts)
	}
	if sender.calls() != domainOutbox.DefaultMaxAttempts-1 {
		t.Errorf("Send calls = %d, want %d retries", sender.calls(), domainOutbox.DefaultMaxAttempts-1)
	}
	if e.ErrorMessage != "transport failure: timeout" {
		t.Errorf("ErrorMessage = %q", e.ErrorMessage)
	}
}

func TestOutboxProcessor_SkippedRetryCountsAsFailure(t *testing.T) {
	store := newMemOutboxStore()
	seedEntry(t, store, "o1")
	sender := newFakeSender(mail.Skipped("incomplete configuration"))

	p := NewNotificationProcessor(store, sender).WithClock(func() time.Time { return t0.Add(time.Hour) })
	sum, _ := p.ProcessPending(context.Background())
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want one failure", sum)
	}
	e, _ := store.GetByID(context.Background(), "o1")
	if e.Status != domainOutbox.StatusRetrying {
		t.Errorf("Status = %s, want retrying", e.Status)
	}
	if e.ErrorMessage != "notification not delivered: skipped: incomplete configuration" {
		t.Errorf("ErrorMessage = %q", e.ErrorMessage)
	}
}

func TestOutboxProcessor_UnknownActionType(t *testing.T) {
	store := newMemOutboxStore()
	e := domainOutbox.NewEntry("x", "carrier_pigeon", "{}", nil, t0)
	_ = store.Save(context.Background(), e)

	p := NewNotificationProcessor(store, newFakeSender(mail.Sent(""))).WithClock(func() time.Time { return t0.Add(time.Hour) })
	if sum, _ := p.ProcessPending(context.Background()); sum.Failed != 1 {
		t.Errorf("summary = %+v, want one failure", sum)
	}
	got, _ := store.GetByID(context.Background(), "x")
	if got.ErrorMessage != "no executor registered for action type: carrier_pigeon" {
		t.Errorf("ErrorMessage = %q", got.ErrorMessage)
	}
}

func TestOutboxProcessor_ProcessSingle(t *testing.T) {
	store := newMemOutboxStore()
	e := seedEntry(t, store, "o1")
	e.Attempts = e.MaxAttempts
	e.Status = domainOutbox.StatusFailed
	_ = store.Save(context.Background(), e)

	sent := mail.Sent("")
	sent.MessageID = "msg_9"
	p := NewNotificationProcessor(store, newFakeSender(sent)).WithClock(func() time.Time { return t0 })

	got, err := p.ProcessSingle(context.Background(), "o1")
	if err != nil {
		t.Fatalf("ProcessSingle: %v", err)
	}
	if got.Status != domainOutbox.StatusDone || got.Attempts != 1 || got.ExternalID != "msg_9" {
		t.Errorf("entry = %+v, want done on first attempt after requeue", got)
	}

	if _, err := p.ProcessSingle(context.Background(), "o1"); !errors.Is(err, domainOutbox.ErrTerminal) {
		t.Errorf("retrying a done entry: err = %v, want ErrTerminal", err)
	}
	if _, err := p.ProcessSingle(context.Background(), "missing"); !errors.Is(err, domainOutbox.ErrNotFound) {
		t.Errorf("missing entry: err = %v, want ErrNotFound", err)
	}
}

func TestOutboxProcessor_AbandonEntry(t *testing.T) {
	store := newMemOutboxStore()
	seedEntry(t, store, "o1")
	p := NewNotificationProcessor(store, newFakeSender(mail.Sent("")))

	if err := p.AbandonEntry(context.Background(), "o1"); err != nil {
		t.Fatalf("AbandonEntry: %v", err)
	}
	e, _ := store.GetByID(context.Background(), "o1")
	if e.Status != domainOutbox.StatusAbandoned {
		t.Errorf("Status = %s, want abandoned", e.Status)
	}
	if pending, _ := store.ListPending(context.Background(), 0, 10); len(pending) != 0 {
		t.Error("abandoned entry must not be pending")
	}
}

func TestStartBackgroundWorker_StopsOnClose(t *testing.T) {
	store := newMemOutboxStore()
	seedEntry(t, store, "o1")
	sender := newFakeSender(mail.Sent(""))
	p := NewNotificationProcessor(store, sender).WithBackoff(0, 0)

	stop := make(chan struct{})
	done := StartBackgroundWorker(p, 10*time.Millisecond, stop)

	deadline := time.Now().Add(2 * time.Second)
	for sender.calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(stop)
	if sender.calls() == 0 {
		t.Fatal("worker never processed the pending entry")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after stop")
	}
}

// blockingSender holds every Send until release is closed.
type blockingSender struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSender) Send(context.Context, email.SendRequest) mail.Outcome {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	return mail.Sent("")
}

func TestStartBackgroundWorker_FinishesInFlightSendBeforeDone(t *testing.T) {
	store := newMemOutboxStore()
	seedEntry(t, store, "o1")
	seedEntry(t, store, "o2")
	sender := &blockingSender{started: make(chan struct{}), release: make(chan struct{})}
	p := NewNotificationProcessor(store, sender).WithBackoff(0, 0)

	stop := make(chan struct{})
	done := StartBackgroundWorker(p, 10*time.Millisecond, stop)

	select {
	case <-sender.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started a send")
	}
	close(stop)

	select {
	case <-done:
		t.Fatal("worker exited while a send was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sender.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after the send returned")
	}

	if n := sender.calls.Load(); n != 1 {
		t.Errorf("Send calls = %d, want 1 (no new entry after stop)", n)
	}
	o1, _ := store.GetByID(context.Background(), "o1")
	if o1.Status != domainOutbox.StatusDone {
		t.Errorf("o1 status = %s, want done (result saved before exit)", o1.Status)
	}
	o2, _ := store.GetByID(context.Background(), "o2")
	if o2.Status != domainOutbox.StatusPending || o2.Attempts != 1 {
		t.Errorf("o2 = %+v, want untouched", o2)
	}
}

func TestOutboxProcessor_DueEntryBehindDeferredEntries(t *testing.T) {
	store := newMemOutboxStore()
	now := t0.Add(2 * time.Hour)

	// Four attempts so far: 8 minute backoff, last tried a minute ago.
	for i := 0; i < 12; i++ {
		e := seedEntry(t, store, fmt.Sprintf("busy%02d", i))
		e.CreatedAt = t0.Add(time.Duration(i) * time.Second)
		e.Attempts = 4
		e.Status = domainOutbox.StatusRetrying
		e.LastAttemptedAt = now.Add(-time.Minute)
		_ = store.Save(context.Background(), e)
	}
	due := seedEntry(t, store, "due")
	due.CreatedAt = t0.Add(time.Minute)
	due.LastAttemptedAt = t0.Add(time.Minute)
	_ = store.Save(context.Background(), due)

	sender := newFakeSender(mail.Sent(mail.TransportStartTLS))
	p := NewNotificationProcessor(store, sender).WithClock(func() time.Time { return now })
	sum, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if sum.Processed != 1 || sum.Succeeded != 1 || sum.Deferred != 12 || sender.calls() != 1 {
		t.Fatalf("summary = %+v, calls = %d; want the due entry sent", sum, sender.calls())
	}
	got, _ := store.GetByID(context.Background(), "due")
	if got.Status != domainOutbox.StatusDone {
		t.Errorf("due entry status = %s, want done", got.Status)
	}
}

func TestOutboxProcessor_PassIsCappedAtBatchSize(t *testing.T) {
	store := newMemOutboxStore()
	for i := 0; i < 13; i++ {
		seedEntry(t, store, fmt.Sprintf("o%02d", i))
	}
	sender := newFakeSender(mail.Sent(""))
	p := NewNotificationProcessor(store, sender).WithClock(func() time.Time { return t0.Add(time.Hour) })

	sum, _ := p.ProcessPending(context.Background())
	if sum.Processed != 10 || sender.calls() != 10 {
		t.Errorf("summary = %+v, calls = %d; want 10", sum, sender.calls())
	}
	if pending, _ := store.ListPending(context.Background(), 0, 20); len(pending) != 3 {
		t.Errorf("pending after pass = %d, want 3", len(pending))
	}
}

// racingStore lets a rival worker act between listing and claiming.
type racingStore struct {
	*memOutboxStore
	afterList func()
}

func (r *racingStore) ListPending(ctx context.Context, offset, limit int) ([]domainOutbox.Entry, error) {
	entries, err := r.memOutboxStore.ListPending(ctx, offset, limit)
	if f := r.afterList; f != nil {
		r.afterList = nil
		f()
	}
	return entries, err
}

func TestOutboxProcessor_SkipsEntryClaimedElsewhere(t *testing.T) {
	store := newMemOutboxStore()
	seedEntry(t, store, "o1")
	clock := func() time.Time { return t0.Add(time.Hour) }

	rivalSender := newFakeSender(mail.Sent(""))
	rival := NewNotificationProcessor(store, rivalSender).WithClock(clock)
	racing := &racingStore{memOutboxStore: store, afterList: func() {
		if _, err := rival.ProcessSingle(context.Background(), "o1"); err != nil {
			t.Errorf("rival ProcessSingle: %v", err)
		}
	}}

	sender := newFakeSender(mail.Sent(""))
	p := NewNotificationProcessor(racing, sender).WithClock(clock)
	sum, err := p.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if sum.Contended != 1 || sum.Processed != 0 || sender.calls() != 0 {
		t.Errorf("summary = %+v, calls = %d; want contended without a send", sum, sender.calls())
	}
	if rivalSender.calls() != 1 {
		t.Errorf("rival calls = %d, want 1", rivalSender.calls())
	}
	e, _ := store.GetByID(context.Background(), "o1")
	if e.Status != domainOutbox.StatusDone || e.Attempts != 2 {
		t.Errorf("entry = %+v, want done after one retry", e)
	}
}

func TestOutboxProcessor_StaleEntryIsNotSent(t *testing.T) {
	store := newMemOutboxStore()
	stale := seedEntry(t, store, "o1")
	moved := stale
	moved.MarkAttempt(t0.Add(time.Minute))
	_ = store.Save(context.Background(), moved)

	sender := newFakeSender(mail.Sent(""))
	p := NewNotificationProcessor(store, sender)
	if _, err := p.processEntry(context.Background(), stale, stale); !errors.Is(err, domainOutbox.ErrClaimed) {
		t.Fatalf("err = %v, want ErrClaimed", err)
	}
	if sender.calls() != 0 {
		t.Errorf("Send calls = %d, want 0", sender.calls())
	}
}
