package orchestrators

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gogetit/internal/adapters/email"
	"gogetit/internal/domain/mail"
	domainOutbox "gogetit/internal/domain/outbox"
)

// fakeSender returns scripted outcomes in order, repeating the last one.
type fakeSender struct {
	mu       sync.Mutex
	outcomes []mail.Outcome
	requests []email.SendRequest
}

func newFakeSender(outcomes ...mail.Outcome) *fakeSender {
	return &fakeSender{outcomes: outcomes}
}

// Send records req and returns the next scripted outcome.
// PRE: at least one outcome was scripted
// POST: requests grows by one
func (f *fakeSender) Send(_ context.Context, req email.SendRequest) mail.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	return f.outcomes[i]
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// memOutboxStore is an in-memory outbox store.
type memOutboxStore struct {
	mu      sync.Mutex
	entries map[string]domainOutbox.Entry
	saveErr error
}

func newMemOutboxStore() *memOutboxStore {
	return &memOutboxStore{entries: make(map[string]domainOutbox.Entry)}
}

// GetByID retrieves an entry by ID.
// PRE: id is non-empty
// POST: Returns the entry or ErrNotFound
func (m *memOutboxStore) GetByID(_ context.Context, id string) (domainOutbox.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domainOutbox.Entry{}, domainOutbox.ErrNotFound
	}
	return e, nil
}

// Save stores e, or fails with saveErr when set.
func (m *memOutboxStore) Save(_ context.Context, e domainOutbox.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries[e.ID] = e
	return nil
}

func (m *memOutboxStore) ListPending(_ context.Context, offset, limit int) ([]domainOutbox.Entry, error) {
	var out []domainOutbox.Entry
	for _, e := range m.sorted() {
		if e.Status == domainOutbox.StatusPending || e.Status == domainOutbox.StatusRetrying {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim swaps prev for next when the stored status and attempts still match.
func (m *memOutboxStore) Claim(_ context.Context, prev, next domainOutbox.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[prev.ID]
	if !ok || cur.Status != prev.Status || cur.Attempts != prev.Attempts {
		return fmt.Errorf("%w: %s", domainOutbox.ErrClaimed, prev.ID)
	}
	cur.Status, cur.Attempts, cur.LastAttemptedAt = next.Status, next.Attempts, next.LastAttemptedAt
	m.entries[prev.ID] = cur
	return nil
}

func (m *memOutboxStore) ListByStatus(_ context.Context, status string, limit int) ([]domainOutbox.Entry, error) {
	var out []domainOutbox.Entry
	for _, e := range m.sorted() {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOutboxStore) CountByStatus(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, e := range m.sorted() {
		counts[e.Status]++
	}
	return counts, nil
}

func (m *memOutboxStore) sorted() []domainOutbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domainOutbox.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// stubValidator fails with err when set.
type stubValidator struct{ err error }

func (s stubValidator) Validate(any) error { return s.err }
