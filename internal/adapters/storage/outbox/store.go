package outbox

import (
	"context"

	domain "gogetit/internal/domain/outbox"
)

// Store defines the interface for outbox entry persistence.
type Store interface {
	// GetByID retrieves an outbox entry by its ID.
	// PRE: id is non-empty
	// POST: Returns the entry or domain.ErrNotFound
	GetByID(ctx context.Context, id string) (domain.Entry, error)

	// Save persists an outbox entry to the database.
	// PRE: entity has been validated
	// POST: Entity is persisted (insert or update)
	Save(ctx context.Context, e domain.Entry) error

	// ListPending returns entries that need to be processed (pending or retrying).
	// PRE: offset >= 0, limit > 0
	// POST: Returns up to limit entries ordered by created_at, skipping offset
	ListPending(ctx context.Context, offset, limit int) ([]domain.Entry, error)

	// Claim moves an entry from prev to next only if the stored row still
	// matches prev's status and attempt count.
	// POST: Returns domain.ErrClaimed when another writer got there first
	Claim(ctx context.Context, prev, next domain.Entry) error

	// ListByStatus returns entries with the given status, or all entries when
	// status is empty.
	// PRE: limit > 0
	// POST: Returns up to limit entries, newest first
	ListByStatus(ctx context.Context, status string, limit int) ([]domain.Entry, error)

	// CountByStatus returns the number of entries per status.
	CountByStatus(ctx context.Context) (map[string]int, error)
}
