package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gogetit/internal/adapters/storage"
	domain "gogetit/internal/domain/outbox"
)

const (
	dateLayout = "2006-01-02T15:04:05.999999999Z07:00"

	selectColumns = `SELECT id, action_type, payload, status, attempts, max_attempts, last_attempted_at, created_at, external_id, error_message FROM outbox`
)

// SQLiteStore implements the outbox Store interface using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// Compile-time check that *SQLiteStore satisfies Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new outbox store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetByID retrieves an outbox entry by its ID.
// PRE: id is non-empty
// POST: Returns the entry or domain.ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (domain.Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return e, err
}

// Save persists an outbox entry to the database.
// PRE: entity has been validated
// POST: Entity is persisted (insert or update)
func (s *SQLiteStore) Save(ctx context.Context, e domain.Entry) error {
	lastAttemptedAt := ""
	if !e.LastAttemptedAt.IsZero() {
		lastAttemptedAt = e.LastAttemptedAt.UTC().Format(dateLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (id, action_type, payload, status, attempts, max_attempts, last_attempted_at, created_at, external_id, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   action_type=excluded.action_type, payload=excluded.payload, status=excluded.status,
		   attempts=excluded.attempts, max_attempts=excluded.max_attempts,
		   last_attempted_at=excluded.last_attempted_at, external_id=excluded.external_id,
		   error_message=excluded.error_message`,
		e.ID, e.ActionType, e.Payload, e.Status, e.Attempts, e.MaxAttempts,
		lastAttemptedAt, e.CreatedAt.UTC().Format(dateLayout), e.ExternalID, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save outbox entry %s: %w", e.ID, err)
	}
	return nil
}

// ListPending returns entries that need to be processed (pending or retrying).
// PRE: offset >= 0, limit > 0
// POST: Returns up to limit entries ordered by created_at, skipping offset
func (s *SQLiteStore) ListPending(ctx context.Context, offset, limit int) ([]domain.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		domain.StatusPending, domain.StatusRetrying, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Claim is a compare-and-swap on status and attempts.
// PRE: prev was read from this store
// POST: Row updated to next's status, attempts and last attempt, or domain.ErrClaimed
func (s *SQLiteStore) Claim(ctx context.Context, prev, next domain.Entry) error {
	lastAttemptedAt := ""
	if !next.LastAttemptedAt.IsZero() {
		lastAttemptedAt = next.LastAttemptedAt.UTC().Format(dateLayout)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = ?, attempts = ?, last_attempted_at = ?
		 WHERE id = ? AND status = ? AND attempts = ?`,
		next.Status, next.Attempts, lastAttemptedAt, prev.ID, prev.Status, prev.Attempts)
	if err != nil {
		return fmt.Errorf("claim outbox entry %s: %w", prev.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim outbox entry %s: %w", prev.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrClaimed, prev.ID)
	}
	return nil
}

// ListByStatus returns entries filtered by status, newest first.
// PRE: limit > 0
// POST: Returns up to limit matching entries
func (s *SQLiteStore) ListByStatus(ctx context.Context, status string, limit int) ([]domain.Entry, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			selectColumns+` WHERE status = ? ORDER BY created_at DESC LIMIT ?`, status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			selectColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// CountByStatus returns the number of entries per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanEntry scans a single row into an Entry.
func scanEntry(row scanner) (domain.Entry, error) {
	var e domain.Entry
	var createdAt, lastAttemptedAt string
	err := row.Scan(&e.ID, &e.ActionType, &e.Payload, &e.Status, &e.Attempts, &e.MaxAttempts,
		&lastAttemptedAt, &createdAt, &e.ExternalID, &e.ErrorMessage)
	if err != nil {
		return domain.Entry{}, err
	}
	e.CreatedAt, _ = time.Parse(dateLayout, createdAt)
	if lastAttemptedAt != "" {
		e.LastAttemptedAt, _ = time.Parse(dateLayout, lastAttemptedAt)
	}
	return e, nil
}

// scanEntries scans multiple rows into a slice of Entries.
func scanEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
