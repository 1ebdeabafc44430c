package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one forward-only schema step. Steps use IF NOT EXISTS so a
// database created before version tracking upgrades cleanly.
type migration struct {
	version     int
	description string
	stmts       []string
}

var migrations = []migration{
	{
		version:     1,
		description: "outbox for deferred notifications",
		stmts: []string{`
		CREATE TABLE IF NOT EXISTS outbox (
			id TEXT PRIMARY KEY,
			action_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 5,
			last_attempted_at TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT ''
		)`},
	},
	{
		version:     2,
		description: "outbox status index",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_outbox_status_created ON outbox (status, created_at)`,
		},
	},
}

// LatestSchemaVersion returns the version MigrateDB brings a database to.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// SchemaVersion returns the applied schema version, 0 for an untracked db.
// PRE: db is a valid database connection
// POST: Returns the highest recorded version
func SchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("check schema_version: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}
	var v sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return int(v.Int64), nil
}

// InitDB enables WAL and applies pending migrations.
// PRE: db is a valid database connection
// POST: Schema is at LatestSchemaVersion
func InitDB(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return MigrateDB(db)
}

// MigrateDB applies every migration newer than the recorded version, each in
// its own transaction.
// PRE: db is a valid database connection
// POST: Schema is at LatestSchemaVersion; running again is a no-op
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: record version: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", m.version, err)
		}
		slog.Info("schema_migrated", "version", m.version, "description", m.description)
	}
	return nil
}
