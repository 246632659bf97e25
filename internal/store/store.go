// Package store provides persistent server state backed by an embedded
// SQLite database. It owns the database lifecycle and exposes the typed
// operations the session server needs.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// Error kinds surfaced to request handlers. Unique-constraint violations
// are the normative signal for the model's invariants and are mapped to
// these before they leave the package.
var (
	ErrNotFound       = errors.New("not found")
	ErrUsernameTaken  = errors.New("username already exists")
	ErrEmailTaken     = errors.New("email already in use")
	ErrAlreadyFriends = errors.New("already friends")
	ErrRequestExists  = errors.New("friend request already pending")
	ErrGroupFull      = errors.New("group is full")
	ErrWrongPassword  = errors.New("incorrect password")
	ErrSprintActive   = errors.New("sprint in progress")
	ErrForbidden      = errors.New("operation not permitted")
)

// AlreadyInGroupError reports a violated single-room invariant along with
// the room the user is currently in, so clients can offer "leave then retry".
type AlreadyInGroupError struct {
	GroupID int64
}

func (e *AlreadyInGroupError) Error() string {
	return fmt.Sprintf("already in group %d", e.GroupID)
}

// Model limits.
const (
	MaxGroupMembers = 10
	LobbyLimit      = 50
	ChatWindowHours = 48
	DetailsLimit    = 20
	HeatmapDays     = 365
)

// migrations holds the ordered list of DDL statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — users
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		nickname      TEXT NOT NULL,
		email         TEXT UNIQUE,
		avatar_file   TEXT NOT NULL DEFAULT '',
		signature     TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — friend requests (directed, one per ordered pair)
	`CREATE TABLE IF NOT EXISTS friend_requests (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id   INTEGER NOT NULL REFERENCES users(id),
		receiver_id INTEGER NOT NULL REFERENCES users(id),
		created_at  INTEGER NOT NULL DEFAULT (unixepoch()),
		UNIQUE(sender_id, receiver_id)
	)`,
	// v3 — friendships stored as a canonical (low, high) pair
	`CREATE TABLE IF NOT EXISTS friendships (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		low_id     INTEGER NOT NULL REFERENCES users(id),
		high_id    INTEGER NOT NULL REFERENCES users(id),
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		UNIQUE(low_id, high_id),
		CHECK(low_id < high_id)
	)`,
	// v4 — sprint rooms
	`CREATE TABLE IF NOT EXISTS groups (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		name                TEXT NOT NULL,
		owner_id            INTEGER NOT NULL REFERENCES users(id),
		is_private          INTEGER NOT NULL DEFAULT 0,
		password            TEXT NOT NULL DEFAULT '',
		sprint_active       INTEGER NOT NULL DEFAULT 0,
		sprint_start_time   INTEGER NOT NULL DEFAULT 0,
		sprint_target_words INTEGER NOT NULL DEFAULT 0,
		created_at          INTEGER NOT NULL DEFAULT (unixepoch()),
		updated_at          INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v5 — room membership; UNIQUE(user_id) is the single-room invariant
	`CREATE TABLE IF NOT EXISTS group_members (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id  INTEGER NOT NULL UNIQUE REFERENCES users(id)
	)`,
	// v6 — chat messages; sender_id NULL marks SYSTEM messages
	`CREATE TABLE IF NOT EXISTS group_messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id        INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		sender_id       INTEGER REFERENCES users(id),
		sender_nickname TEXT NOT NULL,
		content         TEXT NOT NULL,
		ts              INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v7 — per-room sprint scores
	`CREATE TABLE IF NOT EXISTS sprint_scores (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id      INTEGER NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		user_id       INTEGER NOT NULL REFERENCES users(id),
		current_score INTEGER NOT NULL DEFAULT 0 CHECK(current_score >= 0),
		UNIQUE(group_id, user_id)
	)`,
	// v8 — authoritative per-day totals
	`CREATE TABLE IF NOT EXISTS daily_reports (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id        INTEGER NOT NULL REFERENCES users(id),
		report_date    TEXT NOT NULL,
		total_words    INTEGER NOT NULL DEFAULT 0,
		total_duration INTEGER NOT NULL DEFAULT 0,
		UNIQUE(user_id, report_date)
	)`,
	// v9 — append-only activity audit log
	`CREATE TABLE IF NOT EXISTS detail_records (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id          INTEGER NOT NULL REFERENCES users(id),
		word_increment   INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		source_type      TEXT NOT NULL DEFAULT 'local',
		end_time         INTEGER NOT NULL
	)`,
	// v10 — indexes for the hot read paths
	`CREATE INDEX IF NOT EXISTS idx_group_messages_group_ts ON group_messages(group_id, ts)`,
	// v11
	`CREATE INDEX IF NOT EXISTS idx_detail_records_user ON detail_records(user_id, end_time)`,
	// v12
	`CREATE INDEX IF NOT EXISTS idx_groups_updated ON groups(updated_at)`,
}

// Store wraps a SQLite database and exposes server-state operations.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Foreign keys are enabled in the DSN so the group
// delete cascade applies on every pooled connection.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Allow multiple read connections but serialise writes.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("sqlite store opened", "path", path)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate creates the schema_migrations table (if absent) and applies any
// migrations whose version number exceeds the current maximum.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Debug("applied migration", "version", v)
	}
	return nil
}

// inTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// the given table.column. The modernc driver surfaces these in the error
// text.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
