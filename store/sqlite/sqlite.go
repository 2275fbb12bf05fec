/*
Package sqlite provides a SQLite-backed ledger.Store.

PURPOSE:
  The default backend for the points engine. Implements ledger.Reader,
  ledger.Tx and ledger.Catalog over database/sql with mattn/go-sqlite3.

KEY TABLES:
  ledger_entries:  Immutable credits/debits, UNIQUE idempotency_key
  participations:  UNIQUE(user_id, source, scope)
  redemptions:     UNIQUE code
  shop_items:      CHECK stock >= 0
  users:           cached total_points
  events, submissions, reviews, attendance

APPEND-ONLY ENFORCEMENT:
  The store exposes no UPDATE or DELETE for ledger_entries,
  participations or redemptions. Duplicate keys are absorbed with
  ON CONFLICT DO NOTHING so the surrounding transaction stays usable.

CONCURRENCY:
  SQLite has one writer. The store caps the pool at one connection and
  holds a mutex across WithTx, which gives serializable transactions.
  Lock* methods are therefore plain SELECTs.
  Inside WithTx every query goes through the sql.Tx; touching s.db from
  inside fn would wait on the only connection forever.

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so string order is time
  order.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  engine := points.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/postgres: Row-locking implementation
  - ledger/memstore: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/campusengage/points-engine/ledger"
)

const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Store implements ledger.Store using SQLite.
type Store struct {
	reader
	db *sql.DB
	mu sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every pooled connection to ":memory:" would be a separate database
	db.SetMaxOpenConns(1)

	store := &Store{reader: reader{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		roll_no TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		total_points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_leaderboard
		ON users(role, total_points DESC, roll_no);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		event_type TEXT NOT NULL,
		organized_by TEXT NOT NULL DEFAULT '',
		event_date TEXT,
		location TEXT NOT NULL DEFAULT '',
		points_per_participant INTEGER NOT NULL DEFAULT 0 CHECK (points_per_participant >= 0),
		winner_points INTEGER NOT NULL DEFAULT 0 CHECK (winner_points >= 0),
		winners_roll_nos TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		event_id TEXT REFERENCES events(id),
		entry_type TEXT NOT NULL CHECK (entry_type IN ('CREDIT', 'DEBIT')),
		points INTEGER NOT NULL,
		source TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		CHECK ((entry_type = 'CREDIT' AND points >= 0) OR (entry_type = 'DEBIT' AND points < 0))
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_created
		ON ledger_entries(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS participations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL REFERENCES users(id),
		event_id TEXT REFERENCES events(id),
		source TEXT NOT NULL,
		scope TEXT NOT NULL,
		verified BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, source, scope)
	);

	CREATE TABLE IF NOT EXISTS shop_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		points_cost INTEGER NOT NULL CHECK (points_cost > 0),
		stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		item_id TEXT NOT NULL REFERENCES shop_items(id),
		code TEXT NOT NULL UNIQUE,
		points_spent INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_user
		ON redemptions(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		event_id TEXT REFERENCES events(id),
		submission_type TEXT NOT NULL,
		file_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		uploaded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_status
		ON submissions(status);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL REFERENCES submissions(id),
		reviewer_id TEXT NOT NULL REFERENCES users(id),
		decision TEXT NOT NULL,
		remarks TEXT NOT NULL DEFAULT '',
		reviewed_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		event_id TEXT NOT NULL REFERENCES events(id),
		confidence REAL,
		marked_at TEXT NOT NULL,
		UNIQUE (user_id, event_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{reader: reader{q: sqlTx}, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isBusyError(err) {
			return fmt.Errorf("commit: %w", ledger.ErrConflict)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// Winner rolls are stored as a JSON array so a roll may hold any character.
func encodeRolls(rolls []string) (string, error) {
	if rolls == nil {
		rolls = []string{}
	}
	b, err := json.Marshal(rolls)
	if err != nil {
		return "", fmt.Errorf("encode winners: %w", err)
	}
	return string(b), nil
}

func decodeRolls(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var rolls []string
	if err := json.Unmarshal([]byte(s), &rolls); err != nil {
		return nil, fmt.Errorf("decode winners: %w", err)
	}
	if len(rolls) == 0 {
		return nil, nil
	}
	return rolls, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func isBusyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "SQLITE_BUSY"))
}
