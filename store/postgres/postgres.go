/*
Package postgres provides a PostgreSQL-backed ledger.Store.

PURPOSE:
  The multi-writer backend. Same schema and contract as store/sqlite,
  but transactions really run concurrently, so Lock* methods take row
  locks with SELECT ... FOR UPDATE.

LOCKING:
  LockItem, LockUser and LockSubmission lock the row until commit.
  The engine always locks an item before a user, so two redemptions
  cannot deadlock on each other. Deadlocks between other paths
  (two winners lists in opposite order) surface as ErrConflict.

ERRORS:
  serialization_failure (40001) and deadlock_detected (40P01) are
  mapped to ledger.ErrConflict. Callers may retry those.

USAGE:
  store, err := postgres.Open(dsn, postgres.Options{MaxOpenConns: 25})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite: Single-writer implementation
  - ledger/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/campusengage/points-engine/ledger"
)

// Options tunes the connection pool and transaction isolation.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Isolation defaults to the server's default (read committed).
	Isolation sql.IsolationLevel
}

// Store implements ledger.Store using PostgreSQL.
type Store struct {
	reader
	db        *sqlx.DB
	isolation sql.IsolationLevel
}

var _ ledger.Store = (*Store)(nil)

// Open connects, applies pool settings and creates the schema.
func Open(dsn string, opts Options) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := NewWithDB(db, opts)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing connection without touching the schema.
func NewWithDB(db *sqlx.DB, opts Options) *Store {
	return &Store{reader: reader{q: db}, db: db, isolation: opts.Isolation}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	roll_no TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'student',
	total_points BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_users_leaderboard
	ON users(role, total_points DESC, roll_no);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	event_type TEXT NOT NULL,
	organized_by TEXT NOT NULL DEFAULT '',
	event_date TIMESTAMPTZ,
	location TEXT NOT NULL DEFAULT '',
	points_per_participant BIGINT NOT NULL DEFAULT 0 CHECK (points_per_participant >= 0),
	winner_points BIGINT NOT NULL DEFAULT 0 CHECK (winner_points >= 0),
	winners_roll_nos TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	event_id TEXT REFERENCES events(id),
	entry_type TEXT NOT NULL CHECK (entry_type IN ('CREDIT', 'DEBIT')),
	points BIGINT NOT NULL,
	source TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	CHECK ((entry_type = 'CREDIT' AND points >= 0) OR (entry_type = 'DEBIT' AND points < 0))
);

CREATE INDEX IF NOT EXISTS idx_ledger_user_created
	ON ledger_entries(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS participations (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	event_id TEXT REFERENCES events(id),
	source TEXT NOT NULL,
	scope TEXT NOT NULL,
	verified BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, source, scope)
);

CREATE TABLE IF NOT EXISTS shop_items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	points_cost BIGINT NOT NULL CHECK (points_cost > 0),
	stock BIGINT NOT NULL DEFAULT 0 CHECK (stock >= 0),
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS redemptions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	item_id TEXT NOT NULL REFERENCES shop_items(id),
	code TEXT NOT NULL UNIQUE,
	points_spent BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
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
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);

CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	submission_id TEXT NOT NULL REFERENCES submissions(id),
	reviewer_id TEXT NOT NULL REFERENCES users(id),
	decision TEXT NOT NULL,
	remarks TEXT NOT NULL DEFAULT '',
	reviewed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	event_id TEXT NOT NULL REFERENCES events(id),
	confidence DOUBLE PRECISION,
	marked_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, event_id)
);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in one transaction at the configured isolation level.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	if err := fn(&txStore{reader: reader{q: tx}, tx: tx}); err != nil {
		_ = tx.Rollback()
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

const (
	codeSerializationFailure pq.ErrorCode = "40001"
	codeDeadlockDetected     pq.ErrorCode = "40P01"
)

// mapError marks serialization failures and deadlocks as ErrConflict.
// The original error stays in the chain.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		if errors.Is(err, ledger.ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
	}
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC()
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
