/*
store.go - Persistence interfaces for the points ledger

PURPOSE:
  Defines the boundary between the engine and the database. Three
  implementations exist: ledger/memstore (tests), store/sqlite (default)
  and store/postgres (row locks).

KEY INTERFACES:
  Reader:  Read-side queries, usable inside and outside a transaction
  Tx:      Writes and row locks; only valid inside Store.WithTx
  Catalog: Catalog maintenance (users, events, items, submissions)
  Store:   Reader + Catalog + WithTx

APPEND-ONLY CONTRACT:
  ledger_entries, participations and redemptions only have insert
  methods. There is no Update or Delete for any of them. The only
  mutable fields the engine touches are users.total_points,
  shop_items.stock and submissions.status.

IDEMPOTENCY:
  Append reports ErrDuplicateEntry when the idempotency key exists, and
  UpsertParticipation/InsertAttendance report created=false. None of
  these abort the surrounding transaction.

NOT FOUND:
  Getters and Lock* return (nil, nil) for a missing row. The engine turns
  that into a NotFoundError with the right kind.

SEE ALSO:
  - balance.go: Recompute uses Tx
  - points/engine.go: The only writer of ledger rows
*/
package ledger

import "context"

// =============================================================================
// READER - Read-side queries
// =============================================================================

type Reader interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	// UsersByRoll returns the users found, keyed by roll number.
	UsersByRoll(ctx context.Context, rolls []string) (map[string]User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// Leaderboard returns students ordered by total_points desc, roll_no asc.
	Leaderboard(ctx context.Context, limit int) ([]User, error)

	GetEvent(ctx context.Context, id EventID) (*Event, error)

	GetItem(ctx context.Context, id ItemID) (*ShopItem, error)
	ListItems(ctx context.Context, activeOnly bool) ([]ShopItem, error)

	GetSubmission(ctx context.Context, id SubmissionID) (*Submission, error)
	PendingSubmissions(ctx context.Context) ([]Submission, error)
	Reviews(ctx context.Context, id SubmissionID) ([]Review, error)

	// Entries returns the user's ledger, newest first.
	Entries(ctx context.Context, user UserID) ([]Entry, error)
	// SumForUser is the signed sum of every entry for the user.
	SumForUser(ctx context.Context, user UserID) (int64, error)
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)

	Participations(ctx context.Context, user UserID) ([]Participation, error)
	// Redemptions returns the user's redemptions, newest first.
	Redemptions(ctx context.Context, user UserID) ([]Redemption, error)
}

// =============================================================================
// TX - Writes inside one atomic unit
// =============================================================================

type Tx interface {
	Reader

	// LockUser reads the user row and holds it until commit.
	LockUser(ctx context.Context, id UserID) (*User, error)
	// LockItem reads the item row and holds it until commit.
	LockItem(ctx context.Context, id ItemID) (*ShopItem, error)
	LockSubmission(ctx context.Context, id SubmissionID) (*Submission, error)

	// Append persists one entry. ErrDuplicateEntry if the key exists.
	Append(ctx context.Context, e Entry) error
	SetTotalPoints(ctx context.Context, user UserID, total int64) error

	// DecrementStock takes one unit; ErrOutOfStock when stock is 0.
	DecrementStock(ctx context.Context, id ItemID) error
	// InsertRedemption persists a redemption. ErrCodeConflict if the code exists.
	InsertRedemption(ctx context.Context, r Redemption) error

	// UpsertParticipation inserts unless (user, source, scope) exists.
	UpsertParticipation(ctx context.Context, p Participation) (created bool, err error)
	// InsertAttendance inserts unless (user, event) exists.
	InsertAttendance(ctx context.Context, a Attendance) (created bool, err error)

	SetSubmissionStatus(ctx context.Context, id SubmissionID, status SubmissionStatus) error
	InsertReview(ctx context.Context, r Review) error

	// SetWinners replaces the event's winner roll numbers.
	SetWinners(ctx context.Context, id EventID, rolls []string) error
}

// =============================================================================
// CATALOG - Data owned by the surrounding application
// =============================================================================

type Catalog interface {
	// SaveUser inserts or updates profile fields. total_points is never
	// written through this method.
	SaveUser(ctx context.Context, u User) error
	SaveEvent(ctx context.Context, e Event) error
	SetWinners(ctx context.Context, id EventID, rolls []string) error
	// UpsertItem matches on name; created reports whether it was new.
	UpsertItem(ctx context.Context, item ShopItem) (created bool, err error)
	SaveSubmission(ctx context.Context, s Submission) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader
	Catalog

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}
