/*
engine.go - Award and redemption engine

PURPOSE:
  The only writer of ledger entries, participations and redemptions.
  Each public operation runs as one ledger.Store transaction and ends
  with ledger.Recompute, so the cached total never lags the ledger.

OPERATIONS:
  AwardParticipation  credit event.points_per_participant once per trigger
  AwardWinners        credit event.winner_points to each listed winner
  DeclareWinners      replace the winner list and award it atomically
  ApproveSubmission   pending -> approved, credit admin-entered points
  RejectSubmission    pending -> rejected, no ledger write
  Redeem              debit an item's cost, decrement stock, issue code
  MarkAttendance      record presence and award attendance participation

IDEMPOTENCY:
  Each credit has an idempotency key (source, user, scope). A repeated
  call finds the key and returns the current total without writing.
  The key column is UNIQUE, so two racing calls that both pass the
  check still produce one entry: the loser gets ErrDuplicateEntry,
  which is treated the same as a found key.

LOCKING:
  Awards lock the user row before the key check. Redeem locks the item
  and then the user. Stores without row locks (memory, sqlite)
  serialize whole transactions instead.

OBSERVERS:
  After commit, every BalanceObserver is told about users whose total
  changed. Observer failures are logged and do not fail the operation.

SEE ALSO:
  - award.go, redeem.go, submission.go, attendance.go
  - ledger/store.go: Tx contract
*/
package points

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
)

// BalanceObserver is notified after a committed change to a user's total.
type BalanceObserver interface {
	BalanceChanged(ctx context.Context, user ledger.UserID, total int64) error
}

type Engine struct {
	store     ledger.Store
	codes     CodeGenerator
	now       func() time.Time
	log       logrus.FieldLogger
	observers []BalanceObserver
}

type Option func(*Engine)

// WithCodeGenerator replaces the default uuid-based redemption codes.
func WithCodeGenerator(g CodeGenerator) Option {
	return func(e *Engine) { e.codes = g }
}

// WithClock sets the time source. Values are still forced to increase.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = monotonicClock(now) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

func WithObserver(o BalanceObserver) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

func NewEngine(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		codes: NewCodeGenerator(DefaultCodePrefix),
		now:   monotonicClock(time.Now),
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the backing store for read-side queries.
func (e *Engine) Store() ledger.Store { return e.store }

// Reconcile recomputes every cached total and reports drift. Repaired
// totals are pushed to the observers.
func (e *Engine) Reconcile(ctx context.Context, repair bool) (*ledger.ReconcileReport, error) {
	report, err := ledger.Reconcile(ctx, e.store, ledger.ReconcileOptions{
		Repair: repair,
		OnRepair: func(ctx context.Context, user ledger.UserID, total int64) {
			e.notify(ctx, map[ledger.UserID]int64{user: total})
		},
	})
	if err != nil {
		return report, err
	}
	for _, d := range report.Drifts {
		e.log.WithFields(logrus.Fields{
			"user_id": d.UserID,
			"cached":  d.Cached,
			"ledger":  d.Ledger,
			"repair":  repair,
		}).Warn("balance drift detected")
	}
	return report, nil
}

// notify runs after commit, outside any lock.
func (e *Engine) notify(ctx context.Context, changed map[ledger.UserID]int64) {
	for user, total := range changed {
		for _, o := range e.observers {
			if err := o.BalanceChanged(ctx, user, total); err != nil {
				e.log.WithError(err).WithField("user_id", user).Warn("balance observer failed")
			}
		}
	}
}

// monotonicClock never returns the same or an earlier instant twice, so
// entry created_at values are strictly increasing within a process.
func monotonicClock(now func() time.Time) func() time.Time {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now().UTC().Truncate(time.Microsecond)
		if !t.After(last) {
			t = last.Add(time.Microsecond)
		}
		last = t
		return t
	}
}
