/*
balance.go - Balance recomputation and drift reconciliation

PURPOSE:
  users.total_points is a cache. The ledger sum is the truth. Recompute
  is the last step of every mutating operation and runs inside the same
  transaction, so a reader never sees an entry without its total.

  Reconcile walks every user, recomputes the ledger sum and diffs it
  against the cached value. With Repair set it rewrites the cache. An
  auditor can run it read-only to detect tampering.

SEE ALSO:
  - store.go: SumForUser / SetTotalPoints
  - api/scheduler.go: Runs Reconcile on a cron schedule
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Recompute sets the cached total to the ledger sum and returns it.
func Recompute(ctx context.Context, tx Tx, user UserID) (int64, error) {
	total, err := tx.SumForUser(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("sum ledger for %s: %w", user, err)
	}
	if err := tx.SetTotalPoints(ctx, user, total); err != nil {
		return 0, fmt.Errorf("set total for %s: %w", user, err)
	}
	return total, nil
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Drift is a user whose cached total disagrees with the ledger.
type Drift struct {
	UserID UserID
	Cached int64
	Ledger int64
}

type ReconcileReport struct {
	Checked    int
	Drifts     []Drift
	Repaired   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

type ReconcileOptions struct {
	Repair bool
	// OnRepair is called after each repaired user's transaction commits.
	OnRepair func(ctx context.Context, user UserID, total int64)
}

// Reconcile checks every user in its own transaction, so one failure
// does not roll back earlier repairs.
func Reconcile(ctx context.Context, store Store, opts ReconcileOptions) (*ReconcileReport, error) {
	report := &ReconcileReport{Repaired: opts.Repair, StartedAt: time.Now()}

	users, err := store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var drift *Drift
		err := store.WithTx(ctx, func(tx Tx) error {
			locked, err := tx.LockUser(ctx, u.ID)
			if err != nil {
				return err
			}
			if locked == nil {
				return nil // removed since ListUsers
			}
			sum, err := tx.SumForUser(ctx, u.ID)
			if err != nil {
				return err
			}
			if sum == locked.TotalPoints {
				return nil
			}
			drift = &Drift{UserID: u.ID, Cached: locked.TotalPoints, Ledger: sum}
			if !opts.Repair {
				return nil
			}
			return tx.SetTotalPoints(ctx, u.ID, sum)
		})
		if err != nil {
			return report, fmt.Errorf("reconcile %s: %w", u.ID, err)
		}

		report.Checked++
		if drift != nil {
			report.Drifts = append(report.Drifts, *drift)
			if opts.Repair && opts.OnRepair != nil {
				opts.OnRepair(ctx, drift.UserID, drift.Ledger)
			}
		}
	}

	report.FinishedAt = time.Now()
	return report, nil
}
