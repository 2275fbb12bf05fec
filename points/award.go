package points

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
)

// credit is one idempotent award inside an open transaction.
type credit struct {
	user   ledger.UserID
	event  ledger.EventID
	source ledger.Source
	scope  ledger.Scope
	points int64
	reason string
	// participation is upserted before the ledger check when set.
	participation *ledger.Participation
}

// applyCredit runs the shared award protocol: lock user, upsert
// participation, check key, append, recompute. credited is false for an
// idempotent no-op, in which case total is the unchanged cached total.
func (e *Engine) applyCredit(ctx context.Context, tx ledger.Tx, c credit) (total int64, credited bool, err error) {
	user, err := tx.LockUser(ctx, c.user)
	if err != nil {
		return 0, false, fmt.Errorf("lock user: %w", err)
	}
	if user == nil {
		return 0, false, ledger.NotFound("user", string(c.user))
	}

	if c.participation != nil {
		p := *c.participation
		p.UserID = c.user
		p.CreatedAt = e.now()
		if _, err := tx.UpsertParticipation(ctx, p); err != nil {
			return 0, false, fmt.Errorf("record participation: %w", err)
		}
	}

	key := ledger.EntryKey(c.source, c.user, c.scope)
	exists, err := tx.EntryExists(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("check ledger: %w", err)
	}
	if exists {
		return user.TotalPoints, false, nil
	}

	entry := ledger.Entry{
		ID:             ledger.EntryID(uuid.NewString()),
		UserID:         c.user,
		EventID:        c.event,
		Type:           ledger.EntryCredit,
		Points:         c.points,
		Source:         c.source,
		Reason:         c.reason,
		IdempotencyKey: key,
		CreatedAt:      e.now(),
	}
	if err := entry.Validate(); err != nil {
		return 0, false, err
	}
	if err := tx.Append(ctx, entry); err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			return user.TotalPoints, false, nil
		}
		return 0, false, fmt.Errorf("append credit: %w", err)
	}

	total, err = ledger.Recompute(ctx, tx, c.user)
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

// =============================================================================
// PARTICIPATION
// =============================================================================

// AwardParticipation credits the event's per-participant points once per
// (user, event, trigger source) and returns the user's balance. A repeat
// call is a no-op that returns the same balance.
func (e *Engine) AwardParticipation(ctx context.Context, userID ledger.UserID, eventID ledger.EventID, trigger ledger.Trigger) (int64, error) {
	source, err := trigger.LedgerSource()
	if err != nil {
		return 0, err
	}
	psource, err := trigger.ParticipationSource()
	if err != nil {
		return 0, err
	}

	var (
		total    int64
		credited bool
	)
	err = e.store.WithTx(ctx, func(tx ledger.Tx) error {
		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if event == nil {
			return ledger.NotFound("event", string(eventID))
		}
		total, credited, err = e.applyCredit(ctx, tx, credit{
			user:   userID,
			event:  eventID,
			source: source,
			scope:  ledger.EventScope(eventID),
			points: event.PointsPerParticipant,
			reason: fmt.Sprintf("Participation in %s via %s", event.Title, trigger),
			participation: &ledger.Participation{
				EventID:  eventID,
				Source:   psource,
				Scope:    ledger.EventScope(eventID),
				Verified: true,
			},
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	fields := logrus.Fields{"user_id": userID, "event_id": eventID, "source": source, "total": total}
	if credited {
		e.log.WithFields(fields).Info("participation points awarded")
		e.notify(ctx, map[ledger.UserID]int64{userID: total})
	} else {
		e.log.WithFields(fields).Debug("participation already awarded")
	}
	return total, nil
}

// =============================================================================
// WINNERS
// =============================================================================

// AwardWinners pays event.winner_points to every user listed in the
// event's winner roll numbers. Every position receives the same flat
// amount. Unknown roll numbers and already-paid winners are skipped.
// It returns the users credited by this call, ordered by user id.
func (e *Engine) AwardWinners(ctx context.Context, eventID ledger.EventID) ([]ledger.UserID, error) {
	return e.awardWinners(ctx, eventID, nil)
}

// DeclareWinners replaces the event's winner roll numbers and pays them
// in the same transaction, so a failed award leaves the old list.
func (e *Engine) DeclareWinners(ctx context.Context, eventID ledger.EventID, rolls []string) ([]ledger.UserID, error) {
	rolls = uniqueRolls(rolls)
	if len(rolls) > ledger.MaxWinners {
		return nil, fmt.Errorf("%d declared, at most %d: %w", len(rolls), ledger.MaxWinners, ledger.ErrTooManyWinners)
	}
	return e.awardWinners(ctx, eventID, rolls)
}

// awardWinners stores declared when it is not nil, then pays.
func (e *Engine) awardWinners(ctx context.Context, eventID ledger.EventID, declared []string) ([]ledger.UserID, error) {
	var credited []ledger.UserID
	changed := make(map[ledger.UserID]int64)

	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		credited = nil
		clear(changed)

		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if event == nil {
			return ledger.NotFound("event", string(eventID))
		}
		if declared != nil {
			if err := tx.SetWinners(ctx, eventID, declared); err != nil {
				return err
			}
			event.WinnersRollNos = declared
		}

		rolls := uniqueRolls(event.WinnersRollNos)
		byRoll, err := tx.UsersByRoll(ctx, rolls)
		if err != nil {
			return fmt.Errorf("resolve winners: %w", err)
		}

		// user rows are locked in id order
		winners := make([]ledger.User, 0, len(byRoll))
		for _, roll := range rolls {
			user, ok := byRoll[roll]
			if !ok {
				e.log.WithFields(logrus.Fields{"event_id": eventID, "roll_no": roll}).Debug("winner roll number not found, skipping")
				continue
			}
			winners = append(winners, user)
		}
		sort.Slice(winners, func(i, j int) bool { return winners[i].ID < winners[j].ID })

		for _, user := range winners {
			total, ok, err := e.applyCredit(ctx, tx, credit{
				user:   user.ID,
				event:  eventID,
				source: ledger.SourceWinner,
				scope:  ledger.EventScope(eventID),
				points: event.WinnerPoints,
				reason: fmt.Sprintf("Winner of %s", event.Title),
			})
			if err != nil {
				return err
			}
			if ok {
				credited = append(credited, user.ID)
				changed[user.ID] = total
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{"event_id": eventID, "credited": len(credited)}).Info("winner points awarded")
	e.notify(ctx, changed)
	return credited, nil
}

// uniqueRolls trims and de-duplicates roll numbers, keeping order.
func uniqueRolls(rolls []string) []string {
	seen := make(map[string]bool, len(rolls))
	out := make([]string, 0, len(rolls))
	for _, r := range rolls {
		r = trimRoll(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
