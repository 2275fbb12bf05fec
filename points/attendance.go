package points

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
)

// AttendanceResult reports what MarkAttendance did with each roll number.
type AttendanceResult struct {
	MarkedCount        int
	Marked             []ledger.UserID
	SkippedRollNumbers []string
}

// MarkAttendance records presence for each roll number and awards
// attendance participation to the newly marked users. Unknown roll
// numbers and users already marked for the event are skipped. The batch
// runs as one transaction.
func (e *Engine) MarkAttendance(ctx context.Context, eventID ledger.EventID, rolls []string) (*AttendanceResult, error) {
	var result AttendanceResult
	changed := make(map[ledger.UserID]int64)

	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		result = AttendanceResult{}
		clear(changed)

		event, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if event == nil {
			return ledger.NotFound("event", string(eventID))
		}

		unique := uniqueRolls(rolls)
		users, err := tx.UsersByRoll(ctx, unique)
		if err != nil {
			return fmt.Errorf("resolve roll numbers: %w", err)
		}

		for _, roll := range unique {
			user, ok := users[roll]
			if !ok {
				result.SkippedRollNumbers = append(result.SkippedRollNumbers, roll)
				continue
			}
			created, err := tx.InsertAttendance(ctx, ledger.Attendance{
				ID:       uuid.NewString(),
				UserID:   user.ID,
				EventID:  eventID,
				MarkedAt: e.now(),
			})
			if err != nil {
				return fmt.Errorf("insert attendance: %w", err)
			}
			if !created {
				result.SkippedRollNumbers = append(result.SkippedRollNumbers, roll)
				continue
			}

			total, credited, err := e.applyCredit(ctx, tx, credit{
				user:   user.ID,
				event:  eventID,
				source: ledger.SourceAttendance,
				scope:  ledger.EventScope(eventID),
				points: event.PointsPerParticipant,
				reason: fmt.Sprintf("Participation in %s via %s", event.Title, ledger.TriggerAttendance),
				participation: &ledger.Participation{
					EventID:  eventID,
					Source:   ledger.ParticipationAttendance,
					Scope:    ledger.EventScope(eventID),
					Verified: true,
				},
			})
			if err != nil {
				return err
			}
			if credited {
				changed[user.ID] = total
			}
			result.Marked = append(result.Marked, user.ID)
			result.MarkedCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"event_id": eventID,
		"marked":   result.MarkedCount,
		"skipped":  len(result.SkippedRollNumbers),
	}).Info("attendance marked")
	e.notify(ctx, changed)
	return &result, nil
}

func trimRoll(r string) string {
	return strings.TrimSpace(r)
}
