package points

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
)

// ApproveSubmission moves a pending submission to approved, records the
// review and credits the admin-entered points. The credit is keyed on the
// submission, not an event, so each submission pays at most once.
func (e *Engine) ApproveSubmission(ctx context.Context, id ledger.SubmissionID, reviewer ledger.UserID, points int64) (int64, error) {
	if points <= 0 {
		return 0, fmt.Errorf("%w: award must be positive, got %d", ledger.ErrInvalidPoints, points)
	}

	var (
		total int64
		owner ledger.UserID
	)
	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		sub, err := e.lockPending(ctx, tx, id, reviewer)
		if err != nil {
			return err
		}
		owner = sub.UserID

		trigger, err := ledger.TriggerFor(sub.Type)
		if err != nil {
			return err
		}
		source, err := trigger.LedgerSource()
		if err != nil {
			return err
		}

		if err := tx.SetSubmissionStatus(ctx, id, ledger.StatusApproved); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if err := tx.InsertReview(ctx, ledger.Review{
			ID:           uuid.NewString(),
			SubmissionID: id,
			ReviewerID:   reviewer,
			Decision:     ledger.DecisionApproved,
			Remarks:      "Approved by admin",
			ReviewedAt:   e.now(),
		}); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}

		scope := ledger.SubmissionScope(id)
		total, _, err = e.applyCredit(ctx, tx, credit{
			user:   sub.UserID,
			source: source,
			scope:  scope,
			points: points,
			reason: fmt.Sprintf("Approved %s submission %s", sub.Type, id),
			participation: &ledger.Participation{
				EventID:  sub.EventID,
				Source:   ledger.ParticipationSubmission,
				Scope:    scope,
				Verified: true,
			},
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	e.log.WithFields(logrus.Fields{
		"submission_id": id,
		"user_id":       owner,
		"reviewer_id":   reviewer,
		"points":        points,
		"total":         total,
	}).Info("submission approved")
	e.notify(ctx, map[ledger.UserID]int64{owner: total})
	return total, nil
}

// RejectSubmission moves a pending submission to rejected. The ledger is
// not touched.
func (e *Engine) RejectSubmission(ctx context.Context, id ledger.SubmissionID, reviewer ledger.UserID, remarks string) error {
	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := e.lockPending(ctx, tx, id, reviewer); err != nil {
			return err
		}
		if err := tx.SetSubmissionStatus(ctx, id, ledger.StatusRejected); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		if err := tx.InsertReview(ctx, ledger.Review{
			ID:           uuid.NewString(),
			SubmissionID: id,
			ReviewerID:   reviewer,
			Decision:     ledger.DecisionRejected,
			Remarks:      remarks,
			ReviewedAt:   e.now(),
		}); err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{"submission_id": id, "reviewer_id": reviewer}).Info("submission rejected")
	return nil
}

func (e *Engine) lockPending(ctx context.Context, tx ledger.Tx, id ledger.SubmissionID, reviewer ledger.UserID) (*ledger.Submission, error) {
	sub, err := tx.LockSubmission(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock submission: %w", err)
	}
	if sub == nil {
		return nil, ledger.NotFound("submission", string(id))
	}
	if sub.Status != ledger.StatusPending {
		return nil, &ledger.InvalidStateError{
			Kind:   "submission",
			ID:     string(id),
			Status: string(sub.Status),
			Want:   string(ledger.StatusPending),
		}
	}
	r, err := tx.GetUser(ctx, reviewer)
	if err != nil {
		return nil, fmt.Errorf("get reviewer: %w", err)
	}
	if r == nil {
		return nil, ledger.NotFound("user", string(reviewer))
	}
	return sub, nil
}
