package points

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
)

// Redeem spends the item's cost from the user's balance. It locks the
// item and then the user, validates under the locks, and then writes
// stock, redemption, debit entry and recomputed total as one unit.
//
// Failures:
//   - missing or inactive item, missing user: NotFound
//   - stock 0: ErrOutOfStock
//   - total below cost: *InsufficientBalanceError
//   - generated code already taken: ErrCodeConflict (retry the call)
func (e *Engine) Redeem(ctx context.Context, userID ledger.UserID, itemID ledger.ItemID) (*ledger.Redemption, int64, error) {
	var (
		redemption ledger.Redemption
		total      int64
	)

	err := e.store.WithTx(ctx, func(tx ledger.Tx) error {
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return fmt.Errorf("lock item: %w", err)
		}
		if item == nil || !item.IsActive {
			return ledger.NotFound("item", string(itemID))
		}

		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if user == nil {
			return ledger.NotFound("user", string(userID))
		}

		if item.Stock <= 0 {
			return fmt.Errorf("%w: %s", ledger.ErrOutOfStock, item.Name)
		}
		if user.TotalPoints < item.PointsCost {
			return &ledger.InsufficientBalanceError{
				UserID:    userID,
				Available: user.TotalPoints,
				Cost:      item.PointsCost,
			}
		}

		if err := tx.DecrementStock(ctx, itemID); err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}

		now := e.now()
		redemption = ledger.Redemption{
			ID:          ledger.RedemptionID(uuid.NewString()),
			UserID:      userID,
			ItemID:      itemID,
			Code:        e.codes.Generate(),
			PointsSpent: item.PointsCost,
			CreatedAt:   now,
		}
		if err := tx.InsertRedemption(ctx, redemption); err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		entry := ledger.Entry{
			ID:             ledger.EntryID(uuid.NewString()),
			UserID:         userID,
			Type:           ledger.EntryDebit,
			Points:         -item.PointsCost,
			Source:         ledger.SourceRedemption,
			Reason:         fmt.Sprintf("Redeemed shop item: %s (code=%s)", item.Name, redemption.Code),
			IdempotencyKey: ledger.EntryKey(ledger.SourceRedemption, userID, ledger.RedemptionScope(redemption.ID)),
			CreatedAt:      now,
		}
		if err := entry.Validate(); err != nil {
			return err
		}
		if err := tx.Append(ctx, entry); err != nil {
			return fmt.Errorf("append debit: %w", err)
		}

		total, err = ledger.Recompute(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}

	e.log.WithFields(logrus.Fields{
		"user_id": userID,
		"item_id": itemID,
		"code":    redemption.Code,
		"total":   total,
	}).Info("item redeemed")
	e.notify(ctx, map[ledger.UserID]int64{userID: total})
	return &redemption, total, nil
}
