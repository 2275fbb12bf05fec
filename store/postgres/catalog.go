package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/campusengage/points-engine/ledger"
)

// =============================================================================
// CATALOG (ledger.Catalog)
// =============================================================================

// SaveUser inserts or updates a profile. total_points is only ever
// written by SetTotalPoints.
func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	if u.Role == "" {
		u.Role = ledger.RoleStudent
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, roll_no, name, email, role, total_points, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		ON CONFLICT (id) DO UPDATE SET
			roll_no = EXCLUDED.roll_no,
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role`,
		string(u.ID), u.RollNo, u.Name, u.Email, string(u.Role), stamp(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) SaveEvent(ctx context.Context, e ledger.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, title, event_type, organized_by, event_date, location,
		                    points_per_participant, winner_points, winners_roll_nos, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			event_type = EXCLUDED.event_type,
			organized_by = EXCLUDED.organized_by,
			event_date = EXCLUDED.event_date,
			location = EXCLUDED.location,
			points_per_participant = EXCLUDED.points_per_participant,
			winner_points = EXCLUDED.winner_points,
			winners_roll_nos = EXCLUDED.winners_roll_nos`,
		string(e.ID), e.Title, string(e.Type), e.OrganizedBy, nullTime(e.Date), e.Location,
		e.PointsPerParticipant, e.WinnerPoints, pq.StringArray(rollsOrEmpty(e.WinnersRollNos)), stamp(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *Store) SetWinners(ctx context.Context, id ledger.EventID, rolls []string) error {
	return setWinners(ctx, s.db, id, rolls)
}

func setWinners(ctx context.Context, q querier, id ledger.EventID, rolls []string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE events SET winners_roll_nos = $1 WHERE id = $2`,
		pq.StringArray(rollsOrEmpty(rolls)), string(id))
	if err != nil {
		return fmt.Errorf("failed to set winners: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound("event", string(id))
	}
	return nil
}

// UpsertItem matches on name. xmax is zero only for a freshly inserted
// row, which tells created from updated in one round trip.
func (s *Store) UpsertItem(ctx context.Context, item ledger.ShopItem) (bool, error) {
	if item.ID == "" {
		item.ID = ledger.ItemID(uuid.NewString())
	}
	var created bool
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO shop_items (id, name, description, category, points_cost, stock, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			points_cost = EXCLUDED.points_cost,
			stock = EXCLUDED.stock,
			is_active = EXCLUDED.is_active
		RETURNING (xmax = 0)`,
		string(item.ID), item.Name, item.Description, item.Category, item.PointsCost, item.Stock,
		item.IsActive, stamp(item.CreatedAt),
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert item: %w", err)
	}
	return created, nil
}

// SaveSubmission never changes the status of an existing submission.
func (s *Store) SaveSubmission(ctx context.Context, sub ledger.Submission) error {
	if sub.Status == "" {
		sub.Status = ledger.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, user_id, event_id, submission_type, file_url, status, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			event_id = EXCLUDED.event_id,
			submission_type = EXCLUDED.submission_type,
			file_url = EXCLUDED.file_url`,
		string(sub.ID), string(sub.UserID), nullString(string(sub.EventID)), string(sub.Type),
		sub.FileURL, string(sub.Status), stamp(sub.UploadedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}

func rollsOrEmpty(rolls []string) []string {
	if rolls == nil {
		return []string{}
	}
	return rolls
}
