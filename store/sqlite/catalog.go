package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campusengage/points-engine/ledger"
)

// =============================================================================
// CATALOG (ledger.Catalog)
// =============================================================================

// SaveUser inserts a user or updates its profile. total_points is left
// untouched on update.
func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Role == "" {
		u.Role = ledger.RoleStudent
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, roll_no, name, email, role, total_points, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			roll_no = excluded.roll_no,
			name = excluded.name,
			email = excluded.email,
			role = excluded.role`,
		u.ID, u.RollNo, u.Name, u.Email, u.Role, formatTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) SaveEvent(ctx context.Context, e ledger.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	winners, err := encodeRolls(e.WinnersRollNos)
	if err != nil {
		return err
	}
	var date sql.NullString
	if !e.Date.IsZero() {
		date = sql.NullString{String: formatTime(e.Date), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, title, event_type, organized_by, event_date, location,
		                    points_per_participant, winner_points, winners_roll_nos, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			event_type = excluded.event_type,
			organized_by = excluded.organized_by,
			event_date = excluded.event_date,
			location = excluded.location,
			points_per_participant = excluded.points_per_participant,
			winner_points = excluded.winner_points,
			winners_roll_nos = excluded.winners_roll_nos`,
		e.ID, e.Title, e.Type, e.OrganizedBy, date, e.Location,
		e.PointsPerParticipant, e.WinnerPoints, winners, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

func (s *Store) SetWinners(ctx context.Context, id ledger.EventID, rolls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return setWinners(ctx, s.db, id, rolls)
}

func setWinners(ctx context.Context, q querier, id ledger.EventID, rolls []string) error {
	winners, err := encodeRolls(rolls)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `UPDATE events SET winners_roll_nos = ? WHERE id = ?`, winners, id)
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

// UpsertItem matches an existing item by name and updates it in place,
// keeping its id. New items get a uuid unless one is supplied.
func (s *Store) UpsertItem(ctx context.Context, item ledger.ShopItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM shop_items WHERE name = ?`, item.Name).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if item.ID == "" {
			item.ID = ledger.ItemID(uuid.NewString())
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = time.Now()
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO shop_items (id, name, description, category, points_cost, stock, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.Name, item.Description, item.Category, item.PointsCost, item.Stock,
			item.IsActive, formatTime(item.CreatedAt),
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert item: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to look up item: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE shop_items
		SET description = ?, category = ?, points_cost = ?, stock = ?, is_active = ?
		WHERE id = ?`,
		item.Description, item.Category, item.PointsCost, item.Stock, item.IsActive, existing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update item: %w", err)
	}
	return false, nil
}

func (s *Store) SaveSubmission(ctx context.Context, sub ledger.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.Status == "" {
		sub.Status = ledger.StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, user_id, event_id, submission_type, file_url, status, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			event_id = excluded.event_id,
			submission_type = excluded.submission_type,
			file_url = excluded.file_url`,
		sub.ID, sub.UserID, nullString(string(sub.EventID)), sub.Type, sub.FileURL, sub.Status,
		formatTime(sub.UploadedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}
	return nil
}
