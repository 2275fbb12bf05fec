package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campusengage/points-engine/ledger"
)

// =============================================================================
// READER (ledger.Reader over *sql.DB or *sql.Tx)
// =============================================================================

type reader struct {
	q querier
}

const userColumns = `id, roll_no, name, email, role, total_points, created_at`

func scanUser(row scanner) (ledger.User, error) {
	var (
		u         ledger.User
		createdAt string
	)
	if err := row.Scan(&u.ID, &u.RollNo, &u.Name, &u.Email, &u.Role, &u.TotalPoints, &createdAt); err != nil {
		return u, err
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func (r reader) getUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r reader) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return r.getUser(ctx, id)
}

func (r reader) UsersByRoll(ctx context.Context, rolls []string) (map[string]ledger.User, error) {
	found := make(map[string]ledger.User)
	if len(rolls) == 0 {
		return found, nil
	}
	args := make([]any, len(rolls))
	for i, roll := range rolls {
		args[i] = roll
	}
	users, err := r.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE roll_no IN (`+placeholders(len(rolls))+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		found[u.RollNo] = u
	}
	return found, nil
}

func (r reader) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

func (r reader) Leaderboard(ctx context.Context, limit int) ([]ledger.User, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.queryUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = ?
		ORDER BY total_points DESC, roll_no ASC
		LIMIT ?`, ledger.RoleStudent, limit)
}

func (r reader) queryUsers(ctx context.Context, query string, args ...any) ([]ledger.User, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r reader) GetEvent(ctx context.Context, id ledger.EventID) (*ledger.Event, error) {
	var (
		e         ledger.Event
		date      sql.NullString
		winners   string
		createdAt string
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, title, event_type, organized_by, event_date, location,
		       points_per_participant, winner_points, winners_roll_nos, created_at
		FROM events WHERE id = ?`, id,
	).Scan(&e.ID, &e.Title, &e.Type, &e.OrganizedBy, &date, &e.Location,
		&e.PointsPerParticipant, &e.WinnerPoints, &winners, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if date.Valid {
		e.Date = parseTime(date.String)
	}
	if e.WinnersRollNos, err = decodeRolls(winners); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

const itemColumns = `id, name, description, category, points_cost, stock, is_active, created_at`

func scanItem(row scanner) (ledger.ShopItem, error) {
	var (
		item      ledger.ShopItem
		createdAt string
	)
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Category,
		&item.PointsCost, &item.Stock, &item.IsActive, &createdAt)
	item.CreatedAt = parseTime(createdAt)
	return item, err
}

func (r reader) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.ShopItem, error) {
	item, err := scanItem(r.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM shop_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (r reader) ListItems(ctx context.Context, activeOnly bool) ([]ledger.ShopItem, error) {
	query := `SELECT ` + itemColumns + ` FROM shop_items`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY points_cost ASC, name ASC`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []ledger.ShopItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const submissionColumns = `id, user_id, event_id, submission_type, file_url, status, uploaded_at`

func scanSubmission(row scanner) (ledger.Submission, error) {
	var (
		s          ledger.Submission
		eventID    sql.NullString
		uploadedAt string
	)
	err := row.Scan(&s.ID, &s.UserID, &eventID, &s.Type, &s.FileURL, &s.Status, &uploadedAt)
	s.EventID = ledger.EventID(eventID.String)
	s.UploadedAt = parseTime(uploadedAt)
	return s, err
}

func (r reader) GetSubmission(ctx context.Context, id ledger.SubmissionID) (*ledger.Submission, error) {
	s, err := scanSubmission(r.q.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return &s, nil
}

func (r reader) PendingSubmissions(ctx context.Context) ([]ledger.Submission, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status = ? ORDER BY uploaded_at ASC`,
		ledger.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var subs []ledger.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r reader) Reviews(ctx context.Context, id ledger.SubmissionID) ([]ledger.Review, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, submission_id, reviewer_id, decision, remarks, reviewed_at
		FROM reviews WHERE submission_id = ? ORDER BY reviewed_at ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []ledger.Review
	for rows.Next() {
		var (
			rv         ledger.Review
			reviewedAt string
		)
		if err := rows.Scan(&rv.ID, &rv.SubmissionID, &rv.ReviewerID, &rv.Decision, &rv.Remarks, &reviewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		rv.ReviewedAt = parseTime(reviewedAt)
		reviews = append(reviews, rv)
	}
	return reviews, rows.Err()
}

func (r reader) Entries(ctx context.Context, user ledger.UserID) ([]ledger.Entry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, event_id, entry_type, points, source, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e         ledger.Entry
			eventID   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &eventID, &e.Type, &e.Points, &e.Source,
			&e.Reason, &e.IdempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.EventID = ledger.EventID(eventID.String)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r reader) SumForUser(ctx context.Context, user ledger.UserID) (int64, error) {
	var sum int64
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM ledger_entries WHERE user_id = ?`, user,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

func (r reader) EntryExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?`, key,
	).Scan(&count)
	return count > 0, err
}

func (r reader) Participations(ctx context.Context, user ledger.UserID) ([]ledger.Participation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id, event_id, source, scope, verified, created_at
		FROM participations WHERE user_id = ? ORDER BY id ASC`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query participations: %w", err)
	}
	defer rows.Close()

	var parts []ledger.Participation
	for rows.Next() {
		var (
			p         ledger.Participation
			eventID   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&p.UserID, &eventID, &p.Source, &p.Scope, &p.Verified, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan participation: %w", err)
		}
		p.EventID = ledger.EventID(eventID.String)
		p.CreatedAt = parseTime(createdAt)
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (r reader) Redemptions(ctx context.Context, user ledger.UserID) ([]ledger.Redemption, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, item_id, code, points_spent, created_at
		FROM redemptions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	defer rows.Close()

	var reds []ledger.Redemption
	for rows.Next() {
		var (
			rd        ledger.Redemption
			createdAt string
		)
		if err := rows.Scan(&rd.ID, &rd.UserID, &rd.ItemID, &rd.Code, &rd.PointsSpent, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		rd.CreatedAt = parseTime(createdAt)
		reds = append(reds, rd)
	}
	return reds, rows.Err()
}

// =============================================================================
// TX STORE (ledger.Tx)
// =============================================================================

type txStore struct {
	reader
	tx *sql.Tx
}

func (ts *txStore) LockUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return ts.getUser(ctx, id)
}

func (ts *txStore) LockItem(ctx context.Context, id ledger.ItemID) (*ledger.ShopItem, error) {
	return ts.GetItem(ctx, id)
}

func (ts *txStore) LockSubmission(ctx context.Context, id ledger.SubmissionID) (*ledger.Submission, error) {
	return ts.GetSubmission(ctx, id)
}

// Append adds an entry to the ledger.
func (ts *txStore) Append(ctx context.Context, e ledger.Entry) error {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, user_id, event_id, entry_type, points, source, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		e.ID, e.UserID, nullString(string(e.EventID)), e.Type, e.Points, e.Source,
		e.Reason, e.IdempotencyKey, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrDuplicateEntry
	}
	return nil
}

func (ts *txStore) SetTotalPoints(ctx context.Context, user ledger.UserID, total int64) error {
	res, err := ts.tx.ExecContext(ctx, `UPDATE users SET total_points = ? WHERE id = ?`, total, user)
	if err != nil {
		return fmt.Errorf("failed to update total: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound("user", string(user))
	}
	return nil
}

func (ts *txStore) DecrementStock(ctx context.Context, id ledger.ItemID) error {
	res, err := ts.tx.ExecContext(ctx, `UPDATE shop_items SET stock = stock - 1 WHERE id = ? AND stock > 0`, id)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	item, err := ts.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return ledger.NotFound("item", string(id))
	}
	return ledger.ErrOutOfStock
}

func (ts *txStore) InsertRedemption(ctx context.Context, r ledger.Redemption) error {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO redemptions (id, user_id, item_id, code, points_spent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING`,
		r.ID, r.UserID, r.ItemID, r.Code, r.PointsSpent, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert redemption: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrCodeConflict
	}
	return nil
}

func (ts *txStore) UpsertParticipation(ctx context.Context, p ledger.Participation) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO participations (user_id, event_id, source, scope, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, source, scope) DO NOTHING`,
		p.UserID, nullString(string(p.EventID)), p.Source, p.Scope, p.Verified, formatTime(p.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert participation: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (ts *txStore) InsertAttendance(ctx context.Context, a ledger.Attendance) (bool, error) {
	var confidence sql.NullFloat64
	if a.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *a.Confidence, Valid: true}
	}
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO attendance (id, user_id, event_id, confidence, marked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, event_id) DO NOTHING`,
		a.ID, a.UserID, a.EventID, confidence, formatTime(a.MarkedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert attendance: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (ts *txStore) SetSubmissionStatus(ctx context.Context, id ledger.SubmissionID, status ledger.SubmissionStatus) error {
	res, err := ts.tx.ExecContext(ctx, `UPDATE submissions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound("submission", string(id))
	}
	return nil
}

func (ts *txStore) SetWinners(ctx context.Context, id ledger.EventID, rolls []string) error {
	return setWinners(ctx, ts.tx, id, rolls)
}

func (ts *txStore) InsertReview(ctx context.Context, r ledger.Review) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO reviews (id, submission_id, reviewer_id, decision, remarks, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.SubmissionID, r.ReviewerID, r.Decision, r.Remarks, formatTime(r.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}
