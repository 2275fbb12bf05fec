package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/campusengage/points-engine/ledger"
)

// =============================================================================
// ROWS
// =============================================================================

type userRow struct {
	ID          string    `db:"id"`
	RollNo      string    `db:"roll_no"`
	Name        string    `db:"name"`
	Email       string    `db:"email"`
	Role        string    `db:"role"`
	TotalPoints int64     `db:"total_points"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r userRow) user() ledger.User {
	return ledger.User{
		ID:          ledger.UserID(r.ID),
		RollNo:      r.RollNo,
		Name:        r.Name,
		Email:       r.Email,
		Role:        ledger.Role(r.Role),
		TotalPoints: r.TotalPoints,
		CreatedAt:   r.CreatedAt,
	}
}

type eventRow struct {
	ID                   string         `db:"id"`
	Title                string         `db:"title"`
	Type                 string         `db:"event_type"`
	OrganizedBy          string         `db:"organized_by"`
	Date                 sql.NullTime   `db:"event_date"`
	Location             string         `db:"location"`
	PointsPerParticipant int64          `db:"points_per_participant"`
	WinnerPoints         int64          `db:"winner_points"`
	WinnersRollNos       pq.StringArray `db:"winners_roll_nos"`
	CreatedAt            time.Time      `db:"created_at"`
}

func (r eventRow) event() ledger.Event {
	e := ledger.Event{
		ID:                   ledger.EventID(r.ID),
		Title:                r.Title,
		Type:                 ledger.EventType(r.Type),
		OrganizedBy:          r.OrganizedBy,
		Location:             r.Location,
		PointsPerParticipant: r.PointsPerParticipant,
		WinnerPoints:         r.WinnerPoints,
		CreatedAt:            r.CreatedAt,
	}
	if r.Date.Valid {
		e.Date = r.Date.Time
	}
	if len(r.WinnersRollNos) > 0 {
		e.WinnersRollNos = []string(r.WinnersRollNos)
	}
	return e
}

type itemRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Category    string    `db:"category"`
	PointsCost  int64     `db:"points_cost"`
	Stock       int64     `db:"stock"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r itemRow) item() ledger.ShopItem {
	return ledger.ShopItem{
		ID:          ledger.ItemID(r.ID),
		Name:        r.Name,
		Description: r.Description,
		Category:    r.Category,
		PointsCost:  r.PointsCost,
		Stock:       r.Stock,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
	}
}

type submissionRow struct {
	ID         string         `db:"id"`
	UserID     string         `db:"user_id"`
	EventID    sql.NullString `db:"event_id"`
	Type       string         `db:"submission_type"`
	FileURL    string         `db:"file_url"`
	Status     string         `db:"status"`
	UploadedAt time.Time      `db:"uploaded_at"`
}

func (r submissionRow) submission() ledger.Submission {
	return ledger.Submission{
		ID:         ledger.SubmissionID(r.ID),
		UserID:     ledger.UserID(r.UserID),
		EventID:    ledger.EventID(r.EventID.String),
		Type:       ledger.SubmissionType(r.Type),
		FileURL:    r.FileURL,
		Status:     ledger.SubmissionStatus(r.Status),
		UploadedAt: r.UploadedAt,
	}
}

type entryRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	EventID        sql.NullString `db:"event_id"`
	Type           string         `db:"entry_type"`
	Points         int64          `db:"points"`
	Source         string         `db:"source"`
	Reason         string         `db:"reason"`
	IdempotencyKey string         `db:"idempotency_key"`
	CreatedAt      time.Time      `db:"created_at"`
}

type participationRow struct {
	UserID    string         `db:"user_id"`
	EventID   sql.NullString `db:"event_id"`
	Source    string         `db:"source"`
	Scope     string         `db:"scope"`
	Verified  bool           `db:"verified"`
	CreatedAt time.Time      `db:"created_at"`
}

type redemptionRow struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	ItemID      string    `db:"item_id"`
	Code        string    `db:"code"`
	PointsSpent int64     `db:"points_spent"`
	CreatedAt   time.Time `db:"created_at"`
}

type reviewRow struct {
	ID           string    `db:"id"`
	SubmissionID string    `db:"submission_id"`
	ReviewerID   string    `db:"reviewer_id"`
	Decision     string    `db:"decision"`
	Remarks      string    `db:"remarks"`
	ReviewedAt   time.Time `db:"reviewed_at"`
}

// =============================================================================
// READER
// =============================================================================

type reader struct {
	q querier
}

const (
	userColumns       = `id, roll_no, name, email, role, total_points, created_at`
	eventColumns      = `id, title, event_type, organized_by, event_date, location, points_per_participant, winner_points, winners_roll_nos, created_at`
	itemColumns       = `id, name, description, category, points_cost, stock, is_active, created_at`
	submissionColumns = `id, user_id, event_id, submission_type, file_url, status, uploaded_at`
)

// get scans one row into dst and reports false when there is none.
func (r reader) get(ctx context.Context, dst any, query string, args ...any) (bool, error) {
	err := sqlx.GetContext(ctx, r.q, dst, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r reader) getUser(ctx context.Context, query string, id ledger.UserID) (*ledger.User, error) {
	var row userRow
	ok, err := r.get(ctx, &row, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !ok {
		return nil, nil
	}
	u := row.user()
	return &u, nil
}

func (r reader) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r reader) UsersByRoll(ctx context.Context, rolls []string) (map[string]ledger.User, error) {
	found := make(map[string]ledger.User)
	if len(rolls) == 0 {
		return found, nil
	}
	var rows []userRow
	err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+userColumns+` FROM users WHERE roll_no = ANY($1)`, pq.Array(rolls))
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	for _, row := range rows {
		found[row.RollNo] = row.user()
	}
	return found, nil
}

func (r reader) selectUsers(ctx context.Context, query string, args ...any) ([]ledger.User, error) {
	var rows []userRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	users := make([]ledger.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.user())
	}
	return users, nil
}

func (r reader) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return r.selectUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
}

// Leaderboard uses LIMIT NULL (no limit) when limit <= 0.
func (r reader) Leaderboard(ctx context.Context, limit int) ([]ledger.User, error) {
	var n sql.NullInt64
	if limit > 0 {
		n = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	return r.selectUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = $1
		ORDER BY total_points DESC, roll_no ASC
		LIMIT $2`, string(ledger.RoleStudent), n)
}

func (r reader) GetEvent(ctx context.Context, id ledger.EventID) (*ledger.Event, error) {
	var row eventRow
	ok, err := r.get(ctx, &row, `SELECT `+eventColumns+` FROM events WHERE id = $1`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if !ok {
		return nil, nil
	}
	e := row.event()
	return &e, nil
}

func (r reader) getItem(ctx context.Context, query string, id ledger.ItemID) (*ledger.ShopItem, error) {
	var row itemRow
	ok, err := r.get(ctx, &row, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if !ok {
		return nil, nil
	}
	item := row.item()
	return &item, nil
}

func (r reader) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.ShopItem, error) {
	return r.getItem(ctx, `SELECT `+itemColumns+` FROM shop_items WHERE id = $1`, id)
}

func (r reader) ListItems(ctx context.Context, activeOnly bool) ([]ledger.ShopItem, error) {
	query := `SELECT ` + itemColumns + ` FROM shop_items`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY points_cost ASC, name ASC`

	var rows []itemRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	items := make([]ledger.ShopItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.item())
	}
	return items, nil
}

func (r reader) getSubmission(ctx context.Context, query string, id ledger.SubmissionID) (*ledger.Submission, error) {
	var row submissionRow
	ok, err := r.get(ctx, &row, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	if !ok {
		return nil, nil
	}
	s := row.submission()
	return &s, nil
}

func (r reader) GetSubmission(ctx context.Context, id ledger.SubmissionID) (*ledger.Submission, error) {
	return r.getSubmission(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
}

func (r reader) PendingSubmissions(ctx context.Context) ([]ledger.Submission, error) {
	var rows []submissionRow
	err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT `+submissionColumns+` FROM submissions WHERE status = $1 ORDER BY uploaded_at ASC`,
		string(ledger.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	subs := make([]ledger.Submission, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, row.submission())
	}
	return subs, nil
}

func (r reader) Reviews(ctx context.Context, id ledger.SubmissionID) ([]ledger.Review, error) {
	var rows []reviewRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, submission_id, reviewer_id, decision, remarks, reviewed_at
		FROM reviews WHERE submission_id = $1 ORDER BY reviewed_at ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	reviews := make([]ledger.Review, 0, len(rows))
	for _, row := range rows {
		reviews = append(reviews, ledger.Review{
			ID:           row.ID,
			SubmissionID: ledger.SubmissionID(row.SubmissionID),
			ReviewerID:   ledger.UserID(row.ReviewerID),
			Decision:     ledger.Decision(row.Decision),
			Remarks:      row.Remarks,
			ReviewedAt:   row.ReviewedAt,
		})
	}
	return reviews, nil
}

func (r reader) Entries(ctx context.Context, user ledger.UserID) ([]ledger.Entry, error) {
	var rows []entryRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, user_id, event_id, entry_type, points, source, reason, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, string(user))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ledger.Entry{
			ID:             ledger.EntryID(row.ID),
			UserID:         ledger.UserID(row.UserID),
			EventID:        ledger.EventID(row.EventID.String),
			Type:           ledger.EntryType(row.Type),
			Points:         row.Points,
			Source:         ledger.Source(row.Source),
			Reason:         row.Reason,
			IdempotencyKey: row.IdempotencyKey,
			CreatedAt:      row.CreatedAt,
		})
	}
	return entries, nil
}

func (r reader) SumForUser(ctx context.Context, user ledger.UserID) (int64, error) {
	var sum int64
	err := sqlx.GetContext(ctx, r.q, &sum,
		`SELECT COALESCE(SUM(points), 0) FROM ledger_entries WHERE user_id = $1`, string(user))
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

func (r reader) EntryExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)`, key)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return exists, nil
}

func (r reader) Participations(ctx context.Context, user ledger.UserID) ([]ledger.Participation, error) {
	var rows []participationRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT user_id, event_id, source, scope, verified, created_at
		FROM participations WHERE user_id = $1 ORDER BY id ASC`, string(user))
	if err != nil {
		return nil, fmt.Errorf("failed to query participations: %w", err)
	}
	parts := make([]ledger.Participation, 0, len(rows))
	for _, row := range rows {
		parts = append(parts, ledger.Participation{
			UserID:    ledger.UserID(row.UserID),
			EventID:   ledger.EventID(row.EventID.String),
			Source:    ledger.ParticipationSource(row.Source),
			Scope:     ledger.Scope(row.Scope),
			Verified:  row.Verified,
			CreatedAt: row.CreatedAt,
		})
	}
	return parts, nil
}

func (r reader) Redemptions(ctx context.Context, user ledger.UserID) ([]ledger.Redemption, error) {
	var rows []redemptionRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT id, user_id, item_id, code, points_spent, created_at
		FROM redemptions WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, string(user))
	if err != nil {
		return nil, fmt.Errorf("failed to query redemptions: %w", err)
	}
	reds := make([]ledger.Redemption, 0, len(rows))
	for _, row := range rows {
		reds = append(reds, ledger.Redemption{
			ID:          ledger.RedemptionID(row.ID),
			UserID:      ledger.UserID(row.UserID),
			ItemID:      ledger.ItemID(row.ItemID),
			Code:        row.Code,
			PointsSpent: row.PointsSpent,
			CreatedAt:   row.CreatedAt,
		})
	}
	return reds, nil
}

// =============================================================================
// TX STORE (ledger.Tx)
// =============================================================================

type txStore struct {
	reader
	tx *sqlx.Tx
}

func (ts *txStore) LockUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return ts.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (ts *txStore) LockItem(ctx context.Context, id ledger.ItemID) (*ledger.ShopItem, error) {
	return ts.getItem(ctx, `SELECT `+itemColumns+` FROM shop_items WHERE id = $1 FOR UPDATE`, id)
}

func (ts *txStore) LockSubmission(ctx context.Context, id ledger.SubmissionID) (*ledger.Submission, error) {
	return ts.getSubmission(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id)
}

// Append inserts the entry. ON CONFLICT keeps the transaction alive when
// the key is taken; the caller sees ErrDuplicateEntry.
func (ts *txStore) Append(ctx context.Context, e ledger.Entry) error {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, user_id, event_id, entry_type, points, source, reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		string(e.ID), string(e.UserID), nullString(string(e.EventID)), string(e.Type), e.Points,
		string(e.Source), e.Reason, e.IdempotencyKey, stamp(e.CreatedAt),
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
	res, err := ts.tx.ExecContext(ctx, `UPDATE users SET total_points = $1 WHERE id = $2`, total, string(user))
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
	res, err := ts.tx.ExecContext(ctx,
		`UPDATE shop_items SET stock = stock - 1 WHERE id = $1 AND stock > 0`, string(id))
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
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO NOTHING`,
		string(r.ID), string(r.UserID), string(r.ItemID), r.Code, r.PointsSpent, stamp(r.CreatedAt),
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
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, source, scope) DO NOTHING`,
		string(p.UserID), nullString(string(p.EventID)), string(p.Source), string(p.Scope),
		p.Verified, stamp(p.CreatedAt),
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
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, event_id) DO NOTHING`,
		a.ID, string(a.UserID), string(a.EventID), confidence, stamp(a.MarkedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert attendance: %w", err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (ts *txStore) SetSubmissionStatus(ctx context.Context, id ledger.SubmissionID, status ledger.SubmissionStatus) error {
	res, err := ts.tx.ExecContext(ctx,
		`UPDATE submissions SET status = $1 WHERE id = $2`, string(status), string(id))
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
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, string(r.SubmissionID), string(r.ReviewerID), string(r.Decision), r.Remarks, stamp(r.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}
