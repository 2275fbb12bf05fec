// Package memstore provides an in-memory ledger.Store for tests and dev.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/campusengage/points-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Memory keeps every table in maps guarded by one RWMutex. WithTx holds
// the write lock for the whole transaction, which serializes writers the
// same way a row lock would.
type Memory struct {
	mu sync.RWMutex
	st *state
}

var _ ledger.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) Close() error { return nil }

// WithTx runs fn against the live state and restores a snapshot if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Reader (locked wrappers)
// -----------------------------------------------------------------------------

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetUser(ctx, id)
}

func (m *Memory) UsersByRoll(ctx context.Context, rolls []string) (map[string]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.UsersByRoll(ctx, rolls)
}

func (m *Memory) ListUsers(ctx context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListUsers(ctx)
}

func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Leaderboard(ctx, limit)
}

func (m *Memory) GetEvent(ctx context.Context, id ledger.EventID) (*ledger.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEvent(ctx, id)
}

func (m *Memory) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.ShopItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetItem(ctx, id)
}

func (m *Memory) ListItems(ctx context.Context, activeOnly bool) ([]ledger.ShopItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListItems(ctx, activeOnly)
}

func (m *Memory) GetSubmission(ctx context.Context, id ledger.SubmissionID) (*ledger.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetSubmission(ctx, id)
}

func (m *Memory) PendingSubmissions(ctx context.Context) ([]ledger.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.PendingSubmissions(ctx)
}

func (m *Memory) Reviews(ctx context.Context, id ledger.SubmissionID) ([]ledger.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Reviews(ctx, id)
}

func (m *Memory) Entries(ctx context.Context, user ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Entries(ctx, user)
}

func (m *Memory) SumForUser(ctx context.Context, user ledger.UserID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.SumForUser(ctx, user)
}

func (m *Memory) EntryExists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.EntryExists(ctx, key)
}

func (m *Memory) Participations(ctx context.Context, user ledger.UserID) ([]ledger.Participation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Participations(ctx, user)
}

func (m *Memory) Redemptions(ctx context.Context, user ledger.UserID) ([]ledger.Redemption, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Redemptions(ctx, user)
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

func (m *Memory) SaveUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, other := range m.st.users {
		if other.RollNo == u.RollNo && id != u.ID {
			return fmt.Errorf("roll number %s already taken by %s", u.RollNo, id)
		}
	}
	if u.Role == "" {
		u.Role = ledger.RoleStudent
	}
	if existing, ok := m.st.users[u.ID]; ok {
		u.TotalPoints = existing.TotalPoints
		u.CreatedAt = existing.CreatedAt
	} else {
		u.TotalPoints = 0
	}
	m.st.users[u.ID] = u
	return nil
}

func (m *Memory) SaveEvent(_ context.Context, e ledger.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.WinnersRollNos = append([]string(nil), e.WinnersRollNos...)
	m.st.events[e.ID] = e
	return nil
}

func (m *Memory) SetWinners(ctx context.Context, id ledger.EventID, rolls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SetWinners(ctx, id, rolls)
}

func (m *Memory) UpsertItem(_ context.Context, item ledger.ShopItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, existing := range m.st.items {
		if existing.Name == item.Name {
			item.ID = id
			item.CreatedAt = existing.CreatedAt
			m.st.items[id] = item
			return false, nil
		}
	}
	if item.ID == "" {
		item.ID = ledger.ItemID(uuid.NewString())
	}
	m.st.items[item.ID] = item
	return true, nil
}

func (m *Memory) SaveSubmission(_ context.Context, s ledger.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.st.submissions[s.ID]; ok {
		s.Status = existing.Status
	} else if s.Status == "" {
		s.Status = ledger.StatusPending
	}
	m.st.submissions[s.ID] = s
	return nil
}

// =============================================================================
// STATE - unlocked tables, also the ledger.Tx view
// =============================================================================

type participationKey struct {
	user   ledger.UserID
	source ledger.ParticipationSource
	scope  ledger.Scope
}

type attendanceKey struct {
	user  ledger.UserID
	event ledger.EventID
}

type state struct {
	users          map[ledger.UserID]ledger.User
	events         map[ledger.EventID]ledger.Event
	items          map[ledger.ItemID]ledger.ShopItem
	submissions    map[ledger.SubmissionID]ledger.Submission
	reviews        []ledger.Review
	entries        []ledger.Entry
	keys           map[string]bool
	participations map[participationKey]ledger.Participation
	redemptions    []ledger.Redemption
	codes          map[string]bool
	attendance     map[attendanceKey]ledger.Attendance
}

var _ ledger.Tx = (*state)(nil)

func newState() *state {
	return &state{
		users:          make(map[ledger.UserID]ledger.User),
		events:         make(map[ledger.EventID]ledger.Event),
		items:          make(map[ledger.ItemID]ledger.ShopItem),
		submissions:    make(map[ledger.SubmissionID]ledger.Submission),
		keys:           make(map[string]bool),
		participations: make(map[participationKey]ledger.Participation),
		codes:          make(map[string]bool),
		attendance:     make(map[attendanceKey]ledger.Attendance),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	for k, v := range s.keys {
		c.keys[k] = v
	}
	for k, v := range s.participations {
		c.participations[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	c.reviews = append([]ledger.Review(nil), s.reviews...)
	c.entries = append([]ledger.Entry(nil), s.entries...)
	c.redemptions = append([]ledger.Redemption(nil), s.redemptions...)
	return c
}

func (s *state) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *state) UsersByRoll(_ context.Context, rolls []string) (map[string]ledger.User, error) {
	want := make(map[string]bool, len(rolls))
	for _, r := range rolls {
		want[r] = true
	}
	found := make(map[string]ledger.User)
	for _, u := range s.users {
		if want[u.RollNo] {
			found[u.RollNo] = u
		}
	}
	return found, nil
}

func (s *state) ListUsers(_ context.Context) ([]ledger.User, error) {
	users := make([]ledger.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *state) Leaderboard(_ context.Context, limit int) ([]ledger.User, error) {
	var users []ledger.User
	for _, u := range s.users {
		if u.Role == ledger.RoleStudent {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].TotalPoints != users[j].TotalPoints {
			return users[i].TotalPoints > users[j].TotalPoints
		}
		return users[i].RollNo < users[j].RollNo
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (s *state) GetEvent(_ context.Context, id ledger.EventID) (*ledger.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	e.WinnersRollNos = append([]string(nil), e.WinnersRollNos...)
	return &e, nil
}

func (s *state) GetItem(_ context.Context, id ledger.ItemID) (*ledger.ShopItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *state) ListItems(_ context.Context, activeOnly bool) ([]ledger.ShopItem, error) {
	var items []ledger.ShopItem
	for _, item := range s.items {
		if activeOnly && !item.IsActive {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].PointsCost != items[j].PointsCost {
			return items[i].PointsCost < items[j].PointsCost
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (s *state) GetSubmission(_ context.Context, id ledger.SubmissionID) (*ledger.Submission, error) {
	sub, ok := s.submissions[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (s *state) PendingSubmissions(_ context.Context) ([]ledger.Submission, error) {
	var subs []ledger.Submission
	for _, sub := range s.submissions {
		if sub.Status == ledger.StatusPending {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].UploadedAt.Before(subs[j].UploadedAt) })
	return subs, nil
}

func (s *state) Reviews(_ context.Context, id ledger.SubmissionID) ([]ledger.Review, error) {
	var out []ledger.Review
	for _, r := range s.reviews {
		if r.SubmissionID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *state) Entries(_ context.Context, user ledger.UserID) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == user {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *state) SumForUser(_ context.Context, user ledger.UserID) (int64, error) {
	var sum int64
	for _, e := range s.entries {
		if e.UserID == user {
			sum += e.Points
		}
	}
	return sum, nil
}

func (s *state) EntryExists(_ context.Context, key string) (bool, error) {
	return s.keys[key], nil
}

func (s *state) Participations(_ context.Context, user ledger.UserID) ([]ledger.Participation, error) {
	var out []ledger.Participation
	for k, p := range s.participations {
		if k.user == user {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *state) Redemptions(_ context.Context, user ledger.UserID) ([]ledger.Redemption, error) {
	var out []ledger.Redemption
	for i := len(s.redemptions) - 1; i >= 0; i-- {
		if s.redemptions[i].UserID == user {
			out = append(out, s.redemptions[i])
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Tx writes
// -----------------------------------------------------------------------------

func (s *state) LockUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return s.GetUser(ctx, id)
}

func (s *state) LockItem(ctx context.Context, id ledger.ItemID) (*ledger.ShopItem, error) {
	return s.GetItem(ctx, id)
}

func (s *state) LockSubmission(ctx context.Context, id ledger.SubmissionID) (*ledger.Submission, error) {
	return s.GetSubmission(ctx, id)
}

func (s *state) Append(_ context.Context, e ledger.Entry) error {
	if _, ok := s.users[e.UserID]; !ok {
		return fmt.Errorf("append entry: unknown user %s", e.UserID)
	}
	if s.keys[e.IdempotencyKey] {
		return ledger.ErrDuplicateEntry
	}
	s.entries = append(s.entries, e)
	s.keys[e.IdempotencyKey] = true
	return nil
}

func (s *state) SetTotalPoints(_ context.Context, user ledger.UserID, total int64) error {
	u, ok := s.users[user]
	if !ok {
		return ledger.NotFound("user", string(user))
	}
	u.TotalPoints = total
	s.users[user] = u
	return nil
}

func (s *state) DecrementStock(_ context.Context, id ledger.ItemID) error {
	item, ok := s.items[id]
	if !ok {
		return ledger.NotFound("item", string(id))
	}
	if item.Stock <= 0 {
		return ledger.ErrOutOfStock
	}
	item.Stock--
	s.items[id] = item
	return nil
}

func (s *state) InsertRedemption(_ context.Context, r ledger.Redemption) error {
	if s.codes[r.Code] {
		return ledger.ErrCodeConflict
	}
	s.redemptions = append(s.redemptions, r)
	s.codes[r.Code] = true
	return nil
}

func (s *state) UpsertParticipation(_ context.Context, p ledger.Participation) (bool, error) {
	k := participationKey{user: p.UserID, source: p.Source, scope: p.Scope}
	if _, ok := s.participations[k]; ok {
		return false, nil
	}
	s.participations[k] = p
	return true, nil
}

func (s *state) InsertAttendance(_ context.Context, a ledger.Attendance) (bool, error) {
	k := attendanceKey{user: a.UserID, event: a.EventID}
	if _, ok := s.attendance[k]; ok {
		return false, nil
	}
	s.attendance[k] = a
	return true, nil
}

func (s *state) SetSubmissionStatus(_ context.Context, id ledger.SubmissionID, status ledger.SubmissionStatus) error {
	sub, ok := s.submissions[id]
	if !ok {
		return ledger.NotFound("submission", string(id))
	}
	sub.Status = status
	s.submissions[id] = sub
	return nil
}

func (s *state) SetWinners(_ context.Context, id ledger.EventID, rolls []string) error {
	e, ok := s.events[id]
	if !ok {
		return ledger.NotFound("event", string(id))
	}
	e.WinnersRollNos = append([]string(nil), rolls...)
	s.events[id] = e
	return nil
}

func (s *state) InsertReview(_ context.Context, r ledger.Review) error {
	s.reviews = append(s.reviews, r)
	return nil
}
