package sqlite_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/points"
	"github.com/campusengage/points-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, u := range []ledger.User{
		{ID: "u-alice", RollNo: "CS001", Name: "Alice", Role: ledger.RoleStudent},
		{ID: "u-bob", RollNo: "CS002", Name: "Bob", Role: ledger.RoleStudent},
		{ID: "u-admin", RollNo: "ADM01", Name: "Admin", Role: ledger.RoleAdmin},
	} {
		require.NoError(t, store.SaveUser(ctx, u))
	}
	require.NoError(t, store.SaveEvent(ctx, ledger.Event{
		ID:                   "evt-fest",
		Title:                "Tech Fest",
		Type:                 ledger.EventExtracurricular,
		Date:                 time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		PointsPerParticipant: 25,
		WinnerPoints:         100,
	}))
	return store
}

func newTestEngine(t *testing.T, store *sqlite.Store) *points.Engine {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return points.NewEngine(store, points.WithLogger(l))
}

func credit(id, user, key string, pts int64) ledger.Entry {
	return ledger.Entry{
		ID:             ledger.EntryID(id),
		UserID:         ledger.UserID(user),
		Type:           ledger.EntryCredit,
		Points:         pts,
		Source:         ledger.SourceAttendance,
		IdempotencyKey: key,
		CreatedAt:      time.Now(),
	}
}

// =============================================================================
// STORE
// =============================================================================

func TestAppend_DuplicateKeyKeepsTxUsable(t *testing.T) {
	// GIVEN: an entry already in the ledger
	store := newTestStore(t)
	ctx := context.Background()

	// WHEN: the same key is appended again in the same tx, then a new one
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.Append(ctx, credit("e-1", "u-alice", "k-1", 10)))
		assert.ErrorIs(t, tx.Append(ctx, credit("e-2", "u-alice", "k-1", 10)), ledger.ErrDuplicateEntry)
		return tx.Append(ctx, credit("e-3", "u-alice", "k-2", 5))
	})

	// THEN: the transaction commits with both distinct entries
	require.NoError(t, err)
	sum, err := store.SumForUser(ctx, "u-alice")
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum)
}

func TestAppend_SignCheckConstraint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bad := credit("e-1", "u-alice", "k-1", 10)
	bad.Type = ledger.EntryDebit // positive debit
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.Append(ctx, bad)
	})
	assert.Error(t, err)
}

func TestWithTx_Rollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.Append(ctx, credit("e-1", "u-alice", "k-1", 10)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	exists, err := store.EntryExists(ctx, "k-1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEntries_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		for i, key := range []string{"k-a", "k-b", "k-c"} {
			e := credit(key, "u-alice", key, int64(i+1))
			e.CreatedAt = base.Add(time.Duration(i) * 500 * time.Millisecond)
			if err := tx.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	entries, err := store.Entries(ctx, "u-alice")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "k-c", entries[0].IdempotencyKey)
	assert.Equal(t, "k-a", entries[2].IdempotencyKey)
	assert.True(t, entries[0].CreatedAt.Equal(base.Add(time.Second)))
	assert.Empty(t, entries[0].EventID)
}

func TestDecrementStock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created, err := store.UpsertItem(ctx, ledger.ShopItem{ID: "item-1", Name: "Sticker", PointsCost: 5, Stock: 1, IsActive: true})
	require.NoError(t, err)
	assert.True(t, created)

	err = store.WithTx(ctx, func(tx ledger.Tx) error {
		require.NoError(t, tx.DecrementStock(ctx, "item-1"))
		assert.ErrorIs(t, tx.DecrementStock(ctx, "item-1"), ledger.ErrOutOfStock)
		assert.True(t, ledger.IsNotFound(tx.DecrementStock(ctx, "item-x")))
		return nil
	})
	require.NoError(t, err)

	item, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.Stock)
}

func TestUpsertItem_MatchesByName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.UpsertItem(ctx, ledger.ShopItem{Name: "Mug", PointsCost: 80, Stock: 10, IsActive: true})
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.UpsertItem(ctx, ledger.ShopItem{Name: "Mug", PointsCost: 90, Stock: 3, IsActive: false})
	require.NoError(t, err)
	assert.False(t, created)

	all, err := store.ListItems(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(90), all[0].PointsCost)

	active, err := store.ListItems(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUpsertParticipationAndAttendance_Unique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		p := ledger.Participation{
			UserID: "u-alice", EventID: "evt-fest", Source: ledger.ParticipationAttendance,
			Scope: ledger.EventScope("evt-fest"), Verified: true, CreatedAt: time.Now(),
		}
		created, err := tx.UpsertParticipation(ctx, p)
		require.NoError(t, err)
		assert.True(t, created)
		created, err = tx.UpsertParticipation(ctx, p)
		require.NoError(t, err)
		assert.False(t, created)

		a := ledger.Attendance{ID: "a-1", UserID: "u-alice", EventID: "evt-fest", MarkedAt: time.Now()}
		created, err = tx.InsertAttendance(ctx, a)
		require.NoError(t, err)
		assert.True(t, created)
		a.ID = "a-2"
		created, err = tx.InsertAttendance(ctx, a)
		require.NoError(t, err)
		assert.False(t, created)
		return nil
	}))

	parts, err := store.Participations(ctx, "u-alice")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, ledger.EventID("evt-fest"), parts[0].EventID)
}

func TestEventWinners_RollWithCommaStaysWhole(t *testing.T) {
	// GIVEN: one declared roll that contains a comma
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetWinners(ctx, "evt-fest", []string{"CS001,CS002"}))

	// WHEN: the event is read back and the winners are paid
	ev, err := store.GetEvent(ctx, "evt-fest")
	require.NoError(t, err)
	credited, err := engine.AwardWinners(ctx, "evt-fest")

	// THEN: it is still one unmatched roll and nobody is paid
	require.NoError(t, err)
	assert.Equal(t, []string{"CS001,CS002"}, ev.WinnersRollNos)
	assert.Empty(t, credited)
	alice, _ := store.GetUser(ctx, "u-alice")
	bob, _ := store.GetUser(ctx, "u-bob")
	assert.Equal(t, int64(0), alice.TotalPoints)
	assert.Equal(t, int64(0), bob.TotalPoints)
}

func TestSaveEvent_WinnersRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEvent(ctx, ledger.Event{
		ID: "evt-quiz", Title: "Quiz", WinnersRollNos: []string{"A,B", `C"D`},
	}))
	ev, err := store.GetEvent(ctx, "evt-quiz")
	require.NoError(t, err)
	assert.Equal(t, []string{"A,B", `C"D`}, ev.WinnersRollNos)

	fest, err := store.GetEvent(ctx, "evt-fest")
	require.NoError(t, err)
	assert.Empty(t, fest.WinnersRollNos)
}

func TestEngine_DeclareWinnersReplacesList(t *testing.T) {
	// GIVEN: winners already stored
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetWinners(ctx, "evt-fest", []string{"CS001"}))

	// WHEN: too many winners are declared
	_, err := engine.DeclareWinners(ctx, "evt-fest", []string{"CS001", "CS002", "X1", "X2"})

	// THEN: the stored list is untouched
	assert.ErrorIs(t, err, ledger.ErrTooManyWinners)
	ev, err := store.GetEvent(ctx, "evt-fest")
	require.NoError(t, err)
	assert.Equal(t, []string{"CS001"}, ev.WinnersRollNos)

	// AND: a valid declaration replaces it and pays in the same tx
	credited, err := engine.DeclareWinners(ctx, "evt-fest", []string{"CS002", "CS001"})
	require.NoError(t, err)
	assert.Equal(t, []ledger.UserID{"u-alice", "u-bob"}, credited)
	ev, err = store.GetEvent(ctx, "evt-fest")
	require.NoError(t, err)
	assert.Equal(t, []string{"CS002", "CS001"}, ev.WinnersRollNos)
}

func TestEventWinnersRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWinners(ctx, "evt-fest", []string{"CS002", "CS001"}))
	ev, err := store.GetEvent(ctx, "evt-fest")
	require.NoError(t, err)
	assert.Equal(t, []string{"CS002", "CS001"}, ev.WinnersRollNos)

	assert.True(t, ledger.IsNotFound(store.SetWinners(ctx, "evt-none", nil)))

	missing, err := store.GetEvent(ctx, "evt-none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUsersByRollAndLeaderboard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	found, err := store.UsersByRoll(ctx, []string{"CS001", "ZZ999"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, ledger.UserID("u-alice"), found["CS001"].ID)

	require.NoError(t, store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.SetTotalPoints(ctx, "u-bob", 40)
	}))

	board, err := store.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, board, 2) // admin excluded
	assert.Equal(t, ledger.UserID("u-bob"), board[0].ID)
	assert.Equal(t, ledger.UserID("u-alice"), board[1].ID)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_ParticipationIdempotent(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ctx := context.Background()

	first, err := engine.AwardParticipation(ctx, "u-alice", "evt-fest", ledger.TriggerAttendance)
	require.NoError(t, err)
	second, err := engine.AwardParticipation(ctx, "u-alice", "evt-fest", ledger.TriggerAttendance)
	require.NoError(t, err)

	assert.Equal(t, int64(25), first)
	assert.Equal(t, first, second)
	entries, _ := store.Entries(ctx, "u-alice")
	assert.Len(t, entries, 1)
	parts, _ := store.Participations(ctx, "u-alice")
	assert.Len(t, parts, 1)
}

func TestEngine_RedeemFailureWritesNothing(t *testing.T) {
	// GIVEN: a user with 0 points, item costing 50
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ctx := context.Background()
	_, err := store.UpsertItem(ctx, ledger.ShopItem{ID: "item-mug", Name: "Mug", PointsCost: 50, Stock: 3, IsActive: true})
	require.NoError(t, err)

	// WHEN
	_, _, err = engine.Redeem(ctx, "u-alice", "item-mug")

	// THEN
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	item, _ := store.GetItem(ctx, "item-mug")
	assert.Equal(t, int64(3), item.Stock)
	reds, _ := store.Redemptions(ctx, "u-alice")
	assert.Empty(t, reds)
	u, _ := store.GetUser(ctx, "u-alice")
	assert.Equal(t, int64(0), u.TotalPoints)
}

func TestEngine_ConcurrentRedeemLastUnit(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ctx := context.Background()

	require.NoError(t, store.SetWinners(ctx, "evt-fest", []string{"CS001", "CS002"}))
	_, err := engine.AwardWinners(ctx, "evt-fest")
	require.NoError(t, err)
	_, err = store.UpsertItem(ctx, ledger.ShopItem{ID: "item-last", Name: "Hoodie", PointsCost: 60, Stock: 1, IsActive: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, user := range []ledger.UserID{"u-alice", "u-bob"} {
		wg.Add(1)
		go func(user ledger.UserID) {
			defer wg.Done()
			_, _, err := engine.Redeem(ctx, user, "item-last")
			errs <- err
		}(user)
	}
	wg.Wait()
	close(errs)

	var ok, outOfStock int
	for err := range errs {
		if err == nil {
			ok++
		} else if errors.Is(err, ledger.ErrOutOfStock) {
			outOfStock++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, outOfStock)

	item, _ := store.GetItem(ctx, "item-last")
	assert.Equal(t, int64(0), item.Stock)

	report, err := engine.Reconcile(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}

func TestEngine_ApproveSubmissionOnce(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ctx := context.Background()
	require.NoError(t, store.SaveSubmission(ctx, ledger.Submission{
		ID: "sub-1", UserID: "u-bob", Type: ledger.SubmissionCertificate,
		FileURL: "https://files.example/cert.pdf", UploadedAt: time.Now(),
	}))

	pending, err := store.PendingSubmissions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	total, err := engine.ApproveSubmission(ctx, "sub-1", "u-admin", 40)
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)

	_, err = engine.ApproveSubmission(ctx, "sub-1", "u-admin", 40)
	assert.ErrorIs(t, err, ledger.ErrInvalidState)

	entries, _ := store.Entries(ctx, "u-bob")
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.SourceCertificate, entries[0].Source)

	reviews, _ := store.Reviews(ctx, "sub-1")
	assert.Len(t, reviews, 1)
	pending, _ = store.PendingSubmissions(ctx)
	assert.Empty(t, pending)
}

func TestEngine_MarkAttendance(t *testing.T) {
	store := newTestStore(t)
	engine := newTestEngine(t, store)
	ctx := context.Background()

	result, err := engine.MarkAttendance(ctx, "evt-fest", []string{"CS001", "CS002", "NOPE"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MarkedCount)
	assert.Equal(t, []string{"NOPE"}, result.SkippedRollNumbers)

	result, err = engine.MarkAttendance(ctx, "evt-fest", []string{"CS001"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.MarkedCount)

	u, _ := store.GetUser(ctx, "u-alice")
	assert.Equal(t, int64(25), u.TotalPoints)
}
