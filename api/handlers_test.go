package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/ledger/memstore"
	"github.com/campusengage/points-engine/points"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testServer struct {
	store  *memstore.Memory
	engine *points.Engine
	router http.Handler
}

func newTestServer(t *testing.T, opts ...HandlerOption) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	for _, u := range []ledger.User{
		{ID: "u-alice", RollNo: "CS001", Name: "Alice", Role: ledger.RoleStudent},
		{ID: "u-bob", RollNo: "CS002", Name: "Bob", Role: ledger.RoleStudent},
		{ID: "u-admin", RollNo: "ADM01", Name: "Admin", Role: ledger.RoleAdmin},
	} {
		require.NoError(t, store.SaveUser(ctx, u))
	}
	require.NoError(t, store.SaveEvent(ctx, ledger.Event{
		ID: "evt-1", Title: "Code Sprint", Type: ledger.EventExtracurricular,
		PointsPerParticipant: 30, WinnerPoints: 100,
	}))
	_, err := store.UpsertItem(ctx, ledger.ShopItem{
		ID: "item-mug", Name: "Mug", PointsCost: 50, Stock: 1, IsActive: true,
	})
	require.NoError(t, err)
	_, err = store.UpsertItem(ctx, ledger.ShopItem{
		ID: "item-old", Name: "Retired Pin", PointsCost: 5, Stock: 10, IsActive: false,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveSubmission(ctx, ledger.Submission{
		ID: "sub-1", UserID: "u-bob", Type: ledger.SubmissionPaper, UploadedAt: time.Now(),
	}))

	engine := points.NewEngine(store, points.WithLogger(quietLogger()))
	opts = append([]HandlerOption{WithLogger(quietLogger())}, opts...)
	return &testServer{
		store:  store,
		engine: engine,
		router: NewRouter(NewHandler(engine, opts...)),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// EVENTS
// =============================================================================

func TestAwardParticipation_Idempotent(t *testing.T) {
	ts := newTestServer(t)
	body := AwardParticipationRequest{UserID: "u-alice", Source: "Attendance"}

	first := ts.do(t, http.MethodPost, "/api/events/evt-1/participations", body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := ts.do(t, http.MethodPost, "/api/events/evt-1/participations", body)
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, int64(30), decode[BalanceResponse](t, first).TotalPoints)
	assert.Equal(t, int64(30), decode[BalanceResponse](t, second).TotalPoints)
}

func TestAwardParticipation_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown source", "/api/events/evt-1/participations", AwardParticipationRequest{UserID: "u-alice", Source: "hackathon"}, http.StatusBadRequest},
		{"missing user id", "/api/events/evt-1/participations", AwardParticipationRequest{Source: "attendance"}, http.StatusBadRequest},
		{"unknown event", "/api/events/evt-x/participations", AwardParticipationRequest{UserID: "u-alice", Source: "attendance"}, http.StatusNotFound},
		{"unknown user", "/api/events/evt-1/participations", AwardParticipationRequest{UserID: "u-nobody", Source: "cgpa"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAwardParticipation_ValidationDetailsUseJSONNames(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/events/evt-1/participations", map[string]string{"source": "paper"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	details, ok := resp.Details.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "user_id")
}

func TestMarkAttendance(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/events/evt-1/attendance",
		MarkAttendanceRequest{RollNumbers: []string{"CS001", "CS001", "ZZ404"}})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AttendanceResponse](t, rec)
	assert.Equal(t, 1, resp.MarkedCount)
	assert.Equal(t, []string{"u-alice"}, resp.Marked)
	assert.Equal(t, []string{"ZZ404"}, resp.SkippedRollNumbers)

	empty := ts.do(t, http.MethodPost, "/api/events/evt-1/attendance", MarkAttendanceRequest{})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestAwardWinners(t *testing.T) {
	// GIVEN: winners posted with the request
	ts := newTestServer(t)

	// WHEN: awarding twice
	rec := ts.do(t, http.MethodPost, "/api/events/evt-1/winners",
		AwardWinnersRequest{WinnersRollNos: []string{"CS002", "CS001"}})
	again := ts.do(t, http.MethodPost, "/api/events/evt-1/winners", nil)

	// THEN: both are paid once, the repeat credits nobody
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"u-alice", "u-bob"}, decode[WinnersResponse](t, rec).Credited)
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	assert.Empty(t, decode[WinnersResponse](t, again).Credited)
}

func TestAwardWinners_TooMany(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/events/evt-1/winners",
		AwardWinnersRequest{WinnersRollNos: []string{"A", "B", "C", "D"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAwardWinners_RollWithCommaRejected(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/events/evt-1/winners",
		AwardWinnersRequest{WinnersRollNos: []string{"CS001,CS002"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ev, err := ts.store.GetEvent(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Empty(t, ev.WinnersRollNos)
}

func TestAwardWinners_MissingEventLeavesNothing(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/events/evt-none/winners",
		AwardWinnersRequest{WinnersRollNos: []string{"CS001"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

func TestApproveSubmission(t *testing.T) {
	ts := newTestServer(t)

	pending := ts.do(t, http.MethodGet, "/api/submissions/pending", nil)
	require.Equal(t, http.StatusOK, pending.Code)
	assert.Len(t, decode[[]SubmissionDTO](t, pending), 1)

	rec := ts.do(t, http.MethodPost, "/api/submissions/sub-1/approve",
		ApproveSubmissionRequest{ReviewerID: "u-admin", Points: 45})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BalanceResponse](t, rec)
	assert.Equal(t, "u-bob", resp.UserID)
	assert.Equal(t, int64(45), resp.TotalPoints)

	again := ts.do(t, http.MethodPost, "/api/submissions/sub-1/approve",
		ApproveSubmissionRequest{ReviewerID: "u-admin", Points: 45})
	assert.Equal(t, http.StatusConflict, again.Code)

	reject := ts.do(t, http.MethodPost, "/api/submissions/sub-1/reject",
		RejectSubmissionRequest{ReviewerID: "u-admin", Remarks: "late"})
	assert.Equal(t, http.StatusConflict, reject.Code)
}

func TestApproveSubmission_NonPositivePoints(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/submissions/sub-1/approve",
		ApproveSubmissionRequest{ReviewerID: "u-admin", Points: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub, err := ts.store.GetSubmission(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, sub.Status)
}

// =============================================================================
// SHOP
// =============================================================================

func TestListShopItems_ActiveOnly(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/shop/items", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]ShopItemDTO](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, "Mug", items[0].Name)
}

func TestRedeem_Flow(t *testing.T) {
	ts := newTestServer(t)

	// zero balance
	poor := ts.do(t, http.MethodPost, "/api/shop/items/item-mug/redeem", RedeemRequest{UserID: "u-alice"})
	require.Equal(t, http.StatusBadRequest, poor.Code)
	assert.Contains(t, decode[ErrorResponse](t, poor).Error, "you have 0 pts but this item costs 50 pts")

	// earn 100, redeem the last mug
	ts.do(t, http.MethodPost, "/api/events/evt-1/winners", AwardWinnersRequest{WinnersRollNos: []string{"CS001"}})
	ok := ts.do(t, http.MethodPost, "/api/shop/items/item-mug/redeem", RedeemRequest{UserID: "u-alice"})
	require.Equal(t, http.StatusCreated, ok.Code, ok.Body.String())
	resp := decode[RedeemResponse](t, ok)
	assert.Regexp(t, `^SHOP-[0-9A-F]{12}$`, resp.Redemption.Code)
	assert.Equal(t, int64(50), resp.TotalPoints)

	// out of stock
	gone := ts.do(t, http.MethodPost, "/api/shop/items/item-mug/redeem", RedeemRequest{UserID: "u-alice"})
	assert.Equal(t, http.StatusBadRequest, gone.Code)

	// inactive item is not found
	inactive := ts.do(t, http.MethodPost, "/api/shop/items/item-old/redeem", RedeemRequest{UserID: "u-alice"})
	assert.Equal(t, http.StatusNotFound, inactive.Code)

	history := ts.do(t, http.MethodGet, "/api/users/u-alice/redemptions", nil)
	require.Equal(t, http.StatusOK, history.Code)
	reds := decode[[]RedemptionDTO](t, history)
	require.Len(t, reds, 1)
	assert.Equal(t, resp.Redemption.Code, reds[0].Code)
}

func TestRedeem_CodeCollisionIsRetryable(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	require.NoError(t, store.SaveUser(ctx, ledger.User{ID: "u-1", RollNo: "R1", Role: ledger.RoleStudent}))
	require.NoError(t, store.SaveEvent(ctx, ledger.Event{ID: "e", Title: "E", WinnerPoints: 10, WinnersRollNos: []string{"R1"}}))
	_, err := store.UpsertItem(ctx, ledger.ShopItem{ID: "i", Name: "Pen", PointsCost: 1, Stock: 5, IsActive: true})
	require.NoError(t, err)

	engine := points.NewEngine(store,
		points.WithLogger(quietLogger()),
		points.WithCodeGenerator(points.CodeGeneratorFunc(func() string { return "SHOP-AAAAAAAAAAAA" })),
	)
	_, err = engine.AwardWinners(ctx, "e")
	require.NoError(t, err)
	router := NewRouter(NewHandler(engine, WithLogger(quietLogger())))

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/shop/items/i/redeem",
			bytes.NewBufferString(`{"user_id":"u-1"}`)))
		return rec
	}
	require.Equal(t, http.StatusCreated, send().Code)

	rec := send()
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, decode[ErrorResponse](t, rec).Retryable)
}

// =============================================================================
// USERS, LEADERBOARD, ADMIN
// =============================================================================

func TestGetUserPoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/events/evt-1/participations", AwardParticipationRequest{UserID: "u-bob", Source: "attendance"})
	ts.do(t, http.MethodPost, "/api/events/evt-1/winners", AwardWinnersRequest{WinnersRollNos: []string{"CS002"}})

	rec := ts.do(t, http.MethodGet, "/api/users/u-bob/points", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[UserPointsResponse](t, rec)
	assert.Equal(t, int64(130), resp.TotalPoints)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "WINNER", resp.Entries[0].Source) // newest first

	missing := ts.do(t, http.MethodGet, "/api/users/u-ghost/points", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestLeaderboard_FromStore(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/events/evt-1/winners", AwardWinnersRequest{WinnersRollNos: []string{"CS002"}})

	rec := ts.do(t, http.MethodGet, "/api/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[[]LeaderboardEntryDTO](t, rec)
	require.Len(t, board, 2)
	assert.Equal(t, "CS002", board[0].RollNo)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "CS001", board[1].RollNo)

	bad := ts.do(t, http.MethodGet, "/api/leaderboard?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

type fakeRanker struct {
	users []ledger.User
	err   error
}

func (f fakeRanker) Top(context.Context, int) ([]ledger.User, error) { return f.users, f.err }

func TestLeaderboard_RankerAndFallback(t *testing.T) {
	cached := newTestServer(t, WithRanker(fakeRanker{users: []ledger.User{{ID: "u-x", RollNo: "X1", TotalPoints: 999}}}))
	rec := cached.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[[]LeaderboardEntryDTO](t, rec)
	require.Len(t, board, 1)
	assert.Equal(t, int64(999), board[0].TotalPoints)

	down := newTestServer(t, WithRanker(fakeRanker{err: errors.New("redis down")}))
	rec = down.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]LeaderboardEntryDTO](t, rec), 2)
}

func TestReconcile_DetectAndRepair(t *testing.T) {
	// GIVEN: a cached total that disagrees with the ledger
	ts := newTestServer(t)
	ctx := context.Background()
	ts.do(t, http.MethodPost, "/api/events/evt-1/participations", AwardParticipationRequest{UserID: "u-alice", Source: "attendance"})
	require.NoError(t, ts.store.WithTx(ctx, func(tx ledger.Tx) error {
		return tx.SetTotalPoints(ctx, "u-alice", 7)
	}))

	// WHEN: reconcile without repair, then with
	check := ts.do(t, http.MethodPost, "/api/admin/reconcile", nil)
	repair := ts.do(t, http.MethodPost, "/api/admin/reconcile?repair=true", nil)
	after := ts.do(t, http.MethodPost, "/api/admin/reconcile", nil)

	// THEN
	require.Equal(t, http.StatusOK, check.Code)
	report := decode[ReconcileResponse](t, check)
	assert.Equal(t, 3, report.Checked)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, DriftDTO{UserID: "u-alice", Cached: 7, Ledger: 30}, report.Drifts[0])

	assert.True(t, decode[ReconcileResponse](t, repair).Repaired)
	assert.Empty(t, decode[ReconcileResponse](t, after).Drifts)

	bad := ts.do(t, http.MethodPost, "/api/admin/reconcile?repair=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ledger.NotFound("user", "u"), http.StatusNotFound},
		{&ledger.InvalidStateError{Kind: "submission", ID: "s", Status: "approved", Want: "pending"}, http.StatusConflict},
		{ledger.ErrCodeConflict, http.StatusConflict},
		{fmt.Errorf("commit: %w", ledger.ErrConflict), http.StatusConflict},
		{ledger.ErrOutOfStock, http.StatusBadRequest},
		{&ledger.InsufficientBalanceError{Available: 1, Cost: 2}, http.StatusBadRequest},
		{ledger.ErrInvalidSource, http.StatusBadRequest},
		{ledger.ErrInvalidPoints, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
