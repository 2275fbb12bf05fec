/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the award and redemption engine via REST. Handles request
  decoding, validation and response shaping, and delegates every
  mutation to points.Engine.

ENDPOINTS:
  Events:
    POST   /api/events/{id}/attendance       Mark attendance by roll number
    POST   /api/events/{id}/participations   Award participation points
    POST   /api/events/{id}/winners          Set winners (optional) and award

  Submissions:
    GET    /api/submissions/pending          Pending review queue
    POST   /api/submissions/{id}/approve     Approve and credit points
    POST   /api/submissions/{id}/reject      Reject, no points

  Shop:
    GET    /api/shop/items                   Active items
    POST   /api/shop/items/{id}/redeem       Spend points on an item

  Users:
    GET    /api/users/{id}/points            Balance and ledger history
    GET    /api/users/{id}/redemptions       Redemption history

  Other:
    GET    /api/leaderboard?limit=N          Top students
    POST   /api/admin/reconcile?repair=bool  Recompute cached totals
    GET    /api/health                       Liveness

REQUEST FLOW:
  1. Parse path params and body
  2. Validate the body (validator tags)
  3. Call the engine
  4. Map errors with statusFor (errors.go)

SECURITY NOTE:
  No authentication. Actor ids (user_id, reviewer_id) come from the body.

SEE ALSO:
  - dto.go: Request/response types
  - errors.go: Error mapping
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/campusengage/points-engine/ledger"
	"github.com/campusengage/points-engine/points"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// Ranker serves the leaderboard from a cache. leaderboard.Board
// implements it.
type Ranker interface {
	Top(ctx context.Context, n int) ([]ledger.User, error)
}

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine   *points.Engine
	store    ledger.Store
	ranker   Ranker
	log      logrus.FieldLogger
	validate *validator.Validate
}

type HandlerOption func(*Handler)

// WithRanker serves GET /leaderboard from r, falling back to the store
// when r fails.
func WithRanker(r Ranker) HandlerOption {
	return func(h *Handler) { h.ranker = r }
}

func WithLogger(l logrus.FieldLogger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

func NewHandler(engine *points.Engine, opts ...HandlerOption) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	h := &Handler{
		engine:   engine,
		store:    engine.Store(),
		log:      logrus.StandardLogger(),
		validate: v,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

func (h *Handler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	eventID := ledger.EventID(chi.URLParam(r, "id"))

	var req MarkAttendanceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.engine.MarkAttendance(r.Context(), eventID, req.RollNumbers)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	resp := AttendanceResponse{
		EventID:            string(eventID),
		MarkedCount:        result.MarkedCount,
		Marked:             userIDs(result.Marked),
		SkippedRollNumbers: result.SkippedRollNumbers,
	}
	if resp.SkippedRollNumbers == nil {
		resp.SkippedRollNumbers = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AwardParticipation(w http.ResponseWriter, r *http.Request) {
	eventID := ledger.EventID(chi.URLParam(r, "id"))

	var req AwardParticipationRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	trigger, err := ledger.ParseTrigger(req.Source)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	total, err := h.engine.AwardParticipation(r.Context(), ledger.UserID(req.UserID), eventID, trigger)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: req.UserID, TotalPoints: total})
}

// AwardWinners accepts an empty body, in which case the winners already
// stored on the event are paid. A posted list replaces the stored one in
// the same transaction as the award.
func (h *Handler) AwardWinners(w http.ResponseWriter, r *http.Request) {
	eventID := ledger.EventID(chi.URLParam(r, "id"))

	var req AwardWinnersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !h.validateBody(w, &req) {
		return
	}

	var (
		credited []ledger.UserID
		err      error
	)
	if len(req.WinnersRollNos) > 0 {
		credited, err = h.engine.DeclareWinners(r.Context(), eventID, req.WinnersRollNos)
	} else {
		credited, err = h.engine.AwardWinners(r.Context(), eventID)
	}
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WinnersResponse{EventID: string(eventID), Credited: userIDs(credited)})
}

// =============================================================================
// SUBMISSION HANDLERS
// =============================================================================

func (h *Handler) ListPendingSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.store.PendingSubmissions(r.Context())
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]SubmissionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubmissionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ApproveSubmission(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubmissionID(chi.URLParam(r, "id"))

	var req ApproveSubmissionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	total, err := h.engine.ApproveSubmission(r.Context(), id, ledger.UserID(req.ReviewerID), req.Points)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	resp := BalanceResponse{TotalPoints: total}
	sub, err := h.store.GetSubmission(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if sub != nil {
		resp.UserID = string(sub.UserID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) RejectSubmission(w http.ResponseWriter, r *http.Request) {
	id := ledger.SubmissionID(chi.URLParam(r, "id"))

	var req RejectSubmissionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.engine.RejectSubmission(r.Context(), id, ledger.UserID(req.ReviewerID), req.Remarks); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "status": string(ledger.StatusRejected)})
}

// =============================================================================
// SHOP HANDLERS
// =============================================================================

func (h *Handler) ListShopItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListItems(r.Context(), true)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]ShopItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toItemDTO(it)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	itemID := ledger.ItemID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	red, total, err := h.engine.Redeem(r.Context(), ledger.UserID(req.UserID), itemID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RedeemResponse{Redemption: toRedemptionDTO(*red), TotalPoints: total})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) GetUserPoints(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if user == nil {
		h.writeEngineError(w, r, ledger.NotFound("user", string(id)))
		return
	}

	entries, err := h.store.Entries(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}

	writeJSON(w, http.StatusOK, UserPointsResponse{
		UserID:      string(user.ID),
		RollNo:      user.RollNo,
		Name:        user.Name,
		TotalPoints: user.TotalPoints,
		Entries:     dtos,
	})
}

func (h *Handler) ListUserRedemptions(w http.ResponseWriter, r *http.Request) {
	id := ledger.UserID(chi.URLParam(r, "id"))

	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	if user == nil {
		h.writeEngineError(w, r, ledger.NotFound("user", string(id)))
		return
	}

	reds, err := h.store.Redemptions(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	dtos := make([]RedemptionDTO, len(reds))
	for i, rd := range reds {
		dtos[i] = toRedemptionDTO(rd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEADERBOARD AND ADMIN
// =============================================================================

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	users, err := h.topUsers(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	dtos := make([]LeaderboardEntryDTO, len(users))
	for i, u := range users {
		dtos[i] = LeaderboardEntryDTO{
			Rank:        i + 1,
			UserID:      string(u.ID),
			RollNo:      u.RollNo,
			Name:        u.Name,
			TotalPoints: u.TotalPoints,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) topUsers(ctx context.Context, limit int) ([]ledger.User, error) {
	if h.ranker != nil {
		users, err := h.ranker.Top(ctx, limit)
		if err == nil {
			return users, nil
		}
		h.log.WithError(err).Warn("leaderboard cache unavailable, reading store")
	}
	return h.store.Leaderboard(ctx, limit)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	repair := false
	if raw := r.URL.Query().Get("repair"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "repair must be a boolean", err)
			return
		}
		repair = b
	}

	report, err := h.engine.Reconcile(r.Context(), repair)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconcileResponse(report))
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toReconcileResponse(report *ledger.ReconcileReport) ReconcileResponse {
	drifts := make([]DriftDTO, len(report.Drifts))
	for i, d := range report.Drifts {
		drifts[i] = DriftDTO{UserID: string(d.UserID), Cached: d.Cached, Ledger: d.Ledger}
	}
	return ReconcileResponse{
		Checked:    report.Checked,
		Drifts:     drifts,
		Repaired:   report.Repaired,
		StartedAt:  formatTime(report.StartedAt),
		FinishedAt: formatTime(report.FinishedAt),
	}
}
