/*
dto.go - Request and response bodies for the HTTP API

NAMING CONVENTION:
  - *DTO:      Resource shapes returned to clients
  - *Request:  Request bodies, checked with validator struct tags
  - *Response: Operation results

VALIDATION:
  Shape checks (required fields, max winners) live in the validate tags.
  Domain checks (unknown source, non-positive points) stay in the engine
  so every caller gets them.

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: ErrorResponse and status mapping
*/
package api

import (
	"time"

	"github.com/campusengage/points-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

type MarkAttendanceRequest struct {
	RollNumbers []string `json:"roll_numbers" validate:"required,min=1,dive,required"`
}

type AwardParticipationRequest struct {
	UserID string `json:"user_id" validate:"required"`
	// Source is the trigger: attendance, certificate, cgpa or paper.
	Source string `json:"source" validate:"required"`
}

// AwardWinnersRequest optionally replaces the event's winners before paying.
type AwardWinnersRequest struct {
	WinnersRollNos []string `json:"winners_roll_nos" validate:"omitempty,max=3,dive,required,excludes=0x2C"`
}

type ApproveSubmissionRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required"`
	Points     int64  `json:"points"`
}

type RejectSubmissionRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required"`
	Remarks    string `json:"remarks"`
}

type RedeemRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// =============================================================================
// RESOURCES
// =============================================================================

type LedgerEntryDTO struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id,omitempty"`
	Type      string `json:"entry_type"`
	Points    int64  `json:"points"`
	Source    string `json:"source"`
	Reason    string `json:"reason"`
	CreatedAt string `json:"created_at"`
}

type ShopItemDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	PointsCost  int64  `json:"points_cost"`
	Stock       int64  `json:"stock"`
}

type RedemptionDTO struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	ItemID      string `json:"item_id"`
	Code        string `json:"code"`
	PointsSpent int64  `json:"points_spent"`
	CreatedAt   string `json:"created_at"`
}

type SubmissionDTO struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	EventID    string `json:"event_id,omitempty"`
	Type       string `json:"submission_type"`
	FileURL    string `json:"file_url"`
	Status     string `json:"status"`
	UploadedAt string `json:"uploaded_at"`
}

type LeaderboardEntryDTO struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	RollNo      string `json:"roll_no"`
	Name        string `json:"name"`
	TotalPoints int64  `json:"total_points"`
}

type DriftDTO struct {
	UserID string `json:"user_id"`
	Cached int64  `json:"cached"`
	Ledger int64  `json:"ledger"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BalanceResponse struct {
	UserID      string `json:"user_id"`
	TotalPoints int64  `json:"total_points"`
}

type AttendanceResponse struct {
	EventID            string   `json:"event_id"`
	MarkedCount        int      `json:"marked_count"`
	Marked             []string `json:"marked"`
	SkippedRollNumbers []string `json:"skipped_roll_numbers"`
}

type WinnersResponse struct {
	EventID  string   `json:"event_id"`
	Credited []string `json:"credited"`
}

type RedeemResponse struct {
	Redemption  RedemptionDTO `json:"redemption"`
	TotalPoints int64         `json:"total_points"`
}

type UserPointsResponse struct {
	UserID      string           `json:"user_id"`
	RollNo      string           `json:"roll_no"`
	Name        string           `json:"name"`
	TotalPoints int64            `json:"total_points"`
	Entries     []LedgerEntryDTO `json:"entries"`
}

type ReconcileResponse struct {
	Checked    int        `json:"checked"`
	Drifts     []DriftDTO `json:"drifts"`
	Repaired   bool       `json:"repaired"`
	StartedAt  string     `json:"started_at"`
	FinishedAt string     `json:"finished_at"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toEntryDTO(e ledger.Entry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:        string(e.ID),
		EventID:   string(e.EventID),
		Type:      string(e.Type),
		Points:    e.Points,
		Source:    string(e.Source),
		Reason:    e.Reason,
		CreatedAt: formatTime(e.CreatedAt),
	}
}

func toItemDTO(it ledger.ShopItem) ShopItemDTO {
	return ShopItemDTO{
		ID:          string(it.ID),
		Name:        it.Name,
		Description: it.Description,
		Category:    it.Category,
		PointsCost:  it.PointsCost,
		Stock:       it.Stock,
	}
}

func toRedemptionDTO(r ledger.Redemption) RedemptionDTO {
	return RedemptionDTO{
		ID:          string(r.ID),
		UserID:      string(r.UserID),
		ItemID:      string(r.ItemID),
		Code:        r.Code,
		PointsSpent: r.PointsSpent,
		CreatedAt:   formatTime(r.CreatedAt),
	}
}

func toSubmissionDTO(s ledger.Submission) SubmissionDTO {
	return SubmissionDTO{
		ID:         string(s.ID),
		UserID:     string(s.UserID),
		EventID:    string(s.EventID),
		Type:       string(s.Type),
		FileURL:    s.FileURL,
		Status:     string(s.Status),
		UploadedAt: formatTime(s.UploadedAt),
	}
}

func userIDs(ids []ledger.UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
