/*
types.go - Core domain types for the points ledger

PURPOSE:
  Defines the records the engine reads and writes. Only the ledger,
  participation and redemption records are owned by the engine: users,
  events, items and submissions are catalog data created elsewhere and
  mutated here only through their counters and status fields.

KEY TYPES:
  Entry:         Immutable credit or debit of points for one user
  Participation: Marks that an engagement has already been counted
  Redemption:    Points spent on a shop item, with a collection code
  User:          Account holding the cached total_points
  Event:         Point values for attendance and winners
  ShopItem:      Catalog item with a stock counter
  Submission:    Certificate/CGPA/paper upload awaiting review

SIGN CONVENTION:
  Entry.Points is signed. CREDIT entries are positive, DEBIT entries are
  negative, so a plain SUM over a user's entries is the net balance.
  Every read-side aggregation relies on this.

SEE ALSO:
  - source.go: Source enums and trigger mapping
  - store.go: Persistence interfaces
  - balance.go: Recompute and Reconcile
*/
package ledger

import (
	"fmt"
	"time"
)

type (
	UserID       string
	EventID      string
	ItemID       string
	SubmissionID string
	EntryID      string
	RedemptionID string
)

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// Entry is one immutable ledger row. EventID is empty for standalone
// entries (approved submissions, shop redemptions).
type Entry struct {
	ID             EntryID
	UserID         UserID
	EventID        EventID
	Type           EntryType
	Points         int64
	Source         Source
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Validate checks the sign convention and required fields.
func (e Entry) Validate() error {
	if e.ID == "" || e.UserID == "" || e.IdempotencyKey == "" {
		return fmt.Errorf("ledger entry missing id, user or idempotency key")
	}
	if err := e.Source.Validate(); err != nil {
		return err
	}
	switch e.Type {
	case EntryCredit:
		if e.Points < 0 {
			return fmt.Errorf("%w: credit of %d", ErrInvalidPoints, e.Points)
		}
	case EntryDebit:
		if e.Points >= 0 {
			return fmt.Errorf("%w: debit must be negative, got %d", ErrInvalidPoints, e.Points)
		}
	default:
		return fmt.Errorf("unknown entry type %q", e.Type)
	}
	return nil
}

// Scope identifies what an entry or participation is attached to.
// It is part of the idempotency key so each (user, source, scope) is
// credited at most once.
type Scope string

func EventScope(id EventID) Scope { return Scope("event/" + string(id)) }

func SubmissionScope(id SubmissionID) Scope { return Scope("submission/" + string(id)) }

func RedemptionScope(id RedemptionID) Scope { return Scope("redemption/" + string(id)) }

// EntryKey builds the ledger idempotency key, e.g.
// "attendance:u-1:event/evt-9".
func EntryKey(src Source, user UserID, s Scope) string {
	return fmt.Sprintf("%s:%s:%s", src.Key(), user, s)
}

// =============================================================================
// PARTICIPATION
// =============================================================================

type Participation struct {
	UserID    UserID
	EventID   EventID
	Source    ParticipationSource
	Scope     Scope
	Verified  bool
	CreatedAt time.Time
}

// =============================================================================
// USERS AND EVENTS
// =============================================================================

type Role string

const (
	RoleStudent   Role = "student"
	RoleAdmin     Role = "admin"
	RoleOrganizer Role = "organizer"
)

type User struct {
	ID          UserID
	RollNo      string
	Name        string
	Email       string
	Role        Role
	TotalPoints int64
	CreatedAt   time.Time
}

type EventType string

const (
	EventAcademic        EventType = "academic"
	EventCocurricular    EventType = "cocurricular"
	EventExtracurricular EventType = "extracurricular"
)

// MaxWinners is the number of winner positions an event can declare.
const MaxWinners = 3

type Event struct {
	ID                   EventID
	Title                string
	Type                 EventType
	OrganizedBy          string
	Date                 time.Time
	Location             string
	PointsPerParticipant int64
	WinnerPoints         int64
	WinnersRollNos       []string
	CreatedAt            time.Time
}

// =============================================================================
// SHOP
// =============================================================================

type ShopItem struct {
	ID          ItemID
	Name        string
	Description string
	Category    string
	PointsCost  int64
	Stock       int64
	IsActive    bool
	CreatedAt   time.Time
}

type Redemption struct {
	ID          RedemptionID
	UserID      UserID
	ItemID      ItemID
	Code        string
	PointsSpent int64
	CreatedAt   time.Time
}

// =============================================================================
// SUBMISSIONS AND REVIEWS
// =============================================================================

type SubmissionType string

const (
	SubmissionCertificate SubmissionType = "certificate"
	SubmissionCGPA        SubmissionType = "cgpa"
	SubmissionPaper       SubmissionType = "paper"
)

type SubmissionStatus string

const (
	StatusPending  SubmissionStatus = "pending"
	StatusApproved SubmissionStatus = "approved"
	StatusRejected SubmissionStatus = "rejected"
)

type Submission struct {
	ID         SubmissionID
	UserID     UserID
	EventID    EventID
	Type       SubmissionType
	FileURL    string
	Status     SubmissionStatus
	UploadedAt time.Time
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

type Review struct {
	ID           string
	SubmissionID SubmissionID
	ReviewerID   UserID
	Decision     Decision
	Remarks      string
	ReviewedAt   time.Time
}

// Attendance is one marked presence. Confidence is set by the
// face-recognition pipeline and nil for manual marks.
type Attendance struct {
	ID         string
	UserID     UserID
	EventID    EventID
	Confidence *float64
	MarkedAt   time.Time
}
