package ledger

import (
	"fmt"
	"strings"
)

// Source categorizes a ledger entry for audit.
type Source string

const (
	SourceAttendance  Source = "ATTENDANCE"
	SourceWinner      Source = "WINNER"
	SourceCertificate Source = "CERTIFICATE"
	SourceCGPA        Source = "CGPA"
	SourcePaper       Source = "PAPER"
	SourceRedemption  Source = "REDEMPTION"
)

// Validate fails for anything outside the fixed set.
func (s Source) Validate() error {
	switch s {
	case SourceAttendance, SourceWinner, SourceCertificate, SourceCGPA, SourcePaper, SourceRedemption:
		return nil
	}
	return fmt.Errorf("%w: ledger source %q", ErrInvalidSource, string(s))
}

// Key is the lowercase form used inside idempotency keys.
func (s Source) Key() string { return strings.ToLower(string(s)) }

// ParticipationSource is how an engagement was verified.
type ParticipationSource string

const (
	ParticipationAttendance ParticipationSource = "ATTENDANCE"
	ParticipationSubmission ParticipationSource = "SUBMISSION"
)

// Trigger is the engagement that caused an award request.
type Trigger string

const (
	TriggerAttendance  Trigger = "attendance"
	TriggerCertificate Trigger = "certificate"
	TriggerCGPA        Trigger = "cgpa"
	TriggerPaper       Trigger = "paper"
)

// ParseTrigger accepts the trigger names case-insensitively.
func ParseTrigger(s string) (Trigger, error) {
	t := Trigger(strings.ToLower(strings.TrimSpace(s)))
	if _, err := t.LedgerSource(); err != nil {
		return "", err
	}
	return t, nil
}

// LedgerSource maps a trigger to its ledger category. There is no default:
// an unknown trigger is an error, never a silent ATTENDANCE.
func (t Trigger) LedgerSource() (Source, error) {
	switch t {
	case TriggerAttendance:
		return SourceAttendance, nil
	case TriggerCertificate:
		return SourceCertificate, nil
	case TriggerCGPA:
		return SourceCGPA, nil
	case TriggerPaper:
		return SourcePaper, nil
	}
	return "", fmt.Errorf("%w: trigger %q", ErrInvalidSource, string(t))
}

// ParticipationSource maps a trigger to how the engagement is recorded.
func (t Trigger) ParticipationSource() (ParticipationSource, error) {
	switch t {
	case TriggerAttendance:
		return ParticipationAttendance, nil
	case TriggerCertificate, TriggerCGPA, TriggerPaper:
		return ParticipationSubmission, nil
	}
	return "", fmt.Errorf("%w: trigger %q", ErrInvalidSource, string(t))
}

// TriggerFor returns the trigger matching a submission type.
func TriggerFor(st SubmissionType) (Trigger, error) {
	switch st {
	case SubmissionCertificate:
		return TriggerCertificate, nil
	case SubmissionCGPA:
		return TriggerCGPA, nil
	case SubmissionPaper:
		return TriggerPaper, nil
	}
	return "", fmt.Errorf("%w: submission type %q", ErrInvalidSource, string(st))
}
