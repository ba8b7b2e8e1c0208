// Package school holds the roster and ledger entities shared by the
// attendance, absence and report components.
package school

import (
	"errors"
	"strings"
	"time"

	"educheck/internal/calendar"
)

// ErrNotFound is returned when a document id does not resolve to a student.
var ErrNotFound = errors.New("student not found")

// Grade groups students. Number is the grade's sequence number (e.g. 6 for sixth grade).
type Grade struct {
	ID     int64
	Number int
}

// Student is owned by the roster; the core only reads it.
type Student struct {
	ID       int64
	Number   int // position in the grade list
	Surnames string
	Names    string
	DocType  string
	Document string
	Email    string

	// GuardianHandle is the notifier recipient (e.g. a Telegram chat id).
	// Empty means the guardian cannot be notified.
	GuardianHandle string

	GradeID     int64
	GradeNumber int
}

// FullName is surnames followed by names, skipping empty parts.
func (s Student) FullName() string {
	parts := make([]string, 0, 2)
	for _, p := range []string{s.Surnames, s.Names} {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func (s Student) Notifiable() bool { return strings.TrimSpace(s.GuardianHandle) != "" }

// AttendanceRecord is one check-in per (student, day).
type AttendanceRecord struct {
	StudentID int64
	Day       calendar.Date
	CheckedIn string // institutional wall-clock "15:04:05"
}

// Outcome is the result of a notification attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"

	// OutcomePending marks a claimed slot whose send has not finished.
	// A row left pending still blocks any further notification that day.
	OutcomePending Outcome = "pending"
)

// NotificationKind says which flow claimed the daily slot.
type NotificationKind string

const (
	KindEntry   NotificationKind = "entry"
	KindAbsence NotificationKind = "absence"
)

// NotificationRecord is one notification per (student, day), whatever its kind.
type NotificationRecord struct {
	StudentID int64
	Day       calendar.Date
	Kind      NotificationKind
	Outcome   Outcome
	Detail    string
	At        time.Time
}
