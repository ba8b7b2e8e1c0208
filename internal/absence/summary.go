package absence

import (
	"context"
	"fmt"

	"educheck/internal/calendar"
	"educheck/internal/school"
)

const (
	// DefaultLookbackDays is the window used when the caller passes days <= 0.
	DefaultLookbackDays = 30
	// MaxLookbackDays bounds the window; larger requests are clamped.
	MaxLookbackDays = 366
)

// AttendanceReader reads one student's attendance rows.
type AttendanceReader interface {
	StudentAttendanceBetween(ctx context.Context, studentID int64, from, to calendar.Date) ([]school.AttendanceRecord, error)
}

// Summary is a student's absence count over a rolling window.
type Summary struct {
	From     calendar.Date `json:"from"`
	To       calendar.Date `json:"to"`
	Expected int           `json:"expected"`
	Present  int           `json:"present"`
	Absences int           `json:"absences"`
	Rate     float64       `json:"rate"`
}

// Summarize counts absences for st over the days ending at asOf (inclusive).
// Only attendance on school days counts as present. days is clamped to
// [1, MaxLookbackDays]; zero or negative selects DefaultLookbackDays.
func Summarize(ctx context.Context, r AttendanceReader, cal calendar.Calendar, st school.Student, asOf calendar.Date, days int) (Summary, error) {
	if days <= 0 {
		days = DefaultLookbackDays
	}
	days = min(days, MaxLookbackDays)
	from := asOf.AddDays(-(days - 1))
	sum := Summary{From: from, To: asOf, Expected: cal.CountSchoolDays(from, asOf)}

	rows, err := r.StudentAttendanceBetween(ctx, st.ID, from, asOf)
	if err != nil {
		return Summary{}, fmt.Errorf("read attendance: %w", err)
	}
	for _, rec := range rows {
		if cal.IsSchoolDay(rec.Day) {
			sum.Present++
		}
	}
	sum.Absences = max(0, sum.Expected-sum.Present)
	if sum.Expected > 0 {
		sum.Rate = float64(sum.Absences) / float64(sum.Expected)
	}
	return sum, nil
}
