// Package report builds the monthly absence report.
//
// Expected attendance for a month is the number of distinct dates on which
// anyone checked in, not the static class-day calendar, so days the school
// was closed do not count against students.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"educheck/internal/calendar"
	"educheck/internal/eventbus"
	"educheck/internal/metrics"
	"educheck/internal/school"
	logx "educheck/pkg/logx"

	"github.com/google/uuid"
)

// ErrNothingToReport means nobody was absent in the month; no artifact is written.
var ErrNothingToReport = errors.New("nothing to report")

// Reader is the roster and attendance access the aggregator needs.
type Reader interface {
	ListStudents(ctx context.Context) ([]school.Student, error)
	AttendanceBetween(ctx context.Context, from, to calendar.Date) ([]school.AttendanceRecord, error)
}

// Sink stores rendered reports by "YYYY-MM" key.
type Sink interface {
	Write(key string, body []byte) (Artifact, error)
}

type Entry struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Absences int    `json:"absences"`
	Expected int    `json:"expected"`
}

type GradeSection struct {
	Number   int     `json:"grade"`
	Students []Entry `json:"students"`
}

// Report is the computed content for one month.
type Report struct {
	Month       calendar.Date  `json:"month"` // first day of the month
	ClassDays   int            `json:"class_days"`
	Grades      []GradeSection `json:"grades"`
	GeneratedAt time.Time      `json:"generated_at"`
}

func (r Report) Key() string { return r.Month.MonthKey() }

// Absent is the number of students listed across all grades.
func (r Report) Absent() int {
	n := 0
	for _, g := range r.Grades {
		n += len(g.Students)
	}
	return n
}

// GeneratedEvent is published after a run, with Artifact empty when nothing was written.
type GeneratedEvent struct {
	RunID    string   `json:"run_id"`
	Key      string   `json:"key"`
	Absent   int      `json:"absent"`
	Artifact Artifact `json:"artifact"`
}

type Aggregator struct {
	reader  Reader
	sink    Sink
	zone    calendar.Zone
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time
	render  func(Report) ([]byte, error)
}

type Options struct {
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
}

func NewAggregator(r Reader, sink Sink, zone calendar.Zone, opt Options) *Aggregator {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{reader: r, sink: sink, zone: zone, bus: opt.Bus, metrics: opt.Metrics, log: log, now: time.Now, render: Render}
}

// CurrentMonth is the month containing now, used for on-demand runs.
func (a *Aggregator) CurrentMonth(now time.Time) calendar.Date {
	first, _ := calendar.MonthWindow(a.zone.Today(now))
	return first
}

// ScheduledMonth is the month containing yesterday, so a run on the 1st
// finalizes the month that just ended.
func (a *Aggregator) ScheduledMonth(now time.Time) calendar.Date {
	first, _ := calendar.MonthWindow(a.zone.Today(now).AddDays(-1))
	return first
}

// Compute builds the report for the month containing month.
func (a *Aggregator) Compute(ctx context.Context, month calendar.Date) (Report, error) {
	first, last := calendar.MonthWindow(month)
	rows, err := a.reader.AttendanceBetween(ctx, first, last)
	if err != nil {
		return Report{}, fmt.Errorf("read attendance: %w", err)
	}
	students, err := a.reader.ListStudents(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list students: %w", err)
	}

	days := make(map[calendar.Date]struct{})
	present := make(map[int64]int)
	for _, r := range rows {
		days[r.Day] = struct{}{}
		present[r.StudentID]++
	}
	expected := len(days)

	rep := Report{Month: first, ClassDays: expected, GeneratedAt: a.now().In(a.zone.Location())}
	// Students come ordered by grade then name; keep that order.
	for _, st := range students {
		absences := max(0, expected-present[st.ID])
		if absences == 0 {
			continue
		}
		if n := len(rep.Grades); n == 0 || rep.Grades[n-1].Number != st.GradeNumber {
			rep.Grades = append(rep.Grades, GradeSection{Number: st.GradeNumber})
		}
		g := &rep.Grades[len(rep.Grades)-1]
		g.Students = append(g.Students, Entry{
			Name:     st.FullName(),
			Document: st.Document,
			Absences: absences,
			Expected: expected,
		})
	}
	return rep, nil
}

// Generate computes, renders and stores the report for month. It returns
// ErrNothingToReport, leaving any earlier artifact for the month untouched,
// when nobody was absent.
func (a *Aggregator) Generate(ctx context.Context, month calendar.Date) (Artifact, error) {
	runID := uuid.NewString()
	key := month.MonthKey()
	log := a.log.With(logx.String("run_id", runID), logx.String("month", key))

	rep, err := a.Compute(ctx, month)
	if err != nil {
		a.metrics.Report("failed")
		log.Error("monthly report failed", logx.Err(err))
		return Artifact{}, err
	}
	if rep.Absent() == 0 {
		a.metrics.Report("empty")
		log.Info("no absences this month; report not written", logx.Int("class_days", rep.ClassDays))
		eventbus.Publish(a.bus, eventbus.TypeReportEmpty, GeneratedEvent{RunID: runID, Key: key})
		return Artifact{}, ErrNothingToReport
	}

	body, err := a.render(rep)
	if err != nil {
		a.metrics.Report("failed")
		log.Error("render report failed", logx.Err(err))
		return Artifact{}, fmt.Errorf("render report %s: %w", key, err)
	}
	art, err := a.sink.Write(rep.Key(), body)
	if err != nil {
		a.metrics.Report("failed")
		log.Error("write report failed", logx.Err(err))
		return Artifact{}, fmt.Errorf("write report %s: %w", key, err)
	}
	a.metrics.Report("generated")
	log.Info("monthly report written",
		logx.String("file", art.Filename), logx.Int("absent", rep.Absent()), logx.Int("class_days", rep.ClassDays))
	eventbus.Publish(a.bus, eventbus.TypeReportGenerated, GeneratedEvent{RunID: runID, Key: key, Absent: rep.Absent(), Artifact: art})
	return art, nil
}
