package absence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"educheck/internal/attendance"
	"educheck/internal/calendar"
	"educheck/internal/eventbus"
	"educheck/internal/metrics"
	"educheck/internal/notifier"
	"educheck/internal/school"
	logx "educheck/pkg/logx"

	"github.com/google/uuid"
)

// DefaultAlertTime is used when the configured alert time is malformed.
const DefaultAlertTime = "07:10"

// Store is the ledger and roster access the sweep needs.
type Store interface {
	ListStudents(ctx context.Context) ([]school.Student, error)
	AttendedOn(ctx context.Context, day calendar.Date) (map[int64]struct{}, error)
	NotifiedOn(ctx context.Context, day calendar.Date) (map[int64]struct{}, error)
	ClaimNotification(ctx context.Context, studentID int64, day calendar.Date, kind school.NotificationKind) (bool, error)
	FinishNotification(ctx context.Context, studentID int64, day calendar.Date, outcome school.Outcome, detail string) error
}

// CalendarSource yields the current class-day calendar.
type CalendarSource interface {
	Current(ctx context.Context) (calendar.Calendar, error)
}

// Tally summarizes one sweep run. It is for observability only.
type Tally struct {
	RunID     string        `json:"run_id"`
	Day       calendar.Date `json:"day"`
	SchoolDay bool          `json:"school_day"`
	Sent      int           `json:"sent"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
}

type Sweeper struct {
	store  Store
	cals   CalendarSource
	notify notifier.Notifier
	zone   calendar.Zone

	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger

	mu        sync.RWMutex
	alertTime string
}

type Options struct {
	AlertTime string // "HH:MM" quoted in the message; defaults to DefaultAlertTime
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
	Log       logx.Logger
}

func NewSweeper(store Store, cals CalendarSource, n notifier.Notifier, zone calendar.Zone, opt Options) *Sweeper {
	if n == nil {
		n = notifier.Unconfigured{}
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{store: store, cals: cals, notify: n, zone: zone, bus: opt.Bus, metrics: opt.Metrics, log: log}
	s.SetAlertTime(opt.AlertTime)
	return s
}

// SetAlertTime changes the time quoted in absence messages.
func (s *Sweeper) SetAlertTime(hhmm string) {
	if hhmm == "" {
		hhmm = DefaultAlertTime
	}
	s.mu.Lock()
	s.alertTime = hhmm
	s.mu.Unlock()
}

func (s *Sweeper) AlertTime() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alertTime
}

// Run sweeps the institutional day containing now.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Tally, error) {
	return s.RunFor(ctx, s.zone.Today(now))
}

// RunFor sweeps day. Per-student notifier failures are tallied; a storage
// error ends the run and is returned along with the partial tally.
func (s *Sweeper) RunFor(ctx context.Context, day calendar.Date) (Tally, error) {
	start := time.Now()
	t := Tally{RunID: uuid.NewString(), Day: day}
	log := s.log.With(logx.String("run_id", t.RunID), logx.String("day", day.String()))

	t, err := s.sweep(ctx, t, log)
	switch {
	case err != nil:
		s.metrics.Sweep("failed", time.Since(start))
		log.Error("absence sweep aborted",
			logx.Int("sent", t.Sent), logx.Int("skipped", t.Skipped), logx.Int("errors", t.Errors), logx.Err(err))
		return t, err
	case !t.SchoolDay:
		s.metrics.Sweep("skipped", time.Since(start))
		log.Info("not a school day; sweep skipped")
	default:
		s.metrics.Sweep("ok", time.Since(start))
		log.Info("absence sweep done",
			logx.Int("sent", t.Sent), logx.Int("skipped", t.Skipped), logx.Int("errors", t.Errors),
			logx.Duration("took", time.Since(start)))
	}
	eventbus.Publish(s.bus, eventbus.TypeSweepCompleted, t)
	return t, nil
}

func (s *Sweeper) sweep(ctx context.Context, t Tally, log logx.Logger) (Tally, error) {
	cal, err := s.cals.Current(ctx)
	if err != nil {
		return t, fmt.Errorf("load calendar: %w", err)
	}
	if !cal.IsSchoolDay(t.Day) {
		return t, nil
	}
	t.SchoolDay = true

	students, err := s.store.ListStudents(ctx)
	if err != nil {
		return t, fmt.Errorf("list students: %w", err)
	}
	attended, err := s.store.AttendedOn(ctx, t.Day)
	if err != nil {
		return t, fmt.Errorf("read attendance: %w", err)
	}
	notified, err := s.store.NotifiedOn(ctx, t.Day)
	if err != nil {
		return t, fmt.Errorf("read notifications: %w", err)
	}
	alertTime := s.AlertTime()

	for _, st := range students {
		if err := ctx.Err(); err != nil {
			return t, err
		}
		if _, ok := attended[st.ID]; ok {
			continue
		}
		if _, ok := notified[st.ID]; ok {
			continue
		}
		if !st.Notifiable() {
			t.Skipped++
			s.metrics.Notification(string(school.KindAbsence), string(school.OutcomeSkipped))
			continue
		}

		claimed, err := s.store.ClaimNotification(ctx, st.ID, t.Day, school.KindAbsence)
		if err != nil {
			return t, fmt.Errorf("claim notification for student %d: %w", st.ID, err)
		}
		if !claimed {
			// A check-in or an overlapping run got here first.
			continue
		}

		r := s.notify.Send(ctx, st.GuardianHandle, attendance.AbsenceMessage(st, alertTime))
		if err := s.store.FinishNotification(context.WithoutCancel(ctx), st.ID, t.Day, r.Outcome, r.Detail); err != nil {
			return t, fmt.Errorf("record notification for student %d: %w", st.ID, err)
		}
		s.metrics.Notification(string(school.KindAbsence), string(r.Outcome))

		switch r.Outcome {
		case school.OutcomeSent:
			t.Sent++
		case school.OutcomeSkipped:
			t.Skipped++
		default:
			t.Errors++
			log.Warn("absence alert failed", logx.Int64("student_id", st.ID), logx.String("detail", r.Detail))
		}
	}
	return t, nil
}
