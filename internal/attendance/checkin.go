// Package attendance registers student check-ins and sends the guardian
// entry confirmation.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"educheck/internal/calendar"
	"educheck/internal/eventbus"
	"educheck/internal/metrics"
	"educheck/internal/notifier"
	"educheck/internal/school"
	logx "educheck/pkg/logx"
)

var ErrEmptyDocument = errors.New("document is required")

type Status string

const (
	StatusRegistered        Status = "registered"
	StatusAlreadyRegistered Status = "already_registered"
	StatusNotFound          Status = "not_found"
)

// Store is the ledger access the handler needs.
type Store interface {
	StudentByDocument(ctx context.Context, document string) (school.Student, error)
	InsertAttendance(ctx context.Context, rec school.AttendanceRecord) (bool, error)
	ClaimNotification(ctx context.Context, studentID int64, day calendar.Date, kind school.NotificationKind) (bool, error)
	FinishNotification(ctx context.Context, studentID int64, day calendar.Date, outcome school.Outcome, detail string) error
}

// Result describes one check-in. Notification is nil when no confirmation
// was attempted (duplicate scan, or the day's slot was already taken).
type Result struct {
	Status       Status           `json:"status"`
	Student      school.Student   `json:"-"`
	Day          calendar.Date    `json:"-"`
	CheckedIn    string           `json:"checked_in,omitempty"`
	Notification *notifier.Result `json:"notification,omitempty"`
}

// CheckedInEvent is published on the bus for every resolved check-in.
type CheckedInEvent struct {
	StudentID int64  `json:"student_id"`
	Document  string `json:"document"`
	Day       string `json:"day"`
	Status    Status `json:"status"`
}

type Handler struct {
	store   Store
	notify  notifier.Notifier
	zone    calendar.Zone
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
}

type Options struct {
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
}

func NewHandler(store Store, n notifier.Notifier, zone calendar.Zone, opt Options) *Handler {
	if n == nil {
		n = notifier.Unconfigured{}
	}
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{store: store, notify: n, zone: zone, bus: opt.Bus, metrics: opt.Metrics, log: log}
}

// CheckIn registers attendance for the student identified by document at now.
//
// The attendance row is committed before any notification is attempted, and
// a notification problem never turns a registered check-in into a failure.
// An unknown document yields StatusNotFound together with an error wrapping
// school.ErrNotFound.
func (h *Handler) CheckIn(ctx context.Context, document string, now time.Time) (Result, error) {
	document = strings.TrimSpace(document)
	if document == "" {
		return Result{}, ErrEmptyDocument
	}

	st, err := h.store.StudentByDocument(ctx, document)
	if errors.Is(err, school.ErrNotFound) {
		h.metrics.CheckIn(string(StatusNotFound))
		h.log.Info("check-in for unknown document", logx.String("document", document))
		return Result{Status: StatusNotFound}, fmt.Errorf("check-in %q: %w", document, err)
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve student: %w", err)
	}

	day := h.zone.Today(now)
	res := Result{Student: st, Day: day, CheckedIn: h.zone.ClockTime(now)}

	inserted, err := h.store.InsertAttendance(ctx, school.AttendanceRecord{StudentID: st.ID, Day: day, CheckedIn: res.CheckedIn})
	if err != nil {
		return Result{}, fmt.Errorf("record attendance: %w", err)
	}
	if !inserted {
		res.Status = StatusAlreadyRegistered
		res.CheckedIn = ""
		h.finish(res)
		return res, nil
	}
	res.Status = StatusRegistered
	res.Notification = h.confirm(ctx, st, day, h.zone.HourMinute(now))
	h.finish(res)
	return res, nil
}

// confirm claims the day's notification slot and sends the entry message.
func (h *Handler) confirm(ctx context.Context, st school.Student, day calendar.Date, hhmm string) *notifier.Result {
	log := h.log.With(logx.Int64("student_id", st.ID), logx.String("day", day.String()))

	claimed, err := h.store.ClaimNotification(ctx, st.ID, day, school.KindEntry)
	if err != nil {
		log.Error("claim notification slot failed", logx.Err(err))
		return nil
	}
	if !claimed {
		log.Debug("notification slot already used today")
		return nil
	}

	var r notifier.Result
	if !st.Notifiable() {
		r = notifier.Skipped("no guardian handle")
	} else {
		r = h.notify.Send(ctx, st.GuardianHandle, EntryMessage(st, hhmm))
	}
	// The slot is ours even if the request was cancelled mid-send.
	if err := h.store.FinishNotification(context.WithoutCancel(ctx), st.ID, day, r.Outcome, r.Detail); err != nil {
		log.Error("record notification outcome failed", logx.Err(err))
	}
	h.metrics.Notification(string(school.KindEntry), string(r.Outcome))
	if r.Outcome == school.OutcomeError {
		log.Warn("entry confirmation failed", logx.String("detail", r.Detail))
	}
	return &r
}

func (h *Handler) finish(res Result) {
	h.metrics.CheckIn(string(res.Status))
	h.log.Info("check-in",
		logx.Int64("student_id", res.Student.ID),
		logx.String("day", res.Day.String()),
		logx.String("status", string(res.Status)),
	)
	eventbus.Publish(h.bus, eventbus.TypeCheckedIn, CheckedInEvent{
		StudentID: res.Student.ID,
		Document:  res.Student.Document,
		Day:       res.Day.String(),
		Status:    res.Status,
	})
}
