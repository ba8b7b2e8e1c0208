package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Flags marks which weekdays are school days.
type Flags struct {
	Monday    bool `json:"monday"`
	Tuesday   bool `json:"tuesday"`
	Wednesday bool `json:"wednesday"`
	Thursday  bool `json:"thursday"`
	Friday    bool `json:"friday"`
	Saturday  bool `json:"saturday"`
	Sunday    bool `json:"sunday"`
}

// DefaultFlags is Monday through Friday.
func DefaultFlags() Flags {
	return Flags{Monday: true, Tuesday: true, Wednesday: true, Thursday: true, Friday: true}
}

func (f Flags) On(wd time.Weekday) bool {
	switch wd {
	case time.Monday:
		return f.Monday
	case time.Tuesday:
		return f.Tuesday
	case time.Wednesday:
		return f.Wednesday
	case time.Thursday:
		return f.Thursday
	case time.Friday:
		return f.Friday
	case time.Saturday:
		return f.Saturday
	default:
		return f.Sunday
	}
}

func (f *Flags) set(wd time.Weekday, v bool) {
	switch wd {
	case time.Monday:
		f.Monday = v
	case time.Tuesday:
		f.Tuesday = v
	case time.Wednesday:
		f.Wednesday = v
	case time.Thursday:
		f.Thursday = v
	case time.Friday:
		f.Friday = v
	case time.Saturday:
		f.Saturday = v
	default:
		f.Sunday = v
	}
}

// Calendar answers "is this a school day" questions. It is a value; use
// Service to read and persist the institution's calendar.
type Calendar struct {
	flags Flags
}

func New(f Flags) Calendar { return Calendar{flags: f} }

func (c Calendar) Flags() Flags { return c.flags }

func (c Calendar) IsSchoolDay(d Date) bool { return c.flags.On(d.Weekday()) }

// CountSchoolDays counts school days in [from, to], both inclusive.
// It returns 0 when from is after to.
func (c Calendar) CountSchoolDays(from, to Date) int {
	if from.After(to) {
		return 0
	}
	span := DaysBetween(from, to) + 1
	perWeek := 0
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if c.flags.On(wd) {
			perWeek++
		}
	}
	n := span / 7 * perWeek
	// The remaining days start on from's weekday.
	for i, wd := 0, from.Weekday(); i < span%7; i, wd = i+1, (wd+1)%7 {
		if c.flags.On(wd) {
			n++
		}
	}
	return n
}

// Patch carries only the weekdays a caller wants to change.
type Patch map[time.Weekday]bool

// Apply merges p into c, leaving weekdays absent from p untouched.
func (c Calendar) Apply(p Patch) Calendar {
	out := c.flags
	for wd, v := range p {
		out.set(wd, v)
	}
	return Calendar{flags: out}
}

var weekdayKeys = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"miércoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
	"sábado":    time.Saturday,
	"domingo":   time.Sunday,
}

// ParsePatch reads a loosely typed payload (e.g. decoded JSON). Unknown keys
// and non-boolean values are skipped and returned in ignored, so a bad field
// never discards the rest of the update.
func ParsePatch(raw map[string]any) (Patch, []string) {
	p := Patch{}
	var ignored []string
	for k, v := range raw {
		wd, ok := weekdayKeys[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			ignored = append(ignored, k)
			continue
		}
		b, ok := coerceBool(v)
		if !ok {
			ignored = append(ignored, k)
			continue
		}
		p[wd] = b
	}
	sort.Strings(ignored)
	return p, ignored
}

func coerceBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		if x == 0 || x == 1 {
			return x == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

// Repository persists the singleton class-day row.
type Repository interface {
	LoadClassDays(ctx context.Context) (Flags, bool, error)
	SaveClassDays(ctx context.Context, f Flags) error
}

// Service owns reads and updates of the institution's calendar.
type Service struct {
	repo Repository

	// serializes read-merge-write updates within this process
	mu sync.Mutex
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Current returns the stored calendar, creating the default on first read.
func (s *Service) Current(ctx context.Context) (Calendar, error) {
	f, ok, err := s.repo.LoadClassDays(ctx)
	if err != nil {
		return Calendar{}, fmt.Errorf("load class days: %w", err)
	}
	if ok {
		return New(f), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// another caller may have created it meanwhile
	if f, ok, err = s.repo.LoadClassDays(ctx); err != nil {
		return Calendar{}, fmt.Errorf("load class days: %w", err)
	} else if ok {
		return New(f), nil
	}
	f = DefaultFlags()
	if err := s.repo.SaveClassDays(ctx, f); err != nil {
		return Calendar{}, fmt.Errorf("save default class days: %w", err)
	}
	return New(f), nil
}

// Update merges p into the stored calendar and persists the result.
func (s *Service) Update(ctx context.Context, p Patch) (Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok, err := s.repo.LoadClassDays(ctx)
	if err != nil {
		return Calendar{}, fmt.Errorf("load class days: %w", err)
	}
	if !ok {
		f = DefaultFlags()
	}
	next := New(f).Apply(p)
	if err := s.repo.SaveClassDays(ctx, next.Flags()); err != nil {
		return Calendar{}, fmt.Errorf("save class days: %w", err)
	}
	return next, nil
}
