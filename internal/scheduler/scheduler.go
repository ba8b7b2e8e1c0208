package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logx "educheck/pkg/logx"

	"github.com/robfig/cron/v3"
)

const defaultTimeout = 10 * time.Minute

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec is a five-field cron expression or a descriptor such as "@daily".
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(strings.TrimSpace(spec))
	return err
}

// Job is the unit of scheduled work. ctx is cancelled on timeout or Stop.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

// Entry describes a registered schedule.
type Entry struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitempty"`
	Prev    time.Time     `json:"prev,omitempty"`
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	c      *cron.Cron
	defs   map[string]*scheduleDef
	runCtx context.Context
	cancel context.CancelFunc
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log:    log,
		loc:    loc,
		parser: specParser,
		defs:   map[string]*scheduleDef{},
	}
}

// Start begins triggering. Calling it again while running is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cl := cronLogger{log: s.log}
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering, cancels running jobs and waits for them until ctx ends.
// Registered definitions survive and are re-armed by the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}

	stopped := c.Stop()
	cancel()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop grace elapsed; jobs still running")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// AddCron registers or replaces the schedule called name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	spec = strings.TrimSpace(spec)
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", name, spec, err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: spec, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c == nil {
		return nil
	}
	if err := s.addLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec),
		logx.Duration("timeout", timeout), logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

// AddDaily runs job every day at hhmm in the scheduler's location.
func (s *Service) AddDaily(name, hhmm string, timeout time.Duration, job Job) error {
	spec, err := DailySpec(hhmm)
	if err != nil {
		return err
	}
	return s.AddCron(name, spec, timeout, job)
}

// Remove drops a schedule. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

// Entries lists registered schedules sorted by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			ce := s.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// addLocked arms d on the running cron. Call with s.mu held and s.c set.
func (s *Service) addLocked(d *scheduleDef) error {
	runCtx := s.runCtx
	name, timeout, job := d.name, d.timeout, d.job
	eid, err := s.c.AddFunc(d.spec, func() {
		s.run(runCtx, name, timeout, job)
	})
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) run(parent context.Context, name string, timeout time.Duration, job Job) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	start := time.Now()
	log := s.log.With(logx.String("schedule", name))
	log.Debug("job started")
	if err := job(ctx); err != nil {
		log.Error("job failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	log.Debug("job finished", logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to cron's logger for the Recover and SkipIfStillRunning wrappers.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
