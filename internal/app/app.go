// Package app wires the attendance services together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"educheck/internal/absence"
	"educheck/internal/attendance"
	"educheck/internal/calendar"
	"educheck/internal/config"
	"educheck/internal/eventbus"
	"educheck/internal/httpapi"
	"educheck/internal/metrics"
	"educheck/internal/notifier"
	"educheck/internal/report"
	"educheck/internal/runtime/supervisor"
	"educheck/internal/scheduler"
	"educheck/internal/storage"
	logx "educheck/pkg/logx"
)

const (
	jobSweep  = "absence-sweep"
	jobReport = "monthly-report"

	reportTimeout = 5 * time.Minute
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus
	met  *metrics.Metrics
	sup  *supervisor.Supervisor

	store    *storage.Store
	telegram *notifier.Telegram // nil when no token is configured
	cals     *calendar.Service
	checkin  *attendance.Handler
	sweeper  *absence.Sweeper
	reports  *report.Aggregator
	sink     *report.FileSink
	sched    *scheduler.Service
	http     *httpapi.Server

	mu       sync.Mutex
	settings config.Settings
	applied  *config.Config
}

// New loads configuration from cfgPath (empty for environment only), opens
// storage and builds every service. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	settings, warnings, err := config.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logs, log := logx.New(settings.Logging)
	for _, w := range warnings {
		log.Warn("config corrected", logx.String("detail", w))
	}

	store, err := storage.Open(ctx, settings.Storage, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logs,
		bus:      eventbus.New(),
		met:      metrics.New(),
		store:    store,
		settings: settings,
		applied:  cfg,
	}
	if err := a.build(log); err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(log logx.Logger) error {
	s := a.settings
	zone := s.Zone

	var n notifier.Notifier = notifier.Unconfigured{}
	if s.Telegram.Token != "" {
		tg, err := notifier.NewTelegram(s.Telegram, log.With(logx.String("comp", "notifier")))
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		a.telegram, n = tg, tg
	} else {
		a.log.Warn("telegram token not set; guardian notifications will be recorded as skipped")
	}

	sink, err := report.NewFileSink(s.ReportDir)
	if err != nil {
		return fmt.Errorf("report dir: %w", err)
	}
	a.sink = sink

	a.cals = calendar.NewService(a.store)
	a.checkin = attendance.NewHandler(a.store, n, zone, attendance.Options{
		Bus: a.bus, Metrics: a.met, Log: log.With(logx.String("comp", "checkin")),
	})
	a.sweeper = absence.NewSweeper(a.store, a.cals, n, zone, absence.Options{
		AlertTime: s.AlertTime, Bus: a.bus, Metrics: a.met, Log: log.With(logx.String("comp", "sweep")),
	})
	a.reports = report.NewAggregator(a.store, sink, zone, report.Options{
		Bus: a.bus, Metrics: a.met, Log: log.With(logx.String("comp", "report")),
	})
	a.sched = scheduler.New(zone.Location(), log.With(logx.String("comp", "scheduler")))
	a.http = httpapi.New(httpapi.Deps{
		Store:     a.store,
		CheckIn:   a.checkin,
		Calendars: a.cals,
		Sweeper:   a.sweeper,
		Reports:   a.reports,
		Artifacts: sink,
		Metrics:   a.met,
		Zone:      zone,
	}, httpapi.Options{
		Addr:              s.HTTPAddr,
		CheckInRatePerSec: s.HTTPRatePerSec,
		LookbackDays:      s.LookbackDays,
		Log:               log.With(logx.String("comp", "http")),
	})

	if err := a.scheduleSweep(s.AlertTime, s.SweepTimeout); err != nil {
		return err
	}
	return a.scheduleReport(s.ReportSchedule)
}

func (a *App) scheduleSweep(hhmm string, timeout time.Duration) error {
	return a.sched.AddDaily(jobSweep, hhmm, timeout, func(ctx context.Context) error {
		_, err := a.sweeper.Run(ctx, time.Now())
		return err
	})
}

func (a *App) scheduleReport(spec string) error {
	return a.sched.AddCron(jobReport, spec, reportTimeout, func(ctx context.Context) error {
		_, err := a.reports.Generate(ctx, a.reports.ScheduledMonth(time.Now()))
		if errors.Is(err, report.ErrNothingToReport) {
			return nil
		}
		return err
	})
}

// Done is closed when the app stops, including after a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, _, err := config.Build(cfg)
		return err
	})

	a.sched.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		a.logEvents(c, events)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("http", a.http.Run)

	a.log.Info("app started",
		logx.String("tz", a.settings.Zone.String()),
		logx.String("alert_time", a.settings.AlertTime),
		logx.String("report_schedule", a.settings.ReportSchedule),
		logx.Bool("telegram", a.telegram != nil),
	)
	return nil
}

func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
		}
	}
}

// applyConfig re-applies the sections that can change without a restart.
func (a *App) applyConfig(cfg *config.Config) {
	next, warnings, err := config.Build(cfg)
	if err != nil {
		a.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	for _, w := range warnings {
		a.log.Warn("config corrected", logx.String("detail", w))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	change := config.SummarizeChange(a.applied, cfg)
	a.applied = cfg
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	prev := a.settings

	if change.Has("logging") {
		a.logs.Apply(next.Logging)
	}
	if change.Has("telegram") && a.telegram != nil {
		a.telegram.Apply(next.Telegram)
	}
	if next.AlertTime != prev.AlertTime || next.SweepTimeout != prev.SweepTimeout {
		if err := a.scheduleSweep(next.AlertTime, next.SweepTimeout); err != nil {
			a.log.Warn("sweep reschedule failed; keeping previous", logx.Err(err))
			next.AlertTime, next.SweepTimeout = prev.AlertTime, prev.SweepTimeout
		} else {
			a.sweeper.SetAlertTime(next.AlertTime)
		}
	}
	if next.ReportSchedule != prev.ReportSchedule {
		if err := a.scheduleReport(next.ReportSchedule); err != nil {
			a.log.Warn("report reschedule failed; keeping previous", logx.Err(err))
			next.ReportSchedule = prev.ReportSchedule
		}
	}
	if next.LookbackDays != prev.LookbackDays {
		a.http.SetLookbackDays(next.LookbackDays)
	}

	// These keep their startup values until the process restarts.
	next.Zone, next.Storage, next.ReportDir = prev.Zone, prev.Storage, prev.ReportDir
	next.HTTPAddr, next.HTTPRatePerSec, next.Telegram.Token = prev.HTTPAddr, prev.HTTPRatePerSec, prev.Telegram.Token
	a.settings = next

	if len(change.Restart) > 0 {
		a.log.Warn("config changed; restart required", logx.String("sections", strings.Join(change.Restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Live, ","))}, change.Attrs...)
	a.log.Info("config reloaded", fields...)
	eventbus.Publish(a.bus, eventbus.TypeConfigReloaded, change.Live)
}

// Settings returns the settings currently in effect.
func (a *App) Settings() config.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Stop shuts services down in dependency order, each step bounded so one
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 20*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "supervisor", 6*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Any("events_dropped", a.bus.Dropped()))
	return a.logs.Close()
}

func (a *App) close() error {
	return errors.Join(a.store.Close(), a.logs.Close())
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
