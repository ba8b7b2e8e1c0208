package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"educheck/internal/absence"
	"educheck/internal/calendar"
	"educheck/internal/notifier"
	"educheck/internal/scheduler"
	"educheck/internal/storage"
	logx "educheck/pkg/logx"
)

const (
	DefaultTimezone       = "America/Bogota"
	DefaultAlertTime      = "07:10"
	DefaultReportSchedule = "0 6 1 * *"
	DefaultReportDir      = "./monthly_reports"
	DefaultHTTPAddr       = ":5000"
	DefaultLookbackDays   = 30
	DefaultSweepTimeout   = 10 * time.Minute
)

// Settings is the validated, parsed form of Config.
type Settings struct {
	Zone      calendar.Zone
	Storage   storage.Config
	Telegram  notifier.Config
	Logging   logx.Config
	AlertTime string // normalized "HH:MM"
	// SweepTimeout bounds one scheduled sweep run.
	SweepTimeout   time.Duration
	LookbackDays   int
	ReportSchedule string
	ReportDir      string
	HTTPAddr       string
	HTTPRatePerSec int
}

// Build validates cfg. Malformed schedule values fall back to their defaults
// and are reported as warnings; values that would corrupt ledger keys or
// leave the service without storage are errors.
func Build(cfg *Config) (Settings, []string, error) {
	if cfg == nil {
		return Settings{}, nil, errors.New("config is nil")
	}
	var (
		out  Settings
		warn []string
		err  error
	)

	tz := strings.TrimSpace(cfg.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	if out.Zone, err = calendar.LoadZone(tz); err != nil {
		return Settings{}, nil, err
	}

	if out.Storage, err = buildStorage(cfg.Storage); err != nil {
		return Settings{}, nil, err
	}

	out.Telegram = notifier.Config{Token: strings.TrimSpace(cfg.Telegram.Token), RatePerSec: cfg.Telegram.RatePerSec}
	if out.Telegram.Timeout, err = ParseDurationField("telegram.timeout", cfg.Telegram.Timeout); err != nil {
		return Settings{}, nil, err
	}
	if cfg.Telegram.RatePerSec < 0 {
		return Settings{}, nil, fmt.Errorf("telegram.rate_per_sec: must be >= 0")
	}

	out.AlertTime = DefaultAlertTime
	if raw := strings.TrimSpace(cfg.Absence.AlertTime); raw != "" {
		if h, m, perr := scheduler.ParseHHMM(raw); perr != nil {
			warn = append(warn, fmt.Sprintf("absence.alert_time %q is malformed; using %s", raw, DefaultAlertTime))
		} else {
			out.AlertTime = fmt.Sprintf("%02d:%02d", h, m)
		}
	}
	if out.SweepTimeout, err = ParseDurationOrDefault("absence.timeout", cfg.Absence.Timeout, DefaultSweepTimeout); err != nil {
		return Settings{}, nil, err
	}
	out.LookbackDays = cfg.Absence.LookbackDays
	if out.LookbackDays <= 0 {
		out.LookbackDays = DefaultLookbackDays
	}
	if out.LookbackDays > absence.MaxLookbackDays {
		warn = append(warn, fmt.Sprintf("absence.lookback_days %d exceeds %d; clamped", out.LookbackDays, absence.MaxLookbackDays))
		out.LookbackDays = absence.MaxLookbackDays
	}

	out.ReportSchedule = DefaultReportSchedule
	if raw := strings.TrimSpace(cfg.Report.Schedule); raw != "" {
		if perr := scheduler.ValidateSpec(raw); perr != nil {
			warn = append(warn, fmt.Sprintf("report.schedule %q is malformed; using %s", raw, DefaultReportSchedule))
		} else {
			out.ReportSchedule = raw
		}
	}
	out.ReportDir = strings.TrimSpace(cfg.Report.Dir)
	if out.ReportDir == "" {
		out.ReportDir = DefaultReportDir
	}

	out.HTTPAddr = strings.TrimSpace(cfg.HTTP.Addr)
	if out.HTTPAddr == "" {
		out.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.HTTP.RatePerSec < 0 {
		return Settings{}, nil, fmt.Errorf("http.rate_per_sec: must be >= 0")
	}
	out.HTTPRatePerSec = cfg.HTTP.RatePerSec

	out.Logging = LoggingSettings(cfg.Logging)
	return out, warn, nil
}

// LoggingSettings converts the logging block for logx.Service.Apply.
func LoggingSettings(l LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		JSON:    l.JSON,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

func buildStorage(s StorageConfig) (storage.Config, error) {
	out := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:   strings.TrimSpace(s.Path),
		DSN:    strings.TrimSpace(s.DSN),
	}
	if out.Driver == "" {
		out.Driver = "sqlite"
	}
	var err error
	if out.BusyTimeout, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
		return storage.Config{}, err
	}
	switch out.Driver {
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, errors.New("storage.path: required for sqlite")
		}
	case "postgres", "postgresql", "pgx":
		if out.DSN == "" {
			return storage.Config{}, errors.New("storage.dsn: required for postgres")
		}
	default:
		return storage.Config{}, fmt.Errorf("storage.driver: %w: %s", storage.ErrUnknownDriver, out.Driver)
	}
	return out, nil
}
