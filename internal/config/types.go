package config

// Config is the on-disk configuration. Every field can be overridden by an
// EDUCHECK_-prefixed environment variable (see ApplyEnv).
//
// Example (YAML):
//
//	timezone: America/Bogota
//	storage: { driver: sqlite, path: ./data/educheck.db }
//	telegram: { token: "", timeout: 10s, rate_per_sec: 3 }
//	absence: { alert_time: "07:10", lookback_days: 30 }
//	report: { schedule: "0 6 1 * *", dir: ./monthly_reports }
//	http: { addr: ":5000" }
//	logging: { level: info, console: true }
type Config struct {
	Timezone string         `json:"timezone" env:"TIMEZONE"`
	Storage  StorageConfig  `json:"storage" envPrefix:"STORAGE_"`
	Telegram TelegramConfig `json:"telegram" envPrefix:"TELEGRAM_"`
	Absence  AbsenceConfig  `json:"absence" envPrefix:"ABSENCE_"`
	Report   ReportConfig   `json:"report" envPrefix:"REPORT_"`
	HTTP     HTTPConfig     `json:"http" envPrefix:"HTTP_"`
	Logging  LoggingConfig  `json:"logging" envPrefix:"LOG_"`
}

// StorageConfig selects the ledger database.
//
//	"storage": { "driver": "sqlite", "path": "./data/educheck.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver" env:"DRIVER"`
	Path        string `json:"path,omitempty" env:"PATH"`
	DSN         string `json:"dsn,omitempty" env:"DSN"`
	BusyTimeout string `json:"busy_timeout,omitempty" env:"BUSY_TIMEOUT"` // Go duration string (sqlite)
}

type TelegramConfig struct {
	Token string `json:"token" env:"TOKEN"`
	// Timeout is a Go duration string bounding each send.
	Timeout    string `json:"timeout,omitempty" env:"TIMEOUT"`
	RatePerSec int    `json:"rate_per_sec,omitempty" env:"RATE_PER_SEC"`
}

type AbsenceConfig struct {
	// AlertTime is the daily "HH:MM" sweep time in the institutional zone.
	AlertTime    string `json:"alert_time" env:"ALERT_TIME"`
	LookbackDays int    `json:"lookback_days,omitempty" env:"LOOKBACK_DAYS"`
	// Timeout bounds one sweep run.
	Timeout string `json:"timeout,omitempty" env:"TIMEOUT"`
}

type ReportConfig struct {
	// Schedule is a five-field cron spec.
	Schedule string `json:"schedule" env:"SCHEDULE"`
	Dir      string `json:"dir" env:"DIR"`
}

type HTTPConfig struct {
	Addr string `json:"addr" env:"ADDR"`
	// RatePerSec limits check-in requests per client IP; 0 disables the limit.
	RatePerSec int `json:"rate_per_sec,omitempty" env:"RATE_PER_SEC"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"LEVEL"`
	Console bool        `json:"console" env:"CONSOLE"`
	JSON    bool        `json:"json" env:"JSON"`
	File    LoggingFile `json:"file" envPrefix:"FILE_"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}
