package config

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"strings"

	logx "educheck/pkg/logx"
)

// Change summarizes a reload. Live sections are re-applied in place;
// Restart sections only take effect after a process restart.
type Change struct {
	Live    []string
	Restart []string
	// Attrs are safe for logging; secrets are reported as set/unset only.
	Attrs []logx.Field
}

func (c Change) Empty() bool { return len(c.Live) == 0 && len(c.Restart) == 0 }

// Has reports whether section changed, live or not.
func (c Change) Has(section string) bool {
	for _, s := range c.Live {
		if s == section {
			return true
		}
	}
	for _, s := range c.Restart {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change
	trim := strings.TrimSpace

	if trim(oldCfg.Timezone) != trim(newCfg.Timezone) {
		c.Restart = append(c.Restart, "timezone")
		c.Attrs = append(c.Attrs, logx.String("timezone", trim(newCfg.Timezone)))
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	if trim(ost.Driver) != trim(nst.Driver) || trim(ost.Path) != trim(nst.Path) ||
		trim(ost.DSN) != trim(nst.DSN) || trim(ost.BusyTimeout) != trim(nst.BusyTimeout) {
		c.Restart = append(c.Restart, "storage")
		c.Attrs = append(c.Attrs,
			logx.String("storage.driver", trim(nst.Driver)),
			logx.Bool("storage.dsn_set", trim(nst.DSN) != ""),
		)
	}

	if trim(oldCfg.HTTP.Addr) != trim(newCfg.HTTP.Addr) || oldCfg.HTTP.RatePerSec != newCfg.HTTP.RatePerSec {
		c.Restart = append(c.Restart, "http")
		c.Attrs = append(c.Attrs, logx.String("http.addr", trim(newCfg.HTTP.Addr)))
	}

	if trim(oldCfg.Telegram.Token) != trim(newCfg.Telegram.Token) {
		c.Restart = append(c.Restart, "telegram.token")
		c.Attrs = append(c.Attrs, logx.Bool("telegram.token_set", trim(newCfg.Telegram.Token) != ""))
	}
	if trim(oldCfg.Telegram.Timeout) != trim(newCfg.Telegram.Timeout) || oldCfg.Telegram.RatePerSec != newCfg.Telegram.RatePerSec {
		c.Live = append(c.Live, "telegram")
		c.Attrs = append(c.Attrs,
			logx.String("telegram.timeout", trim(newCfg.Telegram.Timeout)),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}

	if oldCfg.Absence != newCfg.Absence {
		c.Live = append(c.Live, "absence")
		c.Attrs = append(c.Attrs,
			logx.String("absence.alert_time", trim(newCfg.Absence.AlertTime)),
			logx.Int("absence.lookback_days", newCfg.Absence.LookbackDays),
		)
	}

	if trim(oldCfg.Report.Schedule) != trim(newCfg.Report.Schedule) {
		c.Live = append(c.Live, "report")
		c.Attrs = append(c.Attrs, logx.String("report.schedule", trim(newCfg.Report.Schedule)))
	}
	if trim(oldCfg.Report.Dir) != trim(newCfg.Report.Dir) {
		c.Restart = append(c.Restart, "report.dir")
	}

	if oldCfg.Logging != newCfg.Logging {
		c.Live = append(c.Live, "logging")
		c.Attrs = append(c.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	sort.Strings(c.Live)
	sort.Strings(c.Restart)
	return c
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes returns a stable 64-bit hash of b. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
