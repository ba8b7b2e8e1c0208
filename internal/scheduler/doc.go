// Package scheduler triggers the daily absence sweep and the monthly report.
//
// It is an explicitly constructed instance wrapping robfig/cron. Start is
// idempotent, and schedules are upserted by name so a config reload can
// re-register a job without duplicating it. Every run goes through a
// panic-recovering, skip-if-still-running chain and gets its own timeout.
package scheduler
