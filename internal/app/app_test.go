package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"educheck/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "educheck.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func baseConfig(dir string) string {
	return `
timezone: America/Bogota
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "db", "educheck.db") + `
absence:
  alert_time: "07:10"
report:
  schedule: "0 6 1 * *"
  dir: ` + filepath.Join(dir, "reports") + `
http:
  addr: "127.0.0.1:0"
logging:
  level: error
`
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	p := writeConfig(t, dir, baseConfig(dir))
	a, err := New(context.Background(), p)
	require.NoError(t, err)
	return a, dir
}

func entrySpecs(a *App) map[string]string {
	out := map[string]string{}
	for _, e := range a.sched.Entries() {
		out[e.Name] = e.Spec
	}
	return out
}

func TestNewRegistersSchedules(t *testing.T) {
	a, _ := newTestApp(t)
	defer func() { require.NoError(t, a.Stop(context.Background(), StopUnknown)) }()

	assert.Nil(t, a.telegram)
	assert.Equal(t, map[string]string{jobSweep: "10 7 * * *", jobReport: "0 6 1 * *"}, entrySpecs(a))
	assert.Equal(t, "07:10", a.sweeper.AlertTime())
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "timezone: Nowhere/City\nstorage: {path: x.db}\n")
	_, err := New(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nowhere/City")
}

func TestApplyConfigLiveSections(t *testing.T) {
	a, dir := newTestApp(t)
	defer func() { require.NoError(t, a.Stop(context.Background(), StopUnknown)) }()

	next := *a.applied
	next.Absence.AlertTime = "08:05"
	next.Report.Schedule = "0 5 1 * *"
	next.Absence.LookbackDays = 10
	next.Timezone = "UTC"
	next.Storage.Path = filepath.Join(dir, "other.db")
	a.applyConfig(&next)

	assert.Equal(t, map[string]string{jobSweep: "5 8 * * *", jobReport: "0 5 1 * *"}, entrySpecs(a))
	assert.Equal(t, "08:05", a.sweeper.AlertTime())
	s := a.Settings()
	assert.Equal(t, "08:05", s.AlertTime)
	assert.Equal(t, 10, s.LookbackDays)
	// Restart-only sections keep their startup values.
	assert.Equal(t, "America/Bogota", s.Zone.String())
	assert.Equal(t, filepath.Join(dir, "db", "educheck.db"), s.Storage.Path)
}

func TestApplyConfigMalformedAlertTimeFallsBack(t *testing.T) {
	a, _ := newTestApp(t)
	defer func() { require.NoError(t, a.Stop(context.Background(), StopUnknown)) }()

	next := *a.applied
	next.Absence.AlertTime = "08:05"
	a.applyConfig(&next)
	bad := next
	bad.Absence.AlertTime = "25:99"
	a.applyConfig(&bad)

	assert.Equal(t, config.DefaultAlertTime, a.sweeper.AlertTime())
	assert.Equal(t, "10 7 * * *", entrySpecs(a)[jobSweep])
}

func TestApplyConfigRejectsInvalid(t *testing.T) {
	a, _ := newTestApp(t)
	defer func() { require.NoError(t, a.Stop(context.Background(), StopUnknown)) }()

	next := *a.applied
	next.Storage.Driver = "mysql"
	next.Absence.AlertTime = "09:00"
	a.applyConfig(&next)
	assert.Equal(t, "07:10", a.sweeper.AlertTime())
}

func TestStartStop(t *testing.T) {
	a, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	select {
	case <-a.Done():
		t.Fatalf("app stopped early: %v", a.Err())
	case <-time.After(100 * time.Millisecond):
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
	assert.NoError(t, a.Err())
	<-a.Done()
}
