package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.CheckIn("registered")
	m.CheckIn("registered")
	m.CheckIn("not_found")
	m.Notification("absence", "sent")
	m.Sweep("ok", 120*time.Millisecond)
	m.Report("empty")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.checkins.WithLabelValues("registered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkins.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("absence", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("empty")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.CheckIn("registered")
	m.Notification("entry", "sent")
	m.Sweep("ok", time.Second)
	m.Report("generated")
}

func TestHandlerExposition(t *testing.T) {
	t.Parallel()
	m := New()
	m.CheckIn("already_registered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `educheck_checkins_total{status="already_registered"} 1`))
}
