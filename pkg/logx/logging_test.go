package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func TestJSONFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "info", Console: true, JSON: true, Out: &buf})
	defer svc.Close()

	log = log.With(String("comp", "sweep"))
	log.Debug("hidden")
	log.Info("sweep done", Int("sent", 2), Err(errors.New("boom")), Err(nil))

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "sweep done", got[0]["message"])
	assert.Equal(t, "sweep", got[0]["comp"])
	assert.EqualValues(t, 2, got[0]["sent"])
	assert.Equal(t, "boom", got[0]["err"])
	assert.Contains(t, got[0]["caller"], "logging_test.go:")
}

func TestApplyChangesLevelForExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	svc, log := New(Config{Level: "warn", JSON: true, Out: &buf})
	defer svc.Close()
	child := log.With(String("comp", "http"))

	child.Info("dropped")
	svc.Apply(Config{Level: "debug", JSON: true, Out: &buf})
	child.Debug("kept")

	got := lines(t, &buf)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0]["message"])
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "educheck.log")
	var console bytes.Buffer
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}, Out: &console})

	log.Info("to file", String("k", "v"))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"k":"v"`)
	assert.Empty(t, console.String(), "console is off when a file sink is active")

	log.Info("after close")
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "after close")
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	assert.False(t, Nop().IsZero())
	assert.False(t, zero.With(String("a", "b")).IsZero())
	zero.Info("ignored")
	Nop().Error("ignored")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		" WARN ":  "warn",
		"warning": "warn",
		"error":   "error",
		"bogus":   "info",
		"":        "info",
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in, zerolog.InfoLevel).String(), in)
	}
}
