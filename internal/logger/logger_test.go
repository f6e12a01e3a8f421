package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	log.Info("suppressed")
	log.Warn("visible")

	out := buf.String()
	require.NotContains(t, out, "suppressed")
	require.Contains(t, out, "visible")
}

func TestLoggerInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := New(Options{Level: "chatty"})
	require.Error(t, err)
}

func TestLoggerWithTrace(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New(Options{Level: "debug", Writer: &buf})
	require.NoError(t, err)

	log.WithTrace("ab12cd34").Info("fetch started")
	require.Contains(t, buf.String(), `"trace_id":"ab12cd34"`)
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := New(Options{Writer: &buf})
	require.NoError(t, err)

	log.WithFields(map[string]any{"stage": "parse", "count": 2}).Info("done")
	out := buf.String()
	require.Contains(t, out, `"stage":"parse"`)
	require.Contains(t, out, `"count":2`)
}

func TestNilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log *Logger
	log.Info("no panic")
	log.Error(nil, "no panic")
	require.Nil(t, log.WithFields(nil))
}
