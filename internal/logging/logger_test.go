package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLogger(LogConfig{Level: "info", Format: "text", Output: buf})

	l.Component("kernel").Info("task created", "task", 3)
	l.Debug("hidden")

	out := buf.String()
	require.Contains(t, out, "task created")
	require.Contains(t, out, "component=kernel")
	require.Contains(t, out, "task=3")
	require.NotContains(t, out, "hidden")
}

func TestNewLoggerJSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewLogger(LogConfig{Level: "debug", Format: "json", Output: buf})

	l.Debug("dispatch", "prio", 2)

	require.True(t, strings.HasPrefix(buf.String(), "{"), "expected json output, got %q", buf.String())
	require.Contains(t, buf.String(), `"prio":2`)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l)
	l.Error("discarded") // must not panic
}
