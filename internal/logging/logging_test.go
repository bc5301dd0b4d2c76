package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("warn", "json", &buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "alias", "client-1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"alias":"client-1"`)

	buf.Reset()
	l, err = New("debug", "text", &buf)
	require.NoError(t, err)
	l.Debug("details", "n", 1)
	assert.Contains(t, buf.String(), "msg=details n=1")

	_, err = New("info", "xml", &buf)
	assert.Error(t, err)
	_, err = New("loud", "text", &buf)
	assert.Error(t, err)
}
