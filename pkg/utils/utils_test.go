package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: LogFormatText, Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.WithField("serial", "emulator-5554").Warn("device %s", "offline")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "device offline")
	assert.Contains(t, out, "serial=emulator-5554")
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: LogFormatJSON, Output: &buf})
	require.NoError(t, err)

	logger.Debug("100% done")
	assert.Contains(t, buf.String(), `"msg":"100% done"`)
}

func TestLoggerCompactFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: LogFormatCompact, Output: &buf})
	require.NoError(t, err)

	logger.Error("boom")
	assert.True(t, strings.HasPrefix(buf.String(), "E "))
	assert.Contains(t, buf.String(), "boom")
}

func TestParseLogLevelAndFormat(t *testing.T) {
	lvl, err := ParseLogLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarn, lvl)

	_, err = ParseLogLevel("verbose")
	assert.Error(t, err)

	f, err := ParseLogFormat("json")
	require.NoError(t, err)
	assert.Equal(t, LogFormatJSON, f)
}

func TestGlobalLogger(t *testing.T) {
	old := globalLogger
	t.Cleanup(func() { globalLogger = old })

	var buf bytes.Buffer
	require.NoError(t, InitGlobalLogger(&LoggerConfig{Level: LogLevelInfo, Format: LogFormatText, Output: &buf}))
	GetGlobalLogger().Info("server %s", "started")
	assert.Contains(t, buf.String(), "server started")

	globalLogger = nil
	assert.NotNil(t, GetGlobalLogger())
}

func TestTransferProgress(t *testing.T) {
	var buf bytes.Buffer
	tp := NewTransferProgress(&buf)
	tp.Start(100)
	tp.StartSubTask("/sdcard/a.txt")
	tp.Advance(50)
	assert.False(t, tp.IsCanceled())
	tp.Cancel()
	assert.True(t, tp.IsCanceled())
	tp.Stop()

	assert.Equal(t, int64(1), tp.Files())
	assert.Contains(t, buf.String(), "50.0%")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "2.0 MiB", FormatBytes(2*1024*1024))
}
