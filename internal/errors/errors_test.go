package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := NewDeviceNotFoundError("abc", "device 'abc' not found")
	wrapped := fmt.Errorf("pull: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrDeviceNotFound))
	assert.False(t, stderrors.Is(wrapped, ErrFileNotFound))
	assert.Equal(t, KindDeviceNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindDeviceNotFound))
	assert.False(t, IsKind(nil, KindDeviceNotFound))
}

func TestIsMatchesCode(t *testing.T) {
	err := NewSyncError("BUSY", "sync operation already in progress")
	assert.True(t, stderrors.Is(err, &AdbError{Kind: KindSync, Code: "BUSY"}))
	assert.False(t, stderrors.Is(err, &AdbError{Kind: KindSync, Code: "FAIL"}))
}

func TestErrorMessage(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewConnectionError(cause, "127.0.0.1:5037")
	assert.Equal(t, "cannot reach adb server at 127.0.0.1:5037: connection refused", err.Error())
	assert.True(t, err.Retryable)
	assert.Equal(t, "127.0.0.1:5037", err.Context["address"])
	assert.Equal(t, cause, stderrors.Unwrap(err))

	assert.Equal(t, "file not found", ErrFileNotFound.Error())
}

func TestFormatDetailed(t *testing.T) {
	err := NewPackageInstallationError("ALREADY_EXISTS", "App already installed").
		WithSuggestion("Use --replace flag to reinstall")
	out := err.FormatDetailed()
	assert.Contains(t, out, "PACKAGE_INSTALLATION error [ALREADY_EXISTS]: App already installed")
	assert.Contains(t, out, "Use --replace flag to reinstall")
}

type recordingLogger struct {
	errors int
}

func (l *recordingLogger) Error(string, ...interface{}) { l.errors++ }
func (l *recordingLogger) Warn(string, ...interface{})  {}
func (l *recordingLogger) Debug(string, ...interface{}) {}

func TestErrorHandlerStats(t *testing.T) {
	logger := &recordingLogger{}
	h := NewErrorHandler(logger)

	h.Handle(nil)
	h.Handle(stderrors.New("plain"))
	adbErr := h.HandleWithRecovery(NewCommandRejectedError("shell:ls", "closed"))

	require.NotNil(t, adbErr)
	stats := h.GetStats()
	assert.Equal(t, 2, stats.TotalErrors)
	assert.Equal(t, 1, stats.ErrorsByKind[KindUnknown])
	assert.Equal(t, 1, stats.ErrorsByKind[KindCommandRejected])
	assert.Equal(t, 2, logger.errors)

	h.Reset()
	assert.Equal(t, 0, h.GetStats().TotalErrors)
}

func TestRecoverySuggestionsForPermission(t *testing.T) {
	h := NewErrorHandler(nil)
	err := h.HandleWithRecovery(NewError(KindPermissionDenied, "FAIL", "ls: /data: Permission denied"))
	assert.NotEmpty(t, err.Suggestions)
}

func TestConfigurationAndUsageKinds(t *testing.T) {
	cfgErr := WrapError(stderrors.New("bad port"), KindConfiguration, "CONFIG_LOAD", "failed to load config")
	usageErr := Errorf(KindUsage, "USAGE", "forward needs <local> <remote>")

	assert.True(t, stderrors.Is(cfgErr, ErrConfiguration))
	assert.False(t, stderrors.Is(cfgErr, ErrUnknownOption))
	assert.True(t, stderrors.Is(usageErr, ErrUsage))
	assert.False(t, stderrors.Is(usageErr, ErrUnknownOption))
	assert.Equal(t, "CONFIGURATION", KindConfiguration.String())
	assert.Equal(t, "USAGE", KindUsage.String())

	h := NewErrorHandler(nil)
	assert.Contains(t, h.HandleWithRecovery(cfgErr).Suggestions, "Check adbkit.yaml and ADBKIT_* environment variables")

	r := NewErrorReporter(t.TempDir(), "test", "127.0.0.1:5037", nil)
	report := r.GenerateReport(cfgErr, &OperationContext{Command: "devices"})
	require.NotEmpty(t, report.Suggestions)
	assert.Equal(t, "adbkit config init --force", report.Suggestions[0].Command)
}

func TestReporterSaveAndDisplay(t *testing.T) {
	dir := t.TempDir()
	r := NewErrorReporter(dir, "test", "127.0.0.1:5037", nil)

	report := r.GenerateReport(NewConnectionError(stderrors.New("refused"), "127.0.0.1:5037"),
		&OperationContext{Command: "devices"})
	require.NotEmpty(t, report.Suggestions)
	assert.Equal(t, "adb start-server", report.Suggestions[0].Command)
	assert.Equal(t, "refused", report.Cause)

	path, err := r.SaveReport(report)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	var buf bytes.Buffer
	r.DisplayReport(&buf, report)
	assert.Contains(t, buf.String(), "CONNECTION")
	assert.Contains(t, buf.String(), "adbkit doctor")
}
