package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind classifies an adb failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindProtocol
	KindIO
	KindConnection
	KindDeviceNotFound
	KindCommandRejected
	KindPermissionDenied
	KindFileNotFound
	KindUnknownOption
	KindShellUnresponsive
	KindSync
	KindPackageInstallation
	KindUnexpectedEndOfStream
	KindConfiguration
	KindUsage
)

// String returns the string representation of the error kind
func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "PROTOCOL"
	case KindIO:
		return "IO"
	case KindConnection:
		return "CONNECTION"
	case KindDeviceNotFound:
		return "DEVICE_NOT_FOUND"
	case KindCommandRejected:
		return "COMMAND_REJECTED"
	case KindPermissionDenied:
		return "PERMISSION_DENIED"
	case KindFileNotFound:
		return "FILE_NOT_FOUND"
	case KindUnknownOption:
		return "UNKNOWN_OPTION"
	case KindShellUnresponsive:
		return "SHELL_UNRESPONSIVE"
	case KindSync:
		return "SYNC"
	case KindPackageInstallation:
		return "PACKAGE_INSTALLATION"
	case KindUnexpectedEndOfStream:
		return "UNEXPECTED_EOS"
	case KindConfiguration:
		return "CONFIGURATION"
	case KindUsage:
		return "USAGE"
	default:
		return "UNKNOWN"
	}
}

// Sentinels for errors.Is matching on kind alone.
var (
	ErrProtocol              = &AdbError{Kind: KindProtocol}
	ErrIO                    = &AdbError{Kind: KindIO}
	ErrConnection            = &AdbError{Kind: KindConnection}
	ErrDeviceNotFound        = &AdbError{Kind: KindDeviceNotFound}
	ErrCommandRejected       = &AdbError{Kind: KindCommandRejected}
	ErrPermissionDenied      = &AdbError{Kind: KindPermissionDenied}
	ErrFileNotFound          = &AdbError{Kind: KindFileNotFound}
	ErrUnknownOption         = &AdbError{Kind: KindUnknownOption}
	ErrShellUnresponsive     = &AdbError{Kind: KindShellUnresponsive}
	ErrSync                  = &AdbError{Kind: KindSync}
	ErrPackageInstallation   = &AdbError{Kind: KindPackageInstallation}
	ErrUnexpectedEndOfStream = &AdbError{Kind: KindUnexpectedEndOfStream}
	ErrConfiguration         = &AdbError{Kind: KindConfiguration}
	ErrUsage                 = &AdbError{Kind: KindUsage}
)

// AdbError is an adb failure with its kind, context and recovery suggestions
type AdbError struct {
	Kind        Kind              `json:"kind"`
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Cause       error             `json:"-"`
	Context     map[string]string `json:"context,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Stack       []string          `json:"stack,omitempty"`
	Retryable   bool              `json:"retryable"`
}

// Error implements the error interface
func (e *AdbError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(e.Kind.String(), "_", " "))
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AdbError) Unwrap() error {
	return e.Cause
}

// Is matches another AdbError of the same kind. An empty target code matches any code.
func (e *AdbError) Is(target error) bool {
	t, ok := target.(*AdbError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithContext adds context to the error
func (e *AdbError) WithContext(key, value string) *AdbError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion to the error
func (e *AdbError) WithSuggestion(suggestion string) *AdbError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *AdbError) WithSuggestions(suggestions []string) *AdbError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// SetRetryable marks the error as retryable or not
func (e *AdbError) SetRetryable(retryable bool) *AdbError {
	e.Retryable = retryable
	return e
}

// FormatDetailed returns a detailed error message with context and suggestions
func (e *AdbError) FormatDetailed() string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("%s error [%s]: %s\n", e.Kind.String(), e.Code, e.Message))

	if len(e.Context) > 0 {
		builder.WriteString("\nContext:\n")
		for key, value := range e.Context {
			builder.WriteString(fmt.Sprintf("   %s: %s\n", key, value))
		}
	}

	if e.Cause != nil {
		builder.WriteString(fmt.Sprintf("\nUnderlying cause: %v\n", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		builder.WriteString("\nSuggestions:\n")
		for _, suggestion := range e.Suggestions {
			builder.WriteString(fmt.Sprintf("   • %s\n", suggestion))
		}
	}

	if e.Retryable {
		builder.WriteString("\nThis operation can be retried\n")
	}

	return builder.String()
}

// NewError creates a new AdbError
func NewError(kind Kind, code, message string) *AdbError {
	return &AdbError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Stack:     captureStack(),
	}
}

// WrapError wraps an existing error with AdbError
func WrapError(err error, kind Kind, code, message string) *AdbError {
	e := NewError(kind, code, message)
	e.Cause = err
	return e
}

// Errorf creates an AdbError with a formatted message.
func Errorf(kind Kind, code, format string, args ...interface{}) *AdbError {
	return NewError(kind, code, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first AdbError in err's chain.
func KindOf(err error) Kind {
	var adbErr *AdbError
	if stderrors.As(err, &adbErr) {
		return adbErr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// captureStack captures the current stack trace
func captureStack() []string {
	var stack []string

	for i := 3; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		if strings.Contains(file, "adbkit") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

// Common error constructors

// NewProtocolError creates a protocol error
func NewProtocolError(code, message string) *AdbError {
	return NewError(KindProtocol, code, message)
}

// NewIOError creates a stream error
func NewIOError(err error, message string) *AdbError {
	return WrapError(err, KindIO, "IO", message).SetRetryable(true)
}

// NewUnexpectedEOSError reports a stream that ended before a frame was complete
func NewUnexpectedEOSError(want, got int) *AdbError {
	return Errorf(KindUnexpectedEndOfStream, "SHORT_READ",
		"unexpected end of stream: wanted %d bytes, got %d", want, got)
}

// NewConnectionError creates a connection error
func NewConnectionError(err error, address string) *AdbError {
	return WrapError(err, KindConnection, "DIAL", fmt.Sprintf("cannot reach adb server at %s", address)).
		WithContext("address", address).
		SetRetryable(true).
		WithSuggestions([]string{
			"Check that the adb server is running ('adb start-server')",
			"Verify the configured host and port",
		})
}

// NewDeviceNotFoundError creates a device error
func NewDeviceNotFoundError(serial, diagnostic string) *AdbError {
	return NewError(KindDeviceNotFound, "TRANSPORT", diagnostic).
		WithContext("serial", serial).
		WithSuggestions([]string{
			"Check device connection",
			"Enable USB debugging",
			"Authorize this computer on the device",
		})
}

// NewCommandRejectedError creates a rejected command error
func NewCommandRejectedError(command, diagnostic string) *AdbError {
	return NewError(KindCommandRejected, "FAIL", diagnostic).
		WithContext("command", command)
}

// NewSyncError creates a sync channel error
func NewSyncError(code, diagnostic string) *AdbError {
	return NewError(KindSync, code, diagnostic)
}

// NewShellUnresponsiveError creates a timeout error
func NewShellUnresponsiveError(command string, timeout time.Duration) *AdbError {
	return Errorf(KindShellUnresponsive, "TIMEOUT", "no output from '%s' within %s", command, timeout).
		WithContext("command", command).
		SetRetryable(true).
		WithSuggestion("Increase shell.first_output_timeout")
}

// NewPackageInstallationError creates an install failure
func NewPackageInstallationError(code, message string) *AdbError {
	return NewError(KindPackageInstallation, code, message)
}

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger Logger
	stats  *ErrorStats
}

// Logger interface for error logging
type Logger interface {
	Error(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ErrorStats tracks error statistics
type ErrorStats struct {
	TotalErrors   int            `json:"total_errors"`
	ErrorsByKind  map[Kind]int   `json:"errors_by_kind"`
	ErrorsByCode  map[string]int `json:"errors_by_code"`
	LastError     *AdbError      `json:"last_error,omitempty"`
	LastErrorTime time.Time      `json:"last_error_time"`
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
		stats: &ErrorStats{
			ErrorsByKind: make(map[Kind]int),
			ErrorsByCode: make(map[string]int),
		},
	}
}

// Handle handles an error with logging and statistics
func (eh *ErrorHandler) Handle(err error) {
	if err == nil {
		return
	}

	adbErr := eh.convert(err)
	eh.updateStats(adbErr)

	if eh.logger != nil {
		eh.logger.Error("Error occurred: %s [%s] %s", adbErr.Kind.String(), adbErr.Code, adbErr.Error())
		for key, value := range adbErr.Context {
			eh.logger.Debug("Error context: %s = %s", key, value)
		}
	}
}

// HandleWithRecovery handles an error and provides recovery suggestions
func (eh *ErrorHandler) HandleWithRecovery(err error) *AdbError {
	if err == nil {
		return nil
	}

	adbErr := eh.convert(err)
	eh.addRecoverySuggestions(adbErr)
	eh.Handle(adbErr)

	return adbErr
}

func (eh *ErrorHandler) convert(err error) *AdbError {
	var adbErr *AdbError
	if stderrors.As(err, &adbErr) {
		return adbErr
	}
	return WrapError(err, KindUnknown, "UNKNOWN", "operation failed")
}

// updateStats updates error statistics
func (eh *ErrorHandler) updateStats(err *AdbError) {
	eh.stats.TotalErrors++
	eh.stats.ErrorsByKind[err.Kind]++
	eh.stats.ErrorsByCode[err.Code]++
	eh.stats.LastError = err
	eh.stats.LastErrorTime = time.Now()
}

// addRecoverySuggestions adds recovery suggestions based on error patterns
func (eh *ErrorHandler) addRecoverySuggestions(err *AdbError) {
	msg := strings.ToLower(err.Error())
	switch err.Kind {
	case KindConnection:
		if strings.Contains(msg, "connection refused") {
			err.WithSuggestion("Start the server with 'adb start-server'")
		}
	case KindPermissionDenied:
		err.WithSuggestion("Retry against a path the shell user can access, or use a rooted device")
	case KindFileNotFound:
		err.WithSuggestion("Check the remote path with 'adbkit ls'")
	case KindDeviceNotFound:
		if strings.Contains(msg, "unauthorized") {
			err.WithSuggestion("Accept the RSA key prompt on the device")
		}
	case KindConfiguration:
		err.WithSuggestion("Check adbkit.yaml and ADBKIT_* environment variables")
	case KindUsage:
		err.WithSuggestion("Run the command with --help for its arguments")
	}
}

// GetStats returns error statistics
func (eh *ErrorHandler) GetStats() *ErrorStats {
	return eh.stats
}

// Reset resets error statistics
func (eh *ErrorHandler) Reset() {
	eh.stats = &ErrorStats{
		ErrorsByKind: make(map[Kind]int),
		ErrorsByCode: make(map[string]int),
	}
}

var globalErrorHandler *ErrorHandler

// InitGlobalErrorHandler initializes the global error handler
func InitGlobalErrorHandler(logger Logger) {
	globalErrorHandler = NewErrorHandler(logger)
}

// globalHandler returns the handler set by InitGlobalErrorHandler, or a silent one
func globalHandler() *ErrorHandler {
	if globalErrorHandler == nil {
		globalErrorHandler = NewErrorHandler(nil)
	}
	return globalErrorHandler
}

// HandleWithRecovery handles an error with recovery using the global error handler
func HandleWithRecovery(err error) *AdbError {
	return globalHandler().HandleWithRecovery(err)
}
