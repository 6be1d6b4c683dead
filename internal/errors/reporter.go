package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// ErrorReport is a diagnostic snapshot written when a command fails
type ErrorReport struct {
	Timestamp   time.Time            `json:"timestamp"`
	Error       *AdbError            `json:"error"`
	Cause       string               `json:"cause,omitempty"`
	Environment *EnvironmentInfo     `json:"environment"`
	Context     *OperationContext    `json:"context"`
	Suggestions []RecoverySuggestion `json:"suggestions"`
}

// EnvironmentInfo contains information about the runtime environment
type EnvironmentInfo struct {
	OS            string `json:"os"`
	Architecture  string `json:"architecture"`
	GoVersion     string `json:"go_version"`
	ToolVersion   string `json:"tool_version"`
	WorkingDir    string `json:"working_dir"`
	ServerAddress string `json:"server_address"`
}

// OperationContext describes the command that failed
type OperationContext struct {
	Command   string            `json:"command"`
	Arguments []string          `json:"arguments"`
	Flags     map[string]string `json:"flags"`
	Serial    string            `json:"serial,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// RecoverySuggestion represents a suggested recovery action
type RecoverySuggestion struct {
	Priority    int    `json:"priority"` // 1 = high, 2 = medium, 3 = low
	Action      string `json:"action"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description"`
}

// ErrorReporter builds and persists error reports
type ErrorReporter struct {
	reportDir     string
	toolVersion   string
	serverAddress string
	logger        Logger
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter(reportDir, toolVersion, serverAddress string, logger Logger) *ErrorReporter {
	return &ErrorReporter{
		reportDir:     reportDir,
		toolVersion:   toolVersion,
		serverAddress: serverAddress,
		logger:        logger,
	}
}

// GenerateReport generates a report for err
func (er *ErrorReporter) GenerateReport(err *AdbError, ctx *OperationContext) *ErrorReport {
	report := &ErrorReport{
		Timestamp:   time.Now(),
		Error:       err,
		Environment: er.gatherEnvironmentInfo(),
		Context:     ctx,
	}
	if err.Cause != nil {
		report.Cause = err.Cause.Error()
	}
	report.Suggestions = er.generateRecoverySuggestions(err)
	return report
}

// SaveReport saves an error report to disk and returns its path
func (er *ErrorReporter) SaveReport(report *ErrorReport) (string, error) {
	if err := os.MkdirAll(er.reportDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	timestamp := report.Timestamp.Format("20060102_150405")
	name := fmt.Sprintf("error_report_%s_%s.json", timestamp, report.Error.Kind.String())
	path := filepath.Join(er.reportDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	if er.logger != nil {
		er.logger.Debug("Error report written to %s", path)
	}
	return path, nil
}

// DisplayReport writes a human readable report to w
func (er *ErrorReporter) DisplayReport(w io.Writer, report *ErrorReport) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Time:    %s\n", report.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Kind:    %s\n", report.Error.Kind.String())
	fmt.Fprintf(w, "Code:    %s\n", report.Error.Code)
	fmt.Fprintf(w, "Message: %s\n", report.Error.Message)
	if report.Cause != "" {
		fmt.Fprintf(w, "Cause:   %s\n", report.Cause)
	}

	if report.Context != nil {
		fmt.Fprintf(w, "\nCommand: %s %s\n", report.Context.Command, strings.Join(report.Context.Arguments, " "))
		if report.Context.Serial != "" {
			fmt.Fprintf(w, "Device:  %s\n", report.Context.Serial)
		}
	}

	if len(report.Suggestions) > 0 {
		sorted := make([]RecoverySuggestion, len(report.Suggestions))
		copy(sorted, report.Suggestions)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

		fmt.Fprintln(w, "\nRecovery suggestions:")
		for i, s := range sorted {
			fmt.Fprintf(w, "%d. %s\n", i+1, s.Action)
			if s.Description != "" {
				fmt.Fprintf(w, "   %s\n", s.Description)
			}
			if s.Command != "" {
				fmt.Fprintf(w, "   $ %s\n", s.Command)
			}
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 60))
}

func (er *ErrorReporter) gatherEnvironmentInfo() *EnvironmentInfo {
	info := &EnvironmentInfo{
		OS:            runtime.GOOS,
		Architecture:  runtime.GOARCH,
		GoVersion:     runtime.Version(),
		ToolVersion:   er.toolVersion,
		ServerAddress: er.serverAddress,
	}
	if wd, err := os.Getwd(); err == nil {
		info.WorkingDir = wd
	}
	return info
}

func (er *ErrorReporter) generateRecoverySuggestions(err *AdbError) []RecoverySuggestion {
	var suggestions []RecoverySuggestion

	switch err.Kind {
	case KindConnection:
		suggestions = append(suggestions, RecoverySuggestion{
			Priority:    1,
			Action:      "Start the adb server",
			Command:     "adb start-server",
			Description: "The client talks to a running adb host daemon; it does not spawn one",
		})
	case KindDeviceNotFound:
		suggestions = append(suggestions, RecoverySuggestion{
			Priority:    1,
			Action:      "List connected devices",
			Command:     "adbkit devices",
			Description: "Verify the serial is known to the adb server and is online",
		})
	case KindProtocol, KindUnexpectedEndOfStream:
		suggestions = append(suggestions, RecoverySuggestion{
			Priority:    1,
			Action:      "Restart the adb server",
			Command:     "adb kill-server && adb start-server",
			Description: "A malformed frame usually means a version mismatch or a dropped connection",
		})
	case KindShellUnresponsive:
		suggestions = append(suggestions, RecoverySuggestion{
			Priority:    2,
			Action:      "Increase the first-output timeout",
			Description: "Set shell.first_output_timeout in adbkit.yaml",
		})
	case KindConfiguration:
		suggestions = append(suggestions, RecoverySuggestion{
			Priority:    1,
			Action:      "Regenerate the configuration file",
			Command:     "adbkit config init --force",
			Description: "Values from adbkit.yaml or ADBKIT_* variables could not be used",
		})
	case KindUsage:
		suggestions = append(suggestions, RecoverySuggestion{
			Priority: 1,
			Action:   "Check the command arguments with --help",
		})
	case KindPackageInstallation:
		for _, s := range err.Suggestions {
			suggestions = append(suggestions, RecoverySuggestion{Priority: 1, Action: s})
		}
	}

	suggestions = append(suggestions, RecoverySuggestion{
		Priority:    3,
		Action:      "Run diagnostics",
		Command:     "adbkit doctor",
		Description: "Check server reachability and device state",
	})

	return suggestions
}
