package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
)

// LogCaptureOptions defines options for capturing device logs.
type LogCaptureOptions struct {
	PackageID  string // limit to this app's process when it is running
	Level      string // logcat priority V D I W E F S
	OutputPath string // defaults to logs/<serial>-<time>.log
}

// LogCaptureResult describes the outcome of a log capture.
type LogCaptureResult struct {
	Serial     string        `json:"serial"`
	PackageID  string        `json:"package_id,omitempty"`
	OutputPath string        `json:"output_path"`
	Level      string        `json:"level"`
	CapturedAt time.Time     `json:"captured_at"`
	SizeBytes  int64         `json:"size_bytes"`
	Note       string        `json:"note,omitempty"`
	Duration   time.Duration `json:"duration"`
}

var validLogLevels = map[string]struct{}{"V": {}, "D": {}, "I": {}, "W": {}, "E": {}, "F": {}, "S": {}}

// writerReceiver copies raw shell output into a writer
type writerReceiver struct {
	w   io.Writer
	n   atomic.Int64
	err error
}

func (r *writerReceiver) AddOutput(data []byte) {
	if r.err != nil {
		return
	}
	n, err := r.w.Write(data)
	r.n.Add(int64(n))
	r.err = err
}

func (r *writerReceiver) Flush()           {}
func (r *writerReceiver) IsCanceled() bool { return r.err != nil }

// CaptureLogs dumps logcat to a file, limited to one app's pid when it is running
func (d *Device) CaptureLogs(ctx context.Context, opts LogCaptureOptions) (*LogCaptureResult, error) {
	level := strings.ToUpper(strings.TrimSpace(opts.Level))
	if level == "" {
		level = "I"
	}
	if _, ok := validLogLevels[level]; !ok {
		return nil, adberrors.Errorf(adberrors.KindUsage, "LOG_LEVEL", "unsupported log level: %s", level)
	}

	outputPath := opts.OutputPath
	if outputPath == "" {
		timestamp := time.Now().Format("20060102-150405")
		sanitized := strings.ReplaceAll(d.Serial(), ":", "_")
		outputPath = filepath.Join("logs", fmt.Sprintf("%s-%s.log", sanitized, timestamp))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, adberrors.NewIOError(err, "prepare log directory")
	}

	start := time.Now()
	command := "logcat -d"
	note := ""
	if opts.PackageID != "" {
		out, err := d.Output(ctx, "pidof %s", opts.PackageID)
		if err != nil {
			return nil, err
		}
		if pid := strings.TrimSpace(out); pid != "" && !strings.ContainsAny(pid, " \t") {
			command += " --pid " + pid
		} else {
			note = "Process not found, capturing full logcat stream"
		}
	}
	command += " *:" + level

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, adberrors.NewIOError(err, "create "+outputPath)
	}
	rcv := &writerReceiver{w: f}
	err = d.ExecuteShellCommand(ctx, rcv, command)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = adberrors.NewIOError(cerr, "close "+outputPath)
	}
	if err == nil && rcv.err != nil {
		err = adberrors.NewIOError(rcv.err, "write logs")
	}
	if err != nil {
		return nil, err
	}

	return &LogCaptureResult{
		Serial:     d.Serial(),
		PackageID:  opts.PackageID,
		OutputPath: outputPath,
		Level:      level,
		CapturedAt: time.Now(),
		SizeBytes:  rcv.n.Load(),
		Note:       note,
		Duration:   time.Since(start),
	}, nil
}
