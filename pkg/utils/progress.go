package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressBar represents a progress bar
type ProgressBar struct {
	mu          sync.Mutex
	out         io.Writer
	total       int64
	current     int64
	description string
	startTime   time.Time
	width       int
	showETA     bool
}

// NewProgressBar creates a new progress bar writing to stderr
func NewProgressBar(total int64, description string) *ProgressBar {
	return NewProgressBarTo(os.Stderr, total, description)
}

// NewProgressBarTo creates a progress bar writing to out
func NewProgressBarTo(out io.Writer, total int64, description string) *ProgressBar {
	return &ProgressBar{
		out:         out,
		total:       total,
		description: description,
		startTime:   time.Now(),
		width:       40,
		showETA:     true,
	}
}

// SetTotal changes the total
func (pb *ProgressBar) SetTotal(total int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.total = total
	pb.startTime = time.Now()
	pb.render()
}

// Update updates the progress bar
func (pb *ProgressBar) Update(current int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current = current
	pb.render()
}

// Add advances the progress by n
func (pb *ProgressBar) Add(n int64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current += n
	pb.render()
}

// SetDescription updates the description
func (pb *ProgressBar) SetDescription(desc string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.description = desc
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.current > pb.total {
		pb.total = pb.current
	}
	pb.render()
	fmt.Fprintln(pb.out)
}

// render must be called with mu held
func (pb *ProgressBar) render() {
	if pb.total <= 0 {
		return
	}

	current := pb.current
	if current > pb.total {
		current = pb.total
	}
	percentage := float64(current) / float64(pb.total) * 100
	filled := int(float64(pb.width) * float64(current) / float64(pb.total))

	bar := strings.Repeat("#", filled) + strings.Repeat("-", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta string
	if pb.showETA && current > 0 {
		totalTime := time.Duration(float64(elapsed) * float64(pb.total) / float64(current))
		remaining := totalTime - elapsed
		if remaining > 0 {
			eta = fmt.Sprintf(" ETA: %v", remaining.Round(time.Second))
		}
	}

	desc := pb.description
	if len(desc) > 30 {
		desc = "..." + desc[len(desc)-27:]
	}

	fmt.Fprintf(pb.out, "\r%-30s [%s] %5.1f%% (%s/%s)%s",
		desc, bar, percentage, FormatBytes(current), FormatBytes(pb.total), eta)
}

// TransferProgress tracks a multi-file transfer and drives a ProgressBar.
// It satisfies the sync progress monitor contract so it can be passed to
// tree transfers; Cancel may be called from another goroutine.
type TransferProgress struct {
	bar      *ProgressBar
	canceled atomic.Bool
	files    atomic.Int64
}

// NewTransferProgress creates a tracker rendering to out. A nil out disables rendering.
func NewTransferProgress(out io.Writer) *TransferProgress {
	tp := &TransferProgress{}
	if out != nil {
		tp.bar = NewProgressBarTo(out, 0, "")
	}
	return tp
}

// Start records the total work
func (tp *TransferProgress) Start(total int64) {
	if tp.bar != nil {
		tp.bar.SetTotal(total)
	}
}

// StartSubTask records the file currently being transferred
func (tp *TransferProgress) StartSubTask(name string) {
	tp.files.Add(1)
	if tp.bar != nil {
		tp.bar.SetDescription(name)
	}
}

// Advance records n units of completed work
func (tp *TransferProgress) Advance(n int64) {
	if tp.bar != nil {
		tp.bar.Add(n)
	}
}

// IsCanceled reports whether Cancel was called
func (tp *TransferProgress) IsCanceled() bool {
	return tp.canceled.Load()
}

// Cancel requests the transfer to stop at the next file or chunk boundary
func (tp *TransferProgress) Cancel() {
	tp.canceled.Store(true)
}

// Stop finishes rendering
func (tp *TransferProgress) Stop() {
	if tp.bar != nil {
		tp.bar.Finish()
	}
}

// Files returns the number of sub tasks started
func (tp *TransferProgress) Files() int64 {
	return tp.files.Load()
}

// FormatBytes renders a byte count with a binary unit suffix
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
