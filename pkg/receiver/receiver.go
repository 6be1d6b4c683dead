// Package receiver turns raw shell output into lines and lines into
// structured values. Every parser is a LineFunc plugged into the shared
// LineReceiver engine; malformed lines are skipped and logged, never returned
// as errors.
package receiver

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/huanfeng/adbkit/pkg/utils"
	"golang.org/x/text/encoding/charmap"
)

// Receiver consumes the output stream of one shell command.
type Receiver interface {
	AddOutput(data []byte)
	Flush()
	IsCanceled() bool
}

// LineFunc handles one decoded line without its terminator.
type LineFunc func(line string)

// Option configures a LineReceiver
type Option func(*LineReceiver)

// WithLogger sets the logger used for skipped lines
func WithLogger(logger utils.Logger) Option {
	return func(r *LineReceiver) {
		r.logger = logger
	}
}

// WithDone registers a hook run once after the final line is delivered
func WithDone(fn func()) Option {
	return func(r *LineReceiver) {
		r.onDone = fn
	}
}

// LineReceiver buffers output, splits it on '\n', strips a trailing '\r' and
// delivers each line to a LineFunc. A trailing partial line is held until
// more output arrives or Flush is called. Lines are decoded as UTF-8; a line
// that is not valid UTF-8 is decoded as ISO-8859-1.
type LineReceiver struct {
	mu       sync.Mutex
	pending  []byte
	onLine   LineFunc
	onDone   func()
	flushed  bool
	canceled atomic.Bool
	logger   utils.Logger
}

// NewLineReceiver creates an engine delivering lines to fn
func NewLineReceiver(fn LineFunc, opts ...Option) *LineReceiver {
	r := &LineReceiver{onLine: fn}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = utils.GetGlobalLogger()
	}
	return r
}

// AddOutput appends a chunk of raw output
func (r *LineReceiver) AddOutput(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed || len(data) == 0 {
		return
	}

	r.pending = append(r.pending, data...)
	for {
		i := bytes.IndexByte(r.pending, '\n')
		if i < 0 {
			break
		}
		line := r.pending[:i]
		r.pending = r.pending[i+1:]
		r.deliver(line)
		if r.canceled.Load() {
			r.pending = nil
			return
		}
	}
	if len(r.pending) == 0 {
		r.pending = nil
	}
}

// Flush delivers any partial line and runs the done hook. Only the first call has an effect.
func (r *LineReceiver) Flush() {
	r.mu.Lock()
	if r.flushed {
		r.mu.Unlock()
		return
	}
	r.flushed = true
	if len(r.pending) > 0 && !r.canceled.Load() {
		r.deliver(r.pending)
	}
	r.pending = nil
	done := r.onDone
	r.mu.Unlock()

	if done != nil {
		done()
	}
}

// IsCanceled reports whether Cancel was called
func (r *LineReceiver) IsCanceled() bool {
	return r.canceled.Load()
}

// Cancel asks the producer to stop streaming output
func (r *LineReceiver) Cancel() {
	r.canceled.Store(true)
}

// Logger returns the logger parsers should use for skipped lines
func (r *LineReceiver) Logger() utils.Logger {
	return r.logger
}

func (r *LineReceiver) deliver(raw []byte) {
	raw = bytes.TrimSuffix(raw, []byte{'\r'})
	if r.onLine != nil {
		r.onLine(DecodeLine(raw))
	}
}

// DecodeLine decodes raw as UTF-8, or as ISO-8859-1 if it is not valid UTF-8.
func DecodeLine(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(out)
}

// NullReceiver discards all output
type NullReceiver struct{}

func (NullReceiver) AddOutput([]byte) {}
func (NullReceiver) Flush()           {}
func (NullReceiver) IsCanceled() bool { return false }

// CollectingReceiver keeps the whole output
type CollectingReceiver struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	canceled atomic.Bool
}

// NewCollectingReceiver creates an empty collector
func NewCollectingReceiver() *CollectingReceiver {
	return &CollectingReceiver{}
}

func (r *CollectingReceiver) AddOutput(data []byte) {
	r.mu.Lock()
	r.buf.Write(data)
	r.mu.Unlock()
}

func (r *CollectingReceiver) Flush() {}

func (r *CollectingReceiver) IsCanceled() bool { return r.canceled.Load() }

// Cancel stops the stream
func (r *CollectingReceiver) Cancel() { r.canceled.Store(true) }

// Output returns everything received so far, decoded
func (r *CollectingReceiver) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return DecodeLine(r.buf.Bytes())
}

// LinesReceiver keeps every line
type LinesReceiver struct {
	*LineReceiver
	mu    sync.Mutex
	lines []string
}

// NewLinesReceiver creates a line collector
func NewLinesReceiver(opts ...Option) *LinesReceiver {
	r := &LinesReceiver{}
	r.LineReceiver = NewLineReceiver(r.add, opts...)
	return r
}

func (r *LinesReceiver) add(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

// Lines returns a copy of the collected lines
func (r *LinesReceiver) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
