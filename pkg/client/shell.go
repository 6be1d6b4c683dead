package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/receiver"
)

const shellBufferSize = 16 * 1024

type shellOptions struct {
	firstOutputTimeout time.Duration
}

// ShellOption configures ExecuteRemoteCommand
type ShellOption func(*shellOptions)

// WithFirstOutputTimeout fails the command with ShellUnresponsive if no output arrives within d
func WithFirstOutputTimeout(d time.Duration) ShellOption {
	return func(o *shellOptions) {
		o.firstOutputTimeout = d
	}
}

// shellFailurePhrases maps device diagnostics to error kinds. Devices and
// Android versions vary their wording; this table is the only place that
// knows the phrases.
var shellFailurePhrases = []struct {
	phrase string
	kind   adberrors.Kind
}{
	{"permission denied", adberrors.KindPermissionDenied},
	{"operation not permitted", adberrors.KindPermissionDenied},
	{"no such file or directory", adberrors.KindFileNotFound},
	{"unknown option", adberrors.KindUnknownOption},
	{"invalid option", adberrors.KindUnknownOption},
	{"unrecognized option", adberrors.KindUnknownOption},
}

// ClassifyShellFailure maps a shell diagnostic to an error of the matching kind.
// Anything unrecognised is CommandRejected.
func ClassifyShellFailure(command, diagnostic string) *adberrors.AdbError {
	lower := strings.ToLower(diagnostic)
	for _, p := range shellFailurePhrases {
		if strings.Contains(lower, p.phrase) {
			return adberrors.NewError(p.kind, "FAIL", diagnostic).WithContext("command", command)
		}
	}
	return adberrors.NewCommandRejectedError(command, diagnostic)
}

// ExecuteRemoteCommand runs command on serial and streams its output into rcv.
// The receiver is flushed once the stream ends or rcv reports it is canceled.
func (c *Client) ExecuteRemoteCommand(ctx context.Context, command, serial string, rcv receiver.Receiver, opts ...ShellOption) (err error) {
	defer func() { c.metrics.ShellCommand(err) }()

	var o shellOptions
	for _, opt := range opts {
		opt(&o)
	}
	if rcv == nil {
		rcv = receiver.NullReceiver{}
	}

	t, err := c.openTransport(ctx, serial)
	if err != nil {
		return err
	}
	defer t.Close()
	stop := t.watch(ctx)
	defer stop()

	request := "shell:" + command
	if err := t.SendRequest(request); err != nil {
		return ctxErr(ctx, err)
	}
	ok, diag, err := t.readResult()
	if err != nil {
		return ctxErr(ctx, err)
	}
	if !ok {
		return ClassifyShellFailure(command, diag)
	}

	if o.firstOutputTimeout > 0 {
		if err := t.SetReadDeadline(time.Now().Add(o.firstOutputTimeout)); err != nil {
			return adberrors.NewIOError(err, "set deadline")
		}
	}

	buf := make([]byte, shellBufferSize)
	received := false
	for {
		n, rerr := t.Read(buf)
		if n > 0 {
			if !received && o.firstOutputTimeout > 0 {
				_ = t.SetReadDeadline(time.Time{})
			}
			received = true
			rcv.AddOutput(buf[:n])
		}
		if rcv.IsCanceled() {
			break
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !received && isTimeout(rerr) {
			return adberrors.NewShellUnresponsiveError(command, o.firstOutputTimeout)
		}
		return adberrors.NewIOError(rerr, "shell read failed")
	}

	rcv.Flush()
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
