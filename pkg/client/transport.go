package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/utils"
	"github.com/huanfeng/adbkit/pkg/wire"
)

// Dialer opens connections to the adb server
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Transport is one connection to the adb server. It carries a single
// logical session and must be closed by whoever opened it.
type Transport struct {
	conn    net.Conn
	r       *bufio.Reader
	address string
	logger  utils.Logger

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the adb server at address
func Dial(ctx context.Context, dialer Dialer, address string, logger utils.Logger) (*Transport, error) {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, adberrors.NewConnectionError(err, address)
	}
	return newTransport(conn, address, logger), nil
}

func newTransport(conn net.Conn, address string, logger utils.Logger) *Transport {
	return &Transport{
		conn:    conn,
		r:       bufio.NewReader(conn),
		address: address,
		logger:  logger,
	}
}

// SendRequest sends one host protocol request
func (t *Transport) SendRequest(payload string) error {
	frame, err := wire.EncodeHostRequest(payload)
	if err != nil {
		return err
	}
	t.logger.Debug("adb > %s", payload)
	return wire.WriteFully(t.conn, frame)
}

// ReadStatus reads an OKAY/FAIL word
func (t *Transport) ReadStatus() (wire.Status, error) {
	return wire.ReadStatus(t.r)
}

// ReadFailDiagnostic reads the message that follows FAIL
func (t *Transport) ReadFailDiagnostic() (string, error) {
	return wire.ReadFailMessage(t.r)
}

// readResult reads a status and, on FAIL, its diagnostic
func (t *Transport) readResult() (ok bool, diag string, err error) {
	status, err := t.ReadStatus()
	if err != nil {
		return false, "", err
	}
	if status == wire.StatusOkay {
		return true, "", nil
	}
	diag, err = t.ReadFailDiagnostic()
	if err != nil {
		return false, "", err
	}
	t.logger.Debug("adb < FAIL %s", diag)
	return false, diag, nil
}

// VerifyResponse expects OKAY; FAIL becomes a CommandRejected error carrying the diagnostic
func (t *Transport) VerifyResponse(request string) error {
	ok, diag, err := t.readResult()
	if err != nil {
		return err
	}
	if !ok {
		return adberrors.NewCommandRejectedError(request, diag)
	}
	return nil
}

// ReadExactly reads n bytes
func (t *Transport) ReadExactly(n int) ([]byte, error) {
	return wire.ReadExactly(t.r, n)
}

// ReadLengthPrefixed reads a hex length and that many bytes
func (t *Transport) ReadLengthPrefixed() ([]byte, error) {
	return wire.ReadLengthPrefixed(t.r)
}

// ReadLine reads up to and including '\n' and returns the line without its terminator.
// The last line of a stream may lack a terminator; io.EOF is returned only when nothing was read.
func (t *Transport) ReadLine() (string, error) {
	line, err := t.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil && err != io.EOF {
		return line, adberrors.NewIOError(err, "read failed")
	}
	return strings.TrimRight(line, "\r\n"), err
}

// ReadToEnd reads until the server closes the connection
func (t *Transport) ReadToEnd() ([]byte, error) {
	b, err := io.ReadAll(t.r)
	if err != nil {
		return b, adberrors.NewIOError(err, "read failed")
	}
	return b, nil
}

// Read reads raw bytes
func (t *Transport) Read(p []byte) (int, error) {
	return t.r.Read(p)
}

// Write writes raw bytes
func (t *Transport) Write(p []byte) (int, error) {
	if err := wire.WriteFully(t.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadDeadline sets the deadline for future reads; the zero time clears it
func (t *Transport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

// Close closes the connection; later calls return the first result
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// watch unblocks pending I/O when ctx is done. The returned func stops watching.
func (t *Transport) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = t.conn.SetDeadline(time.Unix(1, 0))
	})
}

// ctxErr prefers the context error over the I/O error it caused
func ctxErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
