package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/internal/metrics"
	"github.com/huanfeng/adbkit/pkg/utils"
	"github.com/huanfeng/adbkit/pkg/wire"
)

// ProgressFunc receives the cumulative number of bytes transferred
type ProgressFunc func(transferred int64)

// SyncProgressMonitor reports multi-file transfer progress and carries the cancel flag
type SyncProgressMonitor interface {
	Start(total int64)
	StartSubTask(name string)
	Advance(n int64)
	IsCanceled() bool
	Stop()
}

// NullProgressMonitor ignores progress and is never canceled
type NullProgressMonitor struct{}

func (NullProgressMonitor) Start(int64)         {}
func (NullProgressMonitor) StartSubTask(string) {}
func (NullProgressMonitor) Advance(int64)       {}
func (NullProgressMonitor) IsCanceled() bool    { return false }
func (NullProgressMonitor) Stop()               {}

// SyncService runs sync sub-protocol operations on one transport. Only one
// operation may run at a time; a concurrent call fails with code BUSY.
type SyncService struct {
	t         *Transport
	serial    string
	logger    utils.Logger
	metrics   *metrics.Metrics
	chunkSize int

	busy   atomic.Bool
	closed atomic.Bool
}

// OpenSync opens a sync channel to serial
func (c *Client) OpenSync(ctx context.Context, serial string) (*SyncService, error) {
	t, err := c.openService(ctx, serial, "sync:")
	if err != nil {
		return nil, err
	}
	chunk := c.chunkSize
	if chunk <= 0 || chunk > wire.SyncMaxChunkSize {
		chunk = wire.SyncMaxChunkSize
	}
	return &SyncService{
		t:         t,
		serial:    serial,
		logger:    c.logger,
		metrics:   c.metrics,
		chunkSize: chunk,
	}, nil
}

// Serial returns the device the channel is bound to
func (s *SyncService) Serial() string {
	return s.serial
}

func (s *SyncService) begin(ctx context.Context) (func(), error) {
	if s.closed.Load() {
		return nil, adberrors.NewSyncError("CLOSED", "sync channel is closed")
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, adberrors.NewSyncError("BUSY", "sync operation already in progress")
	}
	stop := s.t.watch(ctx)
	return func() {
		stop()
		s.busy.Store(false)
	}, nil
}

// fail closes the channel unless err left the stream in step. adbd ends the
// sync service after it sends FAIL, so a FAIL reply closes it too.
func (s *SyncService) fail(ctx context.Context, err error) error {
	err = ctxErr(ctx, err)
	var adbErr *adberrors.AdbError
	if errors.As(err, &adbErr) && adbErr.Kind == adberrors.KindFileNotFound {
		return err
	}
	s.closeTransport()
	return err
}

func (s *SyncService) send(id string, payload []byte) error {
	frame, err := wire.EncodeSyncRequest(id, payload)
	if err != nil {
		return err
	}
	return wire.WriteFully(s.t.conn, frame)
}

func (s *SyncService) readFail(length uint32) error {
	if length > wire.SyncMaxChunkSize {
		return adberrors.Errorf(adberrors.KindProtocol, "TOO_LONG", "FAIL message of %d bytes", length)
	}
	b, err := s.t.ReadExactly(int(length))
	if err != nil {
		return err
	}
	return adberrors.NewSyncError("FAIL", string(b))
}

// Stat returns mode, size and mtime of remote. A missing path is FileNotFound.
func (s *SyncService) Stat(ctx context.Context, remote string) (stat wire.SyncFileStat, err error) {
	done, err := s.begin(ctx)
	if err != nil {
		return stat, err
	}
	defer done()
	defer func() { s.metrics.SyncOperation("stat", err) }()

	if err := s.send(wire.SyncStat, []byte(remote)); err != nil {
		return stat, s.fail(ctx, err)
	}
	b, err := s.t.ReadExactly(4 + wire.SyncStatLength)
	if err != nil {
		return stat, s.fail(ctx, err)
	}
	if id := string(b[:4]); id != wire.SyncStat {
		return stat, s.fail(ctx, adberrors.Errorf(adberrors.KindProtocol, "BAD_SYNC_ID",
			"expected STAT, got %q", id))
	}
	stat, err = wire.DecodeSyncStat(b[4:])
	if err != nil {
		return stat, s.fail(ctx, err)
	}
	if !stat.Exists() {
		return stat, adberrors.NewError(adberrors.KindFileNotFound, "STAT",
			fmt.Sprintf("remote object '%s' does not exist", remote)).WithContext("path", remote)
	}
	return stat, nil
}

// List returns the entries of a remote directory, without "." and ".."
func (s *SyncService) List(ctx context.Context, remote string) (entries []wire.DirEntry, err error) {
	done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	defer func() { s.metrics.SyncOperation("list", err) }()

	if err := s.send(wire.SyncList, []byte(remote)); err != nil {
		return nil, s.fail(ctx, err)
	}
	for {
		idb, err := s.t.ReadExactly(4)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		switch id := string(idb); id {
		case wire.SyncDent:
			e, err := wire.ReadDirEntry(s.t.r)
			if err != nil {
				return nil, s.fail(ctx, err)
			}
			if e.Name != "." && e.Name != ".." {
				entries = append(entries, e)
			}
		case wire.SyncDone:
			if _, err := s.t.ReadExactly(wire.SyncDentLength); err != nil {
				return nil, s.fail(ctx, err)
			}
			return entries, nil
		case wire.SyncFail:
			lb, err := s.t.ReadExactly(4)
			if err != nil {
				return nil, s.fail(ctx, err)
			}
			return nil, s.fail(ctx, s.readFail(leUint32(lb)))
		default:
			return nil, s.fail(ctx, adberrors.Errorf(adberrors.KindProtocol, "BAD_SYNC_ID",
				"unexpected %q in directory listing", id))
		}
	}
}

// Pull copies remote into w and returns the number of bytes written
func (s *SyncService) Pull(ctx context.Context, remote string, w io.Writer, progress ProgressFunc) (total int64, err error) {
	done, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	defer func() {
		s.metrics.SyncOperation("pull", err)
		s.metrics.SyncBytes("pull", total)
	}()

	if err := s.send(wire.SyncRecv, []byte(remote)); err != nil {
		return 0, s.fail(ctx, err)
	}
	for {
		if ctx.Err() != nil {
			return total, s.fail(ctx, ctx.Err())
		}
		id, length, err := wire.DecodeSyncResponse(s.t.r)
		if err != nil {
			return total, s.fail(ctx, err)
		}
		switch id {
		case wire.SyncData:
			if length > wire.SyncMaxChunkSize {
				return total, s.fail(ctx, adberrors.Errorf(adberrors.KindProtocol, "TOO_LONG",
					"DATA chunk of %d bytes", length))
			}
			chunk, err := s.t.ReadExactly(int(length))
			if err != nil {
				return total, s.fail(ctx, err)
			}
			if _, err := w.Write(chunk); err != nil {
				return total, s.fail(ctx, adberrors.NewIOError(err, "write local data"))
			}
			total += int64(length)
			if progress != nil {
				progress(total)
			}
		case wire.SyncDone:
			return total, nil
		case wire.SyncFail:
			return total, s.fail(ctx, s.readFail(length))
		default:
			return total, s.fail(ctx, adberrors.Errorf(adberrors.KindProtocol, "BAD_SYNC_ID",
				"unexpected %q while receiving", id))
		}
	}
}

// Push copies r to remote with the given mode and modification time
func (s *SyncService) Push(ctx context.Context, r io.Reader, remote string, mode os.FileMode, mtime time.Time, progress ProgressFunc) (total int64, err error) {
	done, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer done()
	defer func() {
		s.metrics.SyncOperation("push", err)
		s.metrics.SyncBytes("push", total)
	}()

	spec := remote + "," + strconv.FormatUint(uint64(wire.FromFileMode(mode)), 10)
	if err := s.send(wire.SyncSend, []byte(spec)); err != nil {
		return 0, s.fail(ctx, err)
	}

	buf := make([]byte, s.chunkSize)
	for {
		if ctx.Err() != nil {
			return total, s.fail(ctx, ctx.Err())
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if err := s.send(wire.SyncData, buf[:n]); err != nil {
				return total, s.fail(ctx, err)
			}
			total += int64(n)
			if progress != nil {
				progress(total)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return total, s.fail(ctx, adberrors.NewIOError(rerr, "read local data"))
		}
	}

	doneFrame, err := wire.EncodeSyncHeader(wire.SyncDone, uint32(mtime.Unix()))
	if err != nil {
		return total, s.fail(ctx, err)
	}
	if err := wire.WriteFully(s.t.conn, doneFrame); err != nil {
		return total, s.fail(ctx, err)
	}

	id, length, err := wire.DecodeSyncResponse(s.t.r)
	if err != nil {
		return total, s.fail(ctx, err)
	}
	switch id {
	case wire.SyncOkay:
		return total, nil
	case wire.SyncFail:
		return total, s.fail(ctx, s.readFail(length))
	}
	return total, s.fail(ctx, adberrors.Errorf(adberrors.KindProtocol, "BAD_SYNC_ID",
		"unexpected %q after DONE", id))
}

// PullFile copies remote to the local path and applies the remote mtime
func (s *SyncService) PullFile(ctx context.Context, remote, local string, progress ProgressFunc) (int64, error) {
	stat, err := s.Stat(ctx, remote)
	if err != nil {
		return 0, err
	}
	f, err := os.Create(local)
	if err != nil {
		return 0, adberrors.NewIOError(err, "create "+local)
	}
	n, err := s.Pull(ctx, remote, f, progress)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = adberrors.NewIOError(cerr, "close "+local)
	}
	if err != nil {
		return n, err
	}
	if stat.MTime != 0 {
		_ = os.Chtimes(local, stat.ModTime(), stat.ModTime())
	}
	return n, nil
}

// PushFile copies a local file to remote keeping its permissions and mtime
func (s *SyncService) PushFile(ctx context.Context, local, remote string, progress ProgressFunc) (int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, adberrors.NewIOError(err, "open "+local)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, adberrors.NewIOError(err, "stat "+local)
	}
	return s.Push(ctx, f, remote, fi.Mode().Perm(), fi.ModTime(), progress)
}

// Close sends QUIT and closes the channel; later calls do nothing
func (s *SyncService) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.busy.CompareAndSwap(false, true) {
		if frame, err := wire.EncodeSyncRequest(wire.SyncQuit, nil); err == nil {
			_ = wire.WriteFully(s.t.conn, frame)
		}
	}
	return s.t.Close()
}

func (s *SyncService) closeTransport() {
	s.closed.Store(true)
	_ = s.t.Close()
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
