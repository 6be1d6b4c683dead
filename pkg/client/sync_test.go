package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huanfeng/adbkit/internal/adbtest"
	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/wire"
)

func openTestSync(t *testing.T, opts ...Option) (*SyncService, *adbtest.Server) {
	t.Helper()
	c, srv := newTestClient(t)
	for _, opt := range opts {
		opt(c)
	}
	srv.SetDevices(twoDevices)
	s, err := c.OpenSync(context.Background(), "emulator-5554")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, srv
}

func TestSyncPushThenStat(t *testing.T) {
	s, srv := openTestSync(t, WithSyncChunkSize(1000))
	ctx := context.Background()

	data := bytes.Repeat([]byte("0123456789"), 1000)
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var progress []int64
	n, err := s.Push(ctx, bytes.NewReader(data), "/sdcard/blob.bin", 0644, mtime, func(done int64) {
		progress = append(progress, done)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Len(t, progress, 10)
	assert.Equal(t, int64(len(data)), progress[len(progress)-1])

	st, err := s.Stat(ctx, "/sdcard/blob.bin")
	require.NoError(t, err)
	assert.Equal(t, uint32(len(data)), st.Size)
	assert.Equal(t, mtime, st.ModTime())
	assert.Equal(t, wire.ModeRegular|0644, st.Mode)

	f, ok := srv.File("/sdcard/blob.bin")
	require.True(t, ok)
	assert.Equal(t, data, f.Data)
}

func TestSyncStatMissing(t *testing.T) {
	s, _ := openTestSync(t)

	_, err := s.Stat(context.Background(), "/nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, adberrors.ErrFileNotFound))

	// the channel stays usable after a missing file
	_, err = s.Stat(context.Background(), "/")
	assert.NoError(t, err)
}

func TestSyncPull(t *testing.T) {
	s, srv := openTestSync(t)
	data := bytes.Repeat([]byte{0xAB}, 3*wire.SyncMaxChunkSize+17)
	srv.WriteFile("/data/local/tmp/big", data, 0600, time.Unix(1700000000, 0))

	var buf bytes.Buffer
	var last int64
	n, err := s.Pull(context.Background(), "/data/local/tmp/big", &buf, func(done int64) { last = done })
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, n, last)
	assert.Equal(t, data, buf.Bytes())
}

func TestSyncPullMissing(t *testing.T) {
	s, _ := openTestSync(t)

	_, err := s.Pull(context.Background(), "/nope", &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &adberrors.AdbError{Kind: adberrors.KindSync, Code: "FAIL"}))
	assert.Contains(t, err.Error(), "No such file or directory")

	// adbd ends the sync service after FAIL
	_, err = s.Stat(context.Background(), "/")
	assert.True(t, errors.Is(err, &adberrors.AdbError{Kind: adberrors.KindSync, Code: "CLOSED"}))
}

func TestSyncPullOversizedFail(t *testing.T) {
	s, srv := openTestSync(t)
	frame := []byte(wire.SyncFail)
	frame = binary.LittleEndian.AppendUint32(frame, 0xFFFFFFF0)
	srv.SetRawRecvReply(frame)

	_, err := s.Pull(context.Background(), "/sdcard/x", &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &adberrors.AdbError{Kind: adberrors.KindProtocol, Code: "TOO_LONG"}))

	_, err = s.Stat(context.Background(), "/")
	assert.True(t, errors.Is(err, &adberrors.AdbError{Kind: adberrors.KindSync, Code: "CLOSED"}))
}

func TestSyncList(t *testing.T) {
	s, srv := openTestSync(t)
	srv.WriteFile("/sdcard/a.txt", []byte("a"), 0644, time.Unix(1, 0))
	srv.WriteFile("/sdcard/b.txt", []byte("bb"), 0644, time.Unix(2, 0))
	srv.Mkdir("/sdcard/DCIM")

	entries, err := s.List(context.Background(), "/sdcard")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"DCIM", "a.txt", "b.txt"}, names)
	assert.True(t, entries[0].IsDir())
	assert.Equal(t, uint32(2), entries[2].Size)
}

func TestSyncFileRoundTrip(t *testing.T) {
	s, srv := openTestSync(t)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello device"), 0640))
	mtime := time.Date(2023, 7, 4, 10, 30, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	_, err := s.PushFile(ctx, src, "/sdcard/hello.txt", nil)
	require.NoError(t, err)
	f, ok := srv.File("/sdcard/hello.txt")
	require.True(t, ok)
	assert.Equal(t, uint32(mtime.Unix()), f.MTime)

	dst := filepath.Join(dir, "dst.txt")
	n, err := s.PullFile(ctx, "/sdcard/hello.txt", dst, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello device", string(got))
	fi, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, fi.ModTime().Equal(mtime))
}

func TestSyncBusy(t *testing.T) {
	s, _ := openTestSync(t)
	ctx := context.Background()

	done, err := s.begin(ctx)
	require.NoError(t, err)
	_, err = s.Stat(ctx, "/")
	assert.True(t, errors.Is(err, &adberrors.AdbError{Kind: adberrors.KindSync, Code: "BUSY"}))
	done()

	_, err = s.Stat(ctx, "/")
	assert.NoError(t, err)
}

func TestSyncClosed(t *testing.T) {
	s, _ := openTestSync(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Stat(context.Background(), "/")
	assert.True(t, errors.Is(err, &adberrors.AdbError{Kind: adberrors.KindSync, Code: "CLOSED"}))
}

func TestSyncPushCanceled(t *testing.T) {
	s, _ := openTestSync(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Push(ctx, bytes.NewReader([]byte("x")), "/sdcard/x", 0644, time.Now(), nil)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Stat(context.Background(), "/")
	assert.True(t, errors.Is(err, &adberrors.AdbError{Kind: adberrors.KindSync, Code: "CLOSED"}))
}
