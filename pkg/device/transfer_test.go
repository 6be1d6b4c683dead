package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huanfeng/adbkit/internal/adbtest"
)

// cancelMonitor cancels when the n-th file starts
type cancelMonitor struct {
	cancelAt int
	started  []string
	total    int64
	advanced int64
	stopped  bool
	canceled bool
}

func (m *cancelMonitor) Start(total int64) { m.total = total }

func (m *cancelMonitor) StartSubTask(name string) {
	m.started = append(m.started, name)
	if m.cancelAt > 0 && len(m.started) >= m.cancelAt {
		m.canceled = true
	}
}

func (m *cancelMonitor) Advance(n int64)  { m.advanced += n }
func (m *cancelMonitor) IsCanceled() bool { return m.canceled }
func (m *cancelMonitor) Stop()            { m.stopped = true }

func setupRemoteTree(t *testing.T, srv *adbtest.Server) {
	t.Helper()
	mtime := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	srv.WriteFile("/sdcard/dir/a.txt", []byte("alpha"), 0o644, mtime)
	srv.WriteFile("/sdcard/dir/c.txt", []byte("charlie"), 0o644, mtime)
	srv.WriteFile("/sdcard/dir/sub/b.txt", []byte("bravo!"), 0o644, mtime)

	srv.HandleShell("ls -l '/'", "drwxrwx--x root sdcard_rw 2023-01-01 12:00 sdcard\n")
	srv.HandleShell("ls -l '/sdcard/'", "drwxr-xr-x root root 2023-01-01 12:00 dir\n")
	srv.HandleShell("ls -l '/sdcard/dir/'", `-rw-r--r-- root root        5 2023-01-01 12:00 a.txt
-rw-r--r-- root root        7 2023-01-01 12:00 c.txt
lrwxrwxrwx root root          2023-01-01 12:00 up -> /sdcard
drwxr-xr-x root root          2023-01-01 12:00 sub
`)
	srv.HandleShell("ls -l -d '/sdcard/dir/up/'", "drwxrwx--x root sdcard_rw 2023-01-01 12:00 /sdcard/dir/up/\n")
	srv.HandleShell("ls -l '/sdcard/dir/sub/'", "-rw-r--r-- root root        6 2023-01-01 12:00 b.txt\n")
}

func TestPullTree(t *testing.T) {
	d, srv := newTestDevice(t)
	setupRemoteTree(t, srv)
	local := t.TempDir()

	mon := &cancelMonitor{}
	res, err := d.PullTree(context.Background(), "/sdcard/dir", local, mon)
	require.NoError(t, err)
	assert.False(t, res.Canceled)
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 2, res.Dirs)
	assert.Equal(t, int64(18), res.Bytes)
	assert.Equal(t, int64(20), res.Total)
	assert.Equal(t, res.Total, mon.advanced)
	assert.True(t, mon.stopped)

	b, err := os.ReadFile(filepath.Join(local, "dir", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo!", string(b))
	_, err = os.Stat(filepath.Join(local, "dir", "up"))
	assert.True(t, os.IsNotExist(err), "directory links are not followed")
}

func TestPullTreeCanceled(t *testing.T) {
	d, srv := newTestDevice(t)
	setupRemoteTree(t, srv)
	local := t.TempDir()

	mon := &cancelMonitor{cancelAt: 2}
	res, err := d.PullTree(context.Background(), "/sdcard/dir", local, mon)
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Equal(t, 1, res.Files)
	assert.Less(t, res.Bytes, res.Total)
	assert.True(t, mon.stopped)

	entries, err := os.ReadDir(filepath.Join(local, "dir"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPullTreeMissing(t *testing.T) {
	d, srv := newTestDevice(t)
	setupRemoteTree(t, srv)

	_, err := d.PullTree(context.Background(), "/sdcard/nothing", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestPushTree(t *testing.T) {
	d, srv := newTestDevice(t)
	root := filepath.Join(t.TempDir(), "up")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "inner"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.txt"), []byte("xx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "inner", "y.txt"), []byte("yyy"), 0o600))

	mon := &cancelMonitor{}
	res, err := d.PushTree(context.Background(), root, "/sdcard", mon)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, 2, res.Dirs)
	assert.Equal(t, int64(5), res.Bytes)
	assert.Equal(t, []string{"/sdcard/up/inner/y.txt", "/sdcard/up/x.txt"}, mon.started)

	f, ok := srv.File("/sdcard/up/inner/y.txt")
	require.True(t, ok)
	assert.Equal(t, "yyy", string(f.Data))
	assert.Equal(t, uint32(0o600), f.Mode&0o777)
	assert.Contains(t, srv.Requests(), "shell:mkdir -p '/sdcard/up/inner'")
}

func TestPushTreeCanceledBeforeStart(t *testing.T) {
	d, srv := newTestDevice(t)
	root := filepath.Join(t.TempDir(), "one.txt")
	require.NoError(t, os.WriteFile(root, []byte("1"), 0o644))

	res, err := d.PushTree(context.Background(), root, "/sdcard", &cancelMonitor{cancelAt: 1})
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Zero(t, res.Files)
	_, ok := srv.File("/sdcard/one.txt")
	assert.False(t, ok)
}
