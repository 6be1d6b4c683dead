package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huanfeng/adbkit/pkg/receiver"
)

const busyboxHelp = `BusyBox v1.36.1 (2023-05-18 12:00:00 UTC) multi-call binary.
Usage: busybox [function [arguments]...]

Currently defined functions:
	[, [[, ash, cat, chmod, find, ls,
	mkdir, rm, sed
`

func TestBusyBoxAvailableOnPath(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("busybox", busyboxHelp)
	ctx := context.Background()

	bb := d.BusyBox()
	assert.Same(t, bb, d.BusyBox())
	require.True(t, bb.Available(ctx))
	assert.Equal(t, "busybox", bb.Path())

	ok, err := bb.Supports(ctx, "find")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = bb.Supports(ctx, "vi")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, countRequests(srv, "shell:busybox --list"))
}

func TestBusyBoxUnavailable(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.False(t, d.BusyBox().Available(context.Background()))
	assert.Equal(t, BusyBoxPath, d.BusyBox().Path())
}

func TestBusyBoxInstall(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("chmod 755 '/data/local/tmp/busybox'", "")
	srv.HandleShell("/data/local/tmp/busybox", busyboxHelp)
	srv.HandleShell("/data/local/tmp/busybox --list", "ls\nfind\n")
	srv.HandleShell("/data/local/tmp/busybox find /sdcard -name '*.jpg'", "/sdcard/DCIM/a.jpg\n")
	ctx := context.Background()

	local := filepath.Join(t.TempDir(), "busybox")
	require.NoError(t, os.WriteFile(local, []byte("\x7fELF"), 0o755))

	bb := d.BusyBox()
	require.NoError(t, bb.Install(ctx, local))
	assert.Equal(t, BusyBoxPath, bb.Path())
	f, ok := srv.File(BusyBoxPath)
	require.True(t, ok)
	assert.Equal(t, "\x7fELF", string(f.Data))

	cmds, err := bb.Commands(ctx)
	require.NoError(t, err)
	assert.Contains(t, cmds, "sed")

	lines := receiver.NewLinesReceiver()
	require.NoError(t, bb.ExecuteShellCommand(ctx, lines, "find %s -name '*.jpg'", "/sdcard"))
	assert.Equal(t, []string{"/sdcard/DCIM/a.jpg"}, lines.Lines())
}
