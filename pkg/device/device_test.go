package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huanfeng/adbkit/internal/adbtest"
	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/client"
	"github.com/huanfeng/adbkit/pkg/utils"
)

const testSerial = "emulator-5554"

func newTestDevice(t *testing.T, opts ...Option) (*Device, *adbtest.Server) {
	t.Helper()
	srv := adbtest.New(t)
	srv.SetDevices(testSerial + "\tdevice product:sdk model:Pixel_7 device:panther\n")
	c := client.NewClient(client.WithAddress(srv.Addr()), client.WithLogger(utils.NewNopLogger()))

	d, err := Open(context.Background(), c, testSerial, append([]Option{WithLogger(utils.NewNopLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d, srv
}

func countRequests(srv *adbtest.Server, request string) int {
	n := 0
	for _, r := range srv.Requests() {
		if r == request {
			n++
		}
	}
	return n
}

func TestOpenUnknownDevice(t *testing.T) {
	srv := adbtest.New(t)
	c := client.NewClient(client.WithAddress(srv.Addr()), client.WithLogger(utils.NewNopLogger()))

	_, err := Open(context.Background(), c, "nope")
	assert.True(t, errors.Is(err, adberrors.ErrDeviceNotFound))
}

func TestDeviceDescriptor(t *testing.T) {
	d, _ := newTestDevice(t)
	assert.Equal(t, testSerial, d.Serial())
	assert.True(t, d.IsOnline())
	assert.Equal(t, "Pixel_7", d.Descriptor().Model)
}

func TestProperties(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("getprop", "[ro.product.model]: [Pixel 7]\n[ro.build.version.release]: [14]\n")
	srv.HandleShell("getprop ro.missing", "\n")
	ctx := context.Background()

	props, err := d.Properties(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "14", props["ro.build.version.release"])

	model, err := d.Property(ctx, "ro.product.model")
	require.NoError(t, err)
	assert.Equal(t, "Pixel 7", model)
	assert.Equal(t, 1, countRequests(srv, "shell:getprop"))

	missing, err := d.Property(ctx, "ro.missing")
	require.NoError(t, err)
	assert.Empty(t, missing)

	srv.HandleShell("getprop", "[ro.product.model]: [Pixel 8]\n")
	props, err = d.Properties(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "Pixel 8", props["ro.product.model"])
	_, stale := props["ro.build.version.release"]
	assert.False(t, stale)
}

func TestEnvironmentAndMounts(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("printenv", "PATH=/sbin:/system/bin\nANDROID_DATA=/data\n")
	srv.HandleShell("cat /proc/mounts", "/dev/block/dm-0 / ext4 ro,seclabel,relatime 0 0\n"+
		"/dev/block/dm-5 /data f2fs rw,lazytime 0 0\n")
	ctx := context.Background()

	env, err := d.EnvironmentVariables(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/data", env["ANDROID_DATA"])

	mounts, err := d.MountPoints(ctx)
	require.NoError(t, err)
	assert.True(t, mounts["/"].ReadOnly)
	assert.Equal(t, "f2fs", mounts["/data"].FileSystem)
}

func TestBattery(t *testing.T) {
	d, srv := newTestDevice(t)
	ctx := context.Background()

	srv.HandleShell("dumpsys battery", "Current Battery Service state:\n  AC powered: true\n  present: true\n  level: 40\n  scale: 100\n  status: 2\n")
	info, err := d.Battery(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, info.Level)
	assert.True(t, info.ACPowered)

	srv.HandleShell("dumpsys battery", "Can't find service: battery\n")
	_, err = d.Battery(ctx)
	assert.True(t, errors.Is(err, adberrors.ErrProtocol))
}

func TestCanSU(t *testing.T) {
	d, srv := newTestDevice(t)
	ctx := context.Background()

	assert.False(t, d.CanSU(ctx))
	srv.HandleShell("su -c id", "uid=0(root) gid=0(root) groups=0(root)\n")
	assert.True(t, d.CanSU(ctx))
}

func TestExecuteShellCommandFormats(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("echo 42 'a b'", "42 a b\n")

	out, err := d.Output(context.Background(), "echo %d %s", 42, "'a b'")
	require.NoError(t, err)
	assert.Equal(t, "42 a b\n", out)
}

func TestPushPullFile(t *testing.T) {
	d, srv := newTestDevice(t)
	ctx := context.Background()
	dir := t.TempDir()

	local := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))
	n, err := d.PushFile(ctx, local, "/sdcard/in.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	f, ok := srv.File("/sdcard/in.txt")
	require.True(t, ok)
	assert.Equal(t, "payload", string(f.Data))

	out := filepath.Join(dir, "out.txt")
	_, err = d.PullFile(ctx, "/sdcard/in.txt", out, nil)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestCaptureLogs(t *testing.T) {
	d, srv := newTestDevice(t)
	srv.HandleShell("pidof com.example", "1234\n")
	srv.HandleShell("logcat -d --pid 1234 *:W", "W/Example: careful\nE/Example: boom\n")
	srv.HandleShell("logcat -d *:I", "I/ActivityManager: hello\n")
	ctx := context.Background()
	dir := t.TempDir()

	res, err := d.CaptureLogs(ctx, LogCaptureOptions{PackageID: "com.example", Level: "w", OutputPath: filepath.Join(dir, "app.log")})
	require.NoError(t, err)
	assert.Equal(t, "W", res.Level)
	assert.Empty(t, res.Note)
	b, err := os.ReadFile(res.OutputPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "W/Example"))
	assert.Equal(t, int64(len(b)), res.SizeBytes)

	res, err = d.CaptureLogs(ctx, LogCaptureOptions{PackageID: "com.gone", OutputPath: filepath.Join(dir, "all.log")})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Note)

	_, err = d.CaptureLogs(ctx, LogCaptureOptions{Level: "X"})
	assert.True(t, errors.Is(err, adberrors.ErrUnknownOption))
}
