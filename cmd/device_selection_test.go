package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huanfeng/adbkit/internal/adbtest"
	"github.com/huanfeng/adbkit/internal/config"
	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/client"
)

func TestParseDeviceList(t *testing.T) {
	got := parseDeviceList([]string{"a, b", "", "b,c", " a "})
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Empty(t, parseDeviceList(nil))
}

func withSelection(t *testing.T, serial, defaultDevice string) {
	t.Helper()
	oldSerial, oldConfig := serialFlag, appConfig
	serialFlag = serial
	appConfig = config.Default()
	appConfig.ADB.DefaultDevice = defaultDevice
	t.Cleanup(func() {
		serialFlag, appConfig = oldSerial, oldConfig
	})
}

func TestResolveSerial(t *testing.T) {
	srv := adbtest.New(t)
	c := client.NewClient(client.WithAddress(srv.Addr()))
	ctx := context.Background()

	t.Run("flag wins", func(t *testing.T) {
		withSelection(t, "flagged", "configured")
		serial, err := resolveSerial(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, "flagged", serial)
	})

	t.Run("config default", func(t *testing.T) {
		withSelection(t, "", "configured")
		serial, err := resolveSerial(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, "configured", serial)
	})

	t.Run("no device", func(t *testing.T) {
		withSelection(t, "", "")
		srv.SetDevices("")
		_, err := resolveSerial(ctx, c)
		assert.True(t, adberrors.IsKind(err, adberrors.KindDeviceNotFound))
	})

	t.Run("single online device", func(t *testing.T) {
		withSelection(t, "", "")
		srv.SetDevices("emulator-5554\tdevice\nR58M123ABC\tunauthorized\n")
		serial, err := resolveSerial(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, "emulator-5554", serial)
	})

	t.Run("ambiguous", func(t *testing.T) {
		withSelection(t, "", "")
		srv.SetDevices("emulator-5554\tdevice\nemulator-5556\tdevice\n")
		_, err := resolveSerial(ctx, c)
		var adbErr *adberrors.AdbError
		require.ErrorAs(t, err, &adbErr)
		assert.Equal(t, "MULTIPLE_DEVICES", adbErr.Code)
	})
}

func TestResolveTargetDevices(t *testing.T) {
	srv := adbtest.New(t)
	srv.SetDevices("emulator-5554\tdevice\nemulator-5556\tdevice\nR58M123ABC\toffline\n")
	c := client.NewClient(client.WithAddress(srv.Addr()))
	ctx := context.Background()
	withSelection(t, "", "")

	all, err := resolveTargetDevices(ctx, c, nil, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"emulator-5554", "emulator-5556"}, all)

	explicit, err := resolveTargetDevices(ctx, c, []string{"x,y", "x"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, explicit)
}

func TestDedupe(t *testing.T) {
	in := []string{"a", "b", "a", "c", "b"}
	assert.Equal(t, []string{"a", "b", "c"}, dedupe(in))
	assert.Equal(t, []string{"a", "b", "a", "c", "b"}, in)
}
