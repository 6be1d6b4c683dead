package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/receiver"
)

func TestClassifyShellFailure(t *testing.T) {
	tests := []struct {
		diag string
		kind adberrors.Kind
	}{
		{"ls: /data: Permission denied", adberrors.KindPermissionDenied},
		{"rm: /foo: No such file or directory", adberrors.KindFileNotFound},
		{"ls: Unknown option '-Z'", adberrors.KindUnknownOption},
		{"closed", adberrors.KindCommandRejected},
	}
	for _, tt := range tests {
		t.Run(tt.diag, func(t *testing.T) {
			err := ClassifyShellFailure("cmd", tt.diag)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.diag, err.Message)
			assert.Equal(t, "cmd", err.Context["command"])
		})
	}
}

func TestExecuteRemoteCommand(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetDevices(twoDevices)
	srv.HandleShell("getprop", "[ro.product.model]: [Pixel 7]\r\n[ro.build.version.sdk]: [34]\n")

	rcv := receiver.NewGetPropReceiver()
	require.NoError(t, c.ExecuteRemoteCommand(context.Background(), "getprop", "emulator-5554", rcv))
	props := rcv.Properties()
	assert.Equal(t, "Pixel 7", props["ro.product.model"])
	assert.Equal(t, "34", props["ro.build.version.sdk"])
}

func TestExecuteRemoteCommandAnyDevice(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetDevices(twoDevices)
	srv.HandleShell("echo hi", "hi\n")

	rcv := receiver.NewCollectingReceiver()
	require.NoError(t, c.ExecuteRemoteCommand(context.Background(), "echo hi", "", rcv))
	assert.Equal(t, "hi\n", rcv.Output())
	assert.Contains(t, srv.Requests(), "host:transport-any")
}

func TestExecuteRemoteCommandRejected(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetDevices(twoDevices)
	srv.FailShell("cat /data/secret", "cat: /data/secret: Permission denied")

	err := c.ExecuteRemoteCommand(context.Background(), "cat /data/secret", "emulator-5554", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, adberrors.ErrPermissionDenied))
}

func TestExecuteRemoteCommandFirstOutputTimeout(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetDevices(twoDevices)
	srv.HangShell("sleep 100")

	start := time.Now()
	err := c.ExecuteRemoteCommand(context.Background(), "sleep 100", "emulator-5554",
		receiver.NewCollectingReceiver(), WithFirstOutputTimeout(100*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, adberrors.ErrShellUnresponsive))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecuteRemoteCommandContextCancel(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetDevices(twoDevices)
	srv.HangShell("logcat")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.ExecuteRemoteCommand(ctx, "logcat", "emulator-5554", receiver.NewCollectingReceiver())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteRemoteCommandReceiverCancel(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetDevices(twoDevices)
	srv.HandleShell("cat big", "line\nline\nline\n")

	rcv := receiver.NewCollectingReceiver()
	rcv.Cancel()
	require.NoError(t, c.ExecuteRemoteCommand(context.Background(), "cat big", "emulator-5554", rcv))
}
