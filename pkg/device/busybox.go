package device

import (
	"context"
	"strings"
	"sync"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/models"
	"github.com/huanfeng/adbkit/pkg/receiver"
)

// BusyBoxPath is where Install puts the busybox binary
const BusyBoxPath = "/data/local/tmp/busybox"

// BusyBox runs applets of a busybox binary on the device
type BusyBox struct {
	device *Device
	path   string

	mu       sync.Mutex
	commands []string
}

// Path returns the binary location used for commands
func (b *BusyBox) Path() string {
	return b.path
}

// Available reports whether a busybox binary answers on the device, either
// at Path or on the shell PATH. It switches Path to whichever one works.
func (b *BusyBox) Available(ctx context.Context) bool {
	for _, candidate := range []string{b.path, "busybox"} {
		rcv := receiver.NewBusyBoxCommandsReceiver(receiver.WithLogger(b.device.logger))
		err := b.device.ExecuteShellCommand(ctx, rcv, candidate)
		if err == nil && len(rcv.Commands()) > 0 {
			b.mu.Lock()
			b.path = candidate
			b.commands = rcv.Commands()
			b.mu.Unlock()
			return true
		}
	}
	return false
}

// Install pushes a local busybox binary to BusyBoxPath and makes it executable
func (b *BusyBox) Install(ctx context.Context, local string) error {
	if _, err := b.device.PushFile(ctx, local, BusyBoxPath, nil); err != nil {
		return err
	}
	if err := b.device.ExecuteShellCommand(ctx, nil, "chmod 755 %s", models.EscapeShellPath(BusyBoxPath)); err != nil {
		return err
	}
	b.mu.Lock()
	b.path = BusyBoxPath
	b.commands = nil
	b.mu.Unlock()
	if !b.Available(ctx) {
		return adberrors.NewError(adberrors.KindCommandRejected, "BUSYBOX",
			"busybox does not run on the device after install").WithContext("serial", b.device.Serial())
	}
	return nil
}

// Commands returns the applets compiled into busybox
func (b *BusyBox) Commands(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	cached := b.commands
	path := b.path
	b.mu.Unlock()
	if cached != nil {
		return append([]string(nil), cached...), nil
	}

	rcv := receiver.NewBusyBoxCommandsReceiver(receiver.WithLogger(b.device.logger))
	if err := b.device.ExecuteShellCommand(ctx, rcv, path+" --list"); err != nil {
		return nil, err
	}
	cmds := rcv.Commands()
	b.mu.Lock()
	b.commands = cmds
	b.mu.Unlock()
	return append([]string(nil), cmds...), nil
}

// Supports reports whether applet is available
func (b *BusyBox) Supports(ctx context.Context, applet string) (bool, error) {
	cmds, err := b.Commands(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cmds {
		if c == applet {
			return true, nil
		}
	}
	return false, nil
}

// ExecuteShellCommand runs "busybox <command>" on the device
func (b *BusyBox) ExecuteShellCommand(ctx context.Context, rcv receiver.Receiver, command string, args ...interface{}) error {
	b.mu.Lock()
	path := b.path
	b.mu.Unlock()
	if len(args) > 0 {
		return b.device.ExecuteShellCommand(ctx, rcv, path+" "+command, args...)
	}
	return b.device.ExecuteShellCommand(ctx, rcv, path+" "+strings.TrimSpace(command))
}
