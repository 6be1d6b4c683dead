// Package device builds device-level operations on top of the adb client:
// properties, file listings, packages, busybox and tree transfers.
package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/pkg/client"
	"github.com/huanfeng/adbkit/pkg/models"
	"github.com/huanfeng/adbkit/pkg/receiver"
	"github.com/huanfeng/adbkit/pkg/utils"
)

// DefaultRefreshRate is how long a directory listing stays fresh
const DefaultRefreshRate = 5000 * time.Millisecond

// Device is one device known to the adb server. A Device is meant for
// sequential use; share it between goroutines only with outside locking.
type Device struct {
	client      *client.Client
	desc        client.DeviceDescriptor
	logger      utils.Logger
	shellOpts   []client.ShellOption
	refreshRate time.Duration
	busybox     bool

	mu         sync.Mutex
	properties map[string]string
	listing    *FileListingService
	bb         *BusyBox
}

// Option configures a Device
type Option func(*Device)

// WithFirstOutputTimeout fails shell commands that print nothing within d
func WithFirstOutputTimeout(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.shellOpts = append(dev.shellOpts, client.WithFirstOutputTimeout(d))
		}
	}
}

// WithRefreshRate sets how long directory listings are cached
func WithRefreshRate(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.refreshRate = d
		}
	}
}

// WithBusyBoxListing lists directories with busybox ls -lFa
func WithBusyBoxListing(enabled bool) Option {
	return func(dev *Device) {
		dev.busybox = enabled
	}
}

// WithLogger sets the logger
func WithLogger(logger utils.Logger) Option {
	return func(dev *Device) {
		dev.logger = logger
	}
}

// New wraps a descriptor returned by the client
func New(c *client.Client, desc client.DeviceDescriptor, opts ...Option) *Device {
	d := &Device{
		client:      c,
		desc:        desc,
		logger:      c.Logger(),
		refreshRate: DefaultRefreshRate,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open looks serial up on the server and wraps it
func Open(ctx context.Context, c *client.Client, serial string, opts ...Option) (*Device, error) {
	desc, err := c.GetDevice(ctx, serial)
	if err != nil {
		return nil, err
	}
	return New(c, desc, opts...), nil
}

// Serial returns the device serial
func (d *Device) Serial() string {
	return d.desc.Serial
}

// Descriptor returns the device as last reported by the server
func (d *Device) Descriptor() client.DeviceDescriptor {
	return d.desc
}

// IsOnline reports whether the device accepts shell and sync requests
func (d *Device) IsOnline() bool {
	return d.desc.IsOnline()
}

// Client returns the client the device talks through
func (d *Device) Client() *client.Client {
	return d.client
}

// ExecuteShellCommand runs command on the device and streams its output into rcv.
// With args the command is used as a fmt format string.
func (d *Device) ExecuteShellCommand(ctx context.Context, rcv receiver.Receiver, command string, args ...interface{}) error {
	if len(args) > 0 {
		command = fmt.Sprintf(command, args...)
	}
	return d.client.ExecuteRemoteCommand(ctx, command, d.desc.Serial, rcv, d.shellOpts...)
}

// Output runs command and returns everything it printed
func (d *Device) Output(ctx context.Context, command string, args ...interface{}) (string, error) {
	rcv := receiver.NewCollectingReceiver()
	if err := d.ExecuteShellCommand(ctx, rcv, command, args...); err != nil {
		return "", err
	}
	return rcv.Output(), nil
}

// Properties returns getprop output. The cached map is replaced when refresh is set.
func (d *Device) Properties(ctx context.Context, refresh bool) (map[string]string, error) {
	d.mu.Lock()
	cached := d.properties
	d.mu.Unlock()
	if cached != nil && !refresh {
		return copyMap(cached), nil
	}

	rcv := receiver.NewGetPropReceiver(receiver.WithLogger(d.logger))
	if err := d.ExecuteShellCommand(ctx, rcv, "getprop"); err != nil {
		return nil, err
	}
	props := rcv.Properties()

	d.mu.Lock()
	d.properties = props
	d.mu.Unlock()
	return copyMap(props), nil
}

// Property returns one system property; a missing property is ""
func (d *Device) Property(ctx context.Context, name string) (string, error) {
	props, err := d.Properties(ctx, false)
	if err != nil {
		return "", err
	}
	if v, ok := props[name]; ok {
		return v, nil
	}
	out, err := d.Output(ctx, "getprop %s", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// EnvironmentVariables returns printenv output
func (d *Device) EnvironmentVariables(ctx context.Context) (map[string]string, error) {
	rcv := receiver.NewEnvironmentVariablesReceiver(receiver.WithLogger(d.logger))
	if err := d.ExecuteShellCommand(ctx, rcv, "printenv"); err != nil {
		return nil, err
	}
	return rcv.Variables(), nil
}

// MountPoints returns /proc/mounts keyed by mount point
func (d *Device) MountPoints(ctx context.Context) (map[string]models.MountPoint, error) {
	rcv := receiver.NewMountPointReceiver(receiver.WithLogger(d.logger))
	if err := d.ExecuteShellCommand(ctx, rcv, "cat /proc/mounts"); err != nil {
		return nil, err
	}
	return rcv.MountPoints(), nil
}

// Battery returns dumpsys battery state
func (d *Device) Battery(ctx context.Context) (models.BatteryInfo, error) {
	rcv := receiver.NewBatteryReceiver(receiver.WithLogger(d.logger))
	if err := d.ExecuteShellCommand(ctx, rcv, "dumpsys battery"); err != nil {
		return models.BatteryInfo{}, err
	}
	info, ok := rcv.BatteryInfo()
	if !ok {
		return info, adberrors.NewProtocolError("NO_BATTERY", "dumpsys battery printed no battery state").
			WithContext("serial", d.desc.Serial)
	}
	return info, nil
}

// Reboot restarts the device; into may be "", "bootloader", "recovery" or "sideload"
func (d *Device) Reboot(ctx context.Context, into string) error {
	return d.client.Reboot(ctx, d.desc.Serial, into)
}

// Remount remounts the system partition read-write
func (d *Device) Remount(ctx context.Context) (string, error) {
	return d.client.Remount(ctx, d.desc.Serial)
}

// CanSU reports whether su gives a root shell
func (d *Device) CanSU(ctx context.Context) bool {
	out, err := d.Output(ctx, "su -c id")
	if err != nil {
		d.logger.Debug("su check on %s: %v", d.desc.Serial, err)
		return false
	}
	return strings.Contains(out, "uid=0")
}

// CreateForward forwards local to remote
func (d *Device) CreateForward(ctx context.Context, local, remote string) error {
	return d.client.CreateForward(ctx, d.desc.Serial, local, remote)
}

// RemoveForward removes the forward listening on local
func (d *Device) RemoveForward(ctx context.Context, local string) error {
	return d.client.RemoveForward(ctx, d.desc.Serial, local)
}

// RemoveAllForwards removes every forward of the device
func (d *Device) RemoveAllForwards(ctx context.Context) error {
	return d.client.RemoveAllForwards(ctx, d.desc.Serial)
}

// FrameBuffer captures the screen
func (d *Device) FrameBuffer(ctx context.Context) (*client.RawImage, error) {
	return d.client.GetFrameBuffer(ctx, d.desc.Serial)
}

// Sync opens a sync channel; the caller closes it
func (d *Device) Sync(ctx context.Context) (*client.SyncService, error) {
	return d.client.OpenSync(ctx, d.desc.Serial)
}

// PullFile copies one remote file to local
func (d *Device) PullFile(ctx context.Context, remote, local string, progress client.ProgressFunc) (int64, error) {
	s, err := d.Sync(ctx)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return s.PullFile(ctx, remote, local, progress)
}

// PushFile copies one local file to remote
func (d *Device) PushFile(ctx context.Context, local, remote string, progress client.ProgressFunc) (int64, error) {
	s, err := d.Sync(ctx)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return s.PushFile(ctx, local, remote, progress)
}

// FileListingService returns the device's cached directory tree
func (d *Device) FileListingService() *FileListingService {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listing == nil {
		d.listing = NewFileListingService(d, d.refreshRate, d.busybox)
	}
	return d.listing
}

// PackageManager returns package operations for the device
func (d *Device) PackageManager() *PackageManager {
	return &PackageManager{device: d}
}

// BusyBox returns busybox helpers for the device
func (d *Device) BusyBox() *BusyBox {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bb == nil {
		d.bb = &BusyBox{device: d, path: BusyBoxPath}
	}
	return d.bb
}

// Close stops the listing worker if one was started
func (d *Device) Close() {
	d.mu.Lock()
	l := d.listing
	d.listing = nil
	d.mu.Unlock()
	if l != nil {
		l.Close()
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
