// Package client talks to the adb host server over its TCP protocol.
//
// Every call opens its own connection and closes it before returning, so a
// Client holds no socket and is safe for concurrent use.
package client

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/internal/metrics"
	"github.com/huanfeng/adbkit/pkg/models"
	"github.com/huanfeng/adbkit/pkg/utils"
)

const (
	// DefaultHost is where the adb server listens by default
	DefaultHost = "127.0.0.1"
	// DefaultPort is the default adb server port
	DefaultPort = 5037
)

// Client issues host and device requests to one adb server endpoint
type Client struct {
	address   string
	dialer    Dialer
	logger    utils.Logger
	metrics   *metrics.Metrics
	chunkSize int
}

// Option configures a Client
type Option func(*Client)

// WithAddress sets the server address as host:port
func WithAddress(address string) Option {
	return func(c *Client) {
		c.address = address
	}
}

// WithHostPort sets the server host and port
func WithHostPort(host string, port int) Option {
	return func(c *Client) {
		if host == "" {
			host = DefaultHost
		}
		if port == 0 {
			port = DefaultPort
		}
		c.address = net.JoinHostPort(host, strconv.Itoa(port))
	}
}

// WithDialer replaces the network dialer
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// WithLogger sets the logger
func WithLogger(logger utils.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records traffic on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSyncChunkSize sets the DATA frame size used by push; values are clamped to 1..64 KiB
func WithSyncChunkSize(n int) Option {
	return func(c *Client) {
		c.chunkSize = n
	}
}

// NewClient creates a client for the server at 127.0.0.1:5037 unless configured otherwise
func NewClient(opts ...Option) *Client {
	c := &Client{
		address: net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort)),
		dialer:  &net.Dialer{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = utils.GetGlobalLogger()
	}
	return c
}

// Address returns the server address
func (c *Client) Address() string {
	return c.address
}

// Logger returns the client's logger
func (c *Client) Logger() utils.Logger {
	return c.logger
}

// Metrics returns the client's metrics, possibly nil
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

func (c *Client) dial(ctx context.Context) (*Transport, error) {
	return Dial(ctx, c.dialer, c.address, c.logger)
}

// hostRequest sends a host service request and reads its length-prefixed reply
func (c *Client) hostRequest(ctx context.Context, request string) ([]byte, error) {
	t, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	stop := t.watch(ctx)
	defer stop()

	if err := t.SendRequest(request); err != nil {
		return nil, ctxErr(ctx, err)
	}
	if err := t.VerifyResponse(request); err != nil {
		return nil, ctxErr(ctx, err)
	}
	b, err := t.ReadLengthPrefixed()
	return b, ctxErr(ctx, err)
}

// hostCommand sends a host service request that replies with a bare status
func (c *Client) hostCommand(ctx context.Context, request string) error {
	t, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer t.Close()
	stop := t.watch(ctx)
	defer stop()

	if err := t.SendRequest(request); err != nil {
		return ctxErr(ctx, err)
	}
	return ctxErr(ctx, t.VerifyResponse(request))
}

// ServerVersion returns the adb server's internal protocol version
func (c *Client) ServerVersion(ctx context.Context) (int, error) {
	b, err := c.hostRequest(ctx, "host:version")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(string(b), 16, 32)
	if err != nil {
		return 0, adberrors.Errorf(adberrors.KindProtocol, "BAD_VERSION", "invalid server version %q", b)
	}
	return int(v), nil
}

// KillServer asks the adb server to exit
func (c *Client) KillServer(ctx context.Context) error {
	return c.hostCommand(ctx, "host:kill")
}

// GetDevices lists the devices known to the server
func (c *Client) GetDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	b, err := c.hostRequest(ctx, "host:devices-l")
	if err != nil {
		return nil, err
	}
	return ParseDeviceList(string(b)), nil
}

// GetDevice returns the descriptor for serial
func (c *Client) GetDevice(ctx context.Context, serial string) (DeviceDescriptor, error) {
	devices, err := c.GetDevices(ctx)
	if err != nil {
		return DeviceDescriptor{}, err
	}
	for _, d := range devices {
		if d.Serial == serial {
			return d, nil
		}
	}
	return DeviceDescriptor{}, adberrors.NewDeviceNotFoundError(serial, fmt.Sprintf("device '%s' not found", serial))
}

// openTransport connects and switches the connection to serial.
// An empty serial selects the only connected device.
func (c *Client) openTransport(ctx context.Context, serial string) (*Transport, error) {
	t, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	request := "host:transport-any"
	if serial != "" {
		request = "host:transport:" + serial
	}
	if err := t.SendRequest(request); err != nil {
		t.Close()
		return nil, err
	}
	ok, diag, err := t.readResult()
	if err != nil {
		t.Close()
		return nil, err
	}
	if !ok {
		t.Close()
		return nil, adberrors.NewDeviceNotFoundError(serial, diag)
	}
	return t, nil
}

// openService opens a transport to serial and starts service on it
func (c *Client) openService(ctx context.Context, serial, service string) (*Transport, error) {
	t, err := c.openTransport(ctx, serial)
	if err != nil {
		return nil, err
	}
	if err := t.SendRequest(service); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.VerifyResponse(service); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Reboot restarts the device, optionally into "bootloader", "recovery" or "sideload"
func (c *Client) Reboot(ctx context.Context, serial, into string) error {
	t, err := c.openTransport(ctx, serial)
	if err != nil {
		return err
	}
	defer t.Close()
	stop := t.watch(ctx)
	defer stop()

	request := "reboot:" + into
	if err := t.SendRequest(request); err != nil {
		return ctxErr(ctx, err)
	}
	return ctxErr(ctx, t.VerifyResponse(request))
}

// Remount remounts /system read-write; requires adbd running as root
func (c *Client) Remount(ctx context.Context, serial string) (string, error) {
	t, err := c.openService(ctx, serial, "remount:")
	if err != nil {
		return "", err
	}
	defer t.Close()
	b, err := t.ReadToEnd()
	return strings.TrimSpace(string(b)), err
}

// Connect asks the server to connect to a device over TCP/IP
func (c *Client) Connect(ctx context.Context, hostPort string) (string, error) {
	return c.connectionRequest(ctx, "host:connect:"+hostPort, hostPort)
}

// Disconnect drops a TCP/IP device
func (c *Client) Disconnect(ctx context.Context, hostPort string) (string, error) {
	return c.connectionRequest(ctx, "host:disconnect:"+hostPort, hostPort)
}

func (c *Client) connectionRequest(ctx context.Context, request, hostPort string) (string, error) {
	b, err := c.hostRequest(ctx, request)
	if err != nil {
		return "", err
	}
	msg := strings.TrimSpace(string(b))
	lower := strings.ToLower(msg)
	for _, prefix := range []string{"failed", "unable", "cannot", "error", "no such device"} {
		if strings.HasPrefix(lower, prefix) {
			return msg, adberrors.NewConnectionError(fmt.Errorf("%s", msg), hostPort)
		}
	}
	return msg, nil
}

// CreateForward forwards local to remote on serial; specs look like "tcp:8080"
func (c *Client) CreateForward(ctx context.Context, serial, local, remote string) error {
	return c.forwardRequest(ctx, fmt.Sprintf("host-serial:%s:forward:%s;%s", serial, local, remote))
}

// RemoveForward removes one forward
func (c *Client) RemoveForward(ctx context.Context, serial, local string) error {
	return c.forwardRequest(ctx, fmt.Sprintf("host-serial:%s:killforward:%s", serial, local))
}

// RemoveAllForwards removes every forward of serial
func (c *Client) RemoveAllForwards(ctx context.Context, serial string) error {
	return c.forwardRequest(ctx, fmt.Sprintf("host-serial:%s:killforward-all", serial))
}

// forwardRequest handles the second status some servers send after the host-serial OKAY
func (c *Client) forwardRequest(ctx context.Context, request string) error {
	t, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer t.Close()
	stop := t.watch(ctx)
	defer stop()

	if err := t.SendRequest(request); err != nil {
		return ctxErr(ctx, err)
	}
	if err := t.VerifyResponse(request); err != nil {
		return ctxErr(ctx, err)
	}
	rest, err := t.ReadToEnd()
	if err != nil {
		return ctxErr(ctx, err)
	}
	if strings.HasPrefix(string(rest), "FAIL") {
		diag := string(rest[4:])
		if len(diag) >= 4 {
			diag = diag[4:]
		}
		return adberrors.NewCommandRejectedError(request, diag)
	}
	return nil
}

// ListForward lists every forward known to the server
func (c *Client) ListForward(ctx context.Context) ([]models.ForwardSpec, error) {
	b, err := c.hostRequest(ctx, "host:list-forward")
	if err != nil {
		return nil, err
	}
	var specs []models.ForwardSpec
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		specs = append(specs, models.ForwardSpec{Serial: fields[0], Local: fields[1], Remote: fields[2]})
	}
	return specs, nil
}

// WaitForDevice polls until serial is online or ctx is done
func (c *Client) WaitForDevice(ctx context.Context, serial string, interval time.Duration) (DeviceDescriptor, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		devices, err := c.GetDevices(ctx)
		if err == nil {
			sort.Slice(devices, func(i, j int) bool { return devices[i].Serial < devices[j].Serial })
			for _, d := range devices {
				if (serial == "" || d.Serial == serial) && d.IsOnline() {
					return d, nil
				}
			}
		} else if ctx.Err() == nil {
			c.logger.Debug("wait-for-device: %v", err)
		}

		select {
		case <-ctx.Done():
			return DeviceDescriptor{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
