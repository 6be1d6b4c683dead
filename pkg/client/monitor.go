package client

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	adberrors "github.com/huanfeng/adbkit/internal/errors"
	"github.com/huanfeng/adbkit/internal/metrics"
	"github.com/huanfeng/adbkit/pkg/utils"
)

// DeviceEventType says how a device changed between two snapshots
type DeviceEventType int

const (
	DeviceAdded DeviceEventType = iota
	DeviceRemoved
	DeviceChanged
)

func (t DeviceEventType) String() string {
	switch t {
	case DeviceAdded:
		return "added"
	case DeviceRemoved:
		return "removed"
	case DeviceChanged:
		return "changed"
	}
	return "unknown"
}

// MarshalText encodes the event type by name
func (t DeviceEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// DeviceEvent is one difference between consecutive device lists.
// Previous is set only for DeviceChanged.
type DeviceEvent struct {
	Type      DeviceEventType  `json:"type"`
	Device    DeviceDescriptor `json:"device"`
	Previous  DeviceDescriptor `json:"previous,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// DeviceMonitor follows host:track-devices and turns each device list into events
type DeviceMonitor struct {
	client  *Client
	logger  utils.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	devices     map[string]DeviceDescriptor
	subscribers map[int]func(DeviceEvent)
	nextID      int
	t           *Transport
	err         error

	started  atomic.Bool
	stopping atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewDeviceMonitor creates a stopped monitor
func (c *Client) NewDeviceMonitor() *DeviceMonitor {
	return &DeviceMonitor{
		client:      c,
		logger:      c.logger,
		metrics:     c.metrics,
		devices:     make(map[string]DeviceDescriptor),
		subscribers: make(map[int]func(DeviceEvent)),
		done:        make(chan struct{}),
	}
}

// Subscribe registers fn for every event and returns a func that removes it.
// fn runs on the monitor goroutine and must not call Stop.
func (m *DeviceMonitor) Subscribe(fn func(DeviceEvent)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

// Start opens the tracking stream and starts reading it in the background.
// The monitor runs until Stop is called, ctx is done or the stream fails.
func (m *DeviceMonitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return adberrors.NewError(adberrors.KindProtocol, "MONITOR_STARTED", "device monitor already started")
	}

	t, err := m.client.dial(ctx)
	if err != nil {
		m.finish(err)
		return err
	}
	stop := t.watch(ctx)
	request := "host:track-devices"
	if err := t.SendRequest(request); err != nil {
		stop()
		t.Close()
		err = ctxErr(ctx, err)
		m.finish(err)
		return err
	}
	if err := t.VerifyResponse(request); err != nil {
		stop()
		t.Close()
		err = ctxErr(ctx, err)
		m.finish(err)
		return err
	}
	stop()

	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
	if m.stopping.Load() {
		t.Close()
	}

	context.AfterFunc(ctx, func() { m.Stop() })
	m.logger.Info("device monitor started on %s", m.client.Address())
	go m.run(t)
	return nil
}

func (m *DeviceMonitor) run(t *Transport) {
	for {
		payload, err := t.ReadLengthPrefixed()
		if err != nil {
			if m.stopping.Load() {
				err = nil
			} else {
				m.logger.Warn("device monitor stopped: %v", err)
			}
			t.Close()
			m.finish(err)
			return
		}
		m.update(ParseDeviceList(string(payload)), time.Now())
	}
}

// update replaces the snapshot and delivers the resulting events
func (m *DeviceMonitor) update(next []DeviceDescriptor, at time.Time) {
	m.mu.Lock()
	events := DiffDevices(m.devices, next, at)
	m.devices = make(map[string]DeviceDescriptor, len(next))
	for _, d := range next {
		m.devices[d.Serial] = d
	}
	count := len(m.devices)
	subs := make([]func(DeviceEvent), 0, len(m.subscribers))
	ids := make([]int, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, m.subscribers[id])
	}
	m.mu.Unlock()

	m.metrics.SetTrackedDevices(count)
	for _, e := range events {
		m.metrics.MonitorEvent(e.Type.String())
		m.logger.Debug("device %s %s (%s)", e.Device.Serial, e.Type, e.Device.State)
		for _, fn := range subs {
			fn(e)
		}
	}
}

func (m *DeviceMonitor) finish(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	close(m.done)
}

// Stop closes the stream and waits for the read loop to exit. It may be
// called more than once and from several goroutines.
func (m *DeviceMonitor) Stop() {
	if !m.started.Load() {
		return
	}
	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		m.mu.Lock()
		t := m.t
		m.mu.Unlock()
		if t != nil {
			t.Close()
		}
	})
	<-m.done
}

// Devices returns the current snapshot sorted by serial
func (m *DeviceMonitor) Devices() []DeviceDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeviceDescriptor, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Err returns the error that ended the read loop; nil after a clean Stop
func (m *DeviceMonitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Done is closed once the monitor has stopped
func (m *DeviceMonitor) Done() <-chan struct{} {
	return m.done
}

// DiffDevices compares a snapshot keyed by serial with a new device list.
// Removals come first, then changes, then additions, each sorted by serial.
func DiffDevices(prev map[string]DeviceDescriptor, next []DeviceDescriptor, at time.Time) []DeviceEvent {
	nextBySerial := make(map[string]DeviceDescriptor, len(next))
	for _, d := range next {
		nextBySerial[d.Serial] = d
	}

	var removed, changed, added []DeviceEvent
	for serial, old := range prev {
		if _, ok := nextBySerial[serial]; !ok {
			removed = append(removed, DeviceEvent{Type: DeviceRemoved, Device: old, Timestamp: at})
		}
	}
	for serial, d := range nextBySerial {
		old, ok := prev[serial]
		switch {
		case !ok:
			added = append(added, DeviceEvent{Type: DeviceAdded, Device: d, Timestamp: at})
		case !old.Equal(d):
			changed = append(changed, DeviceEvent{Type: DeviceChanged, Device: d, Previous: old, Timestamp: at})
		}
	}

	bySerial := func(events []DeviceEvent) {
		sort.Slice(events, func(i, j int) bool { return events[i].Device.Serial < events[j].Device.Serial })
	}
	bySerial(removed)
	bySerial(changed)
	bySerial(added)

	events := make([]DeviceEvent, 0, len(removed)+len(changed)+len(added))
	events = append(events, removed...)
	events = append(events, changed...)
	return append(events, added...)
}
