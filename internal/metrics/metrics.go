// Package metrics exposes prometheus collectors for adb traffic. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adbkit"

// Metrics holds the collectors registered for one client
type Metrics struct {
	registry       *prometheus.Registry
	shellCommands  *prometheus.CounterVec
	syncBytes      *prometheus.CounterVec
	syncOperations *prometheus.CounterVec
	monitorEvents  *prometheus.CounterVec
	trackedDevices prometheus.Gauge
}

// New creates collectors registered on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		shellCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shell_commands_total",
			Help:      "Shell commands executed, by result.",
		}, []string{"result"}),
		syncBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_bytes_total",
			Help:      "Bytes moved over sync channels, by direction.",
		}, []string{"direction"}),
		syncOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_operations_total",
			Help:      "Sync operations, by operation and result.",
		}, []string{"op", "result"}),
		monitorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Device monitor events, by type.",
		}, []string{"type"}),
		trackedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_devices",
			Help:      "Devices currently reported by the device monitor.",
		}),
	}
	m.registry.MustRegister(m.shellCommands, m.syncBytes, m.syncOperations, m.monitorEvents, m.trackedDevices)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ShellCommand counts one shell command
func (m *Metrics) ShellCommand(err error) {
	if m == nil {
		return
	}
	m.shellCommands.WithLabelValues(result(err)).Inc()
}

// SyncBytes counts n bytes moved in direction "push" or "pull"
func (m *Metrics) SyncBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.syncBytes.WithLabelValues(direction).Add(float64(n))
}

// SyncOperation counts one sync operation
func (m *Metrics) SyncOperation(op string, err error) {
	if m == nil {
		return
	}
	m.syncOperations.WithLabelValues(op, result(err)).Inc()
}

// MonitorEvent counts one device event
func (m *Metrics) MonitorEvent(eventType string) {
	if m == nil {
		return
	}
	m.monitorEvents.WithLabelValues(eventType).Inc()
}

// SetTrackedDevices records the size of the current device list
func (m *Metrics) SetTrackedDevices(n int) {
	if m == nil {
		return
	}
	m.trackedDevices.Set(float64(n))
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
