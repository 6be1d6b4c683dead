package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ShellCommand(nil)
	m.SyncBytes("push", 10)
	m.SyncOperation("stat", errors.New("x"))
	m.MonitorEvent("added")
	m.SetTrackedDevices(3)
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.ShellCommand(nil)
	m.ShellCommand(errors.New("boom"))
	m.ShellCommand(nil)
	m.SyncBytes("pull", 100)
	m.SyncBytes("pull", 0)
	m.SetTrackedDevices(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.shellCommands.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shellCommands.WithLabelValues("error")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.syncBytes.WithLabelValues("pull")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.trackedDevices))
}

func TestHandler(t *testing.T) {
	m := New()
	m.MonitorEvent("added")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `adbkit_device_events_total{type="added"} 1`))
}

func TestGatherSyncOperations(t *testing.T) {
	m := New()
	m.SyncOperation("stat", nil)
	m.SyncOperation("recv", errors.New("closed"))
	m.SyncOperation("recv", nil)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var ops *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "adbkit_sync_operations_total" {
			ops = f
		}
	}
	require.NotNil(t, ops)
	assert.Equal(t, dto.MetricType_COUNTER, ops.GetType())

	got := map[string]float64{}
	for _, metric := range ops.GetMetric() {
		labels := map[string]string{}
		for _, l := range metric.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		got[labels["op"]+"/"+labels["result"]] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"stat/ok": 1, "recv/ok": 1, "recv/error": 1}, got)
}
