package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/alternet/internal/metrics"
)

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := metrics.New(reg, "server")

	m.Connected()
	m.Connected()
	m.Disconnected()
	m.Received(10)
	m.Sent(4)
	m.Sent(0)
	m.Delivered("raw")
	m.Delivered("raw")
	m.DecodeFailed()
	m.SendFailed()

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetGauge() != nil:
				values[mf.GetName()] += metric.GetGauge().GetValue()
			case metric.GetCounter() != nil:
				values[mf.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["alternet_connections_active"])
	assert.Equal(t, 2.0, values["alternet_connections_total"])
	assert.Equal(t, 10.0, values["alternet_bytes_received_total"])
	assert.Equal(t, 4.0, values["alternet_bytes_sent_total"])
	assert.Equal(t, 2.0, values["alternet_units_delivered_total"])
	assert.Equal(t, 1.0, values["alternet_decode_errors_total"])
	assert.Equal(t, 1.0, values["alternet_send_errors_total"])
}

func TestMetrics_SharedAcrossEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := metrics.New(reg, "server")
	b := metrics.New(reg, "server")
	c := metrics.New(reg, "client")

	a.Received(1)
	b.Received(2)
	c.Received(5)

	count, err := testutil.GatherAndCount(reg, "alternet_bytes_received_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per role")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Connected()
		m.Disconnected()
		m.Received(1)
		m.Sent(1)
		m.Delivered("raw")
		m.DecodeFailed()
		m.SendFailed()
	})

	assert.NotPanics(t, func() {
		metrics.New(nil, "client").Connected()
	})
}
