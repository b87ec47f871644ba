package metrics

import (
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// TestMetricsRegistersAndRecords exercises every job's collectors in one
// test since New registers against the global default registry and a
// second call in this binary would panic on duplicate registration.
func TestMetricsRegistersAndRecords(t *testing.T) {
	m := New(discardLogger())
	require.NotNil(t, m)

	m.NodePool.BeaconNodeHealthy.WithLabelValues("http://primary").Set(1)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.NodePool.BeaconNodeHealthy.WithLabelValues("http://primary")), 0)

	m.NodePool.BeaconFailoverEvents.Inc()
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.NodePool.BeaconFailoverEvents), 0)

	m.Registry.ActiveValidators.Set(3)
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.Registry.ActiveValidators), 0)

	m.Fetcher.CacheFreshHitTotal.Inc()
	m.Fetcher.CacheMissTotal.Inc()
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Fetcher.CacheFreshHitTotal), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Fetcher.CacheMissTotal), 0)

	m.Fetcher.FetchCyclesTotal.WithLabelValues("ok").Inc()
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.Fetcher.FetchCyclesTotal.WithLabelValues("ok")), 0)
}
