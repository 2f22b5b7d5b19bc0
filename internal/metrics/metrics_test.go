package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestMapperRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMapper(reg)
	m.Maps.WithLabelValues(ResultOK).Inc()
	m.Maps.WithLabelValues(ResultOK).Inc()
	m.Rollbacks.Inc()

	assert.Equal(t, 2.0, counterValue(t, m.Maps.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, counterValue(t, m.Rollbacks))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "shmlog_map_total")
	assert.Contains(t, names, "shmlog_map_rollbacks_total")
}

func TestLogUnregistered(t *testing.T) {
	l := NewLog(nil)
	l.Consumed.Add(3)
	assert.Equal(t, 3.0, counterValue(t, l.Consumed))
}
