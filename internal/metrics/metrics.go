// Package metrics holds the Prometheus collectors for the mapper and the log channel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shmlog"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultFull  = "full"
)

// Mapper holds the shared-mapping collectors.
type Mapper struct {
	Maps         *prometheus.CounterVec
	Unmaps       *prometheus.CounterVec
	SharedPages  prometheus.Gauge
	Rollbacks    prometheus.Counter
	PrunedStales prometheus.Counter
}

// Log holds the log channel collectors.
type Log struct {
	Produced   *prometheus.CounterVec
	Consumed   prometheus.Counter
	CASRetries prometheus.Counter
	Retired    prometheus.Counter
}

// NewMapper creates the mapper collectors and registers them on reg when reg is not nil.
func NewMapper(reg prometheus.Registerer) *Mapper {
	m := &Mapper{
		Maps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_total",
			Help:      "Total number of map_shared_pages calls by result.",
		}, []string{"result"}),
		Unmaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unmap_total",
			Help:      "Total number of unmap_shared_pages calls by result.",
		}, []string{"result"}),
		SharedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shared_pages",
			Help:      "Pages currently aliased into a destination address space.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_rollbacks_total",
			Help:      "Maps that pinned source pages and then released them on failure.",
		}),
		PrunedStales: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mapping_pruned_total",
			Help:      "Mapping records dropped because their process exited.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Maps, m.Unmaps, m.SharedPages, m.Rollbacks, m.PrunedStales)
	}
	return m
}

// NewLog creates the log channel collectors and registers them on reg when reg is not nil.
func NewLog(reg prometheus.Registerer) *Log {
	l := &Log{
		Produced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "produce_total",
			Help:      "Total number of produce calls by result.",
		}, []string{"result"}),
		Consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consume_total",
			Help:      "Messages emitted by the consumer.",
		}),
		CASRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_retries_total",
			Help:      "Header compare-and-swap attempts that lost to another writer.",
		}),
		Retired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retire_total",
			Help:      "Producers that decremented the liveness field.",
		}),
	}
	if reg != nil {
		reg.MustRegister(l.Produced, l.Consumed, l.CASRetries, l.Retired)
	}
	return l
}
