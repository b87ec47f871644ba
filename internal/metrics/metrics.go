// Package metrics exposes Prometheus gauges for the node pool, identifier
// registry and duty fetcher, grouped into jobs the way the teacher's beacon
// package groups its metrics jobs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const namespace = "eth_duties"

// Metrics groups every registered job. The collectors are registered on the
// Prometheus default registry by New; there is no start or stop step.
type Metrics struct {
	NodePool *NodePoolMetrics
	Registry *RegistryMetrics
	Fetcher  *FetcherMetrics
	log      logrus.FieldLogger
}

// New builds and registers every metrics job under namespace.
func New(log logrus.FieldLogger) *Metrics {
	constLabels := prometheus.Labels{}

	return &Metrics{
		NodePool: newNodePoolMetrics(constLabels),
		Registry: newRegistryMetrics(constLabels),
		Fetcher:  newFetcherMetrics(constLabels),
		log:      log.WithField("module", "metrics"),
	}
}

// NodePoolMetrics reports beacon/key-manager node health (C2).
type NodePoolMetrics struct {
	BeaconNodeHealthy    *prometheus.GaugeVec
	KeyManagerHealthy    *prometheus.GaugeVec
	BeaconFailoverEvents prometheus.Counter
}

func newNodePoolMetrics(constLabels prometheus.Labels) *NodePoolMetrics {
	m := &NodePoolMetrics{
		BeaconNodeHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "nodepool",
			Name:        "beacon_node_healthy",
			Help:        "Whether a configured beacon node currently responds healthy.",
			ConstLabels: constLabels,
		}, []string{"node"}),
		KeyManagerHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "nodepool",
			Name:        "keymanager_healthy",
			Help:        "Whether a configured key-manager endpoint currently responds healthy.",
			ConstLabels: constLabels,
		}, []string{"endpoint"}),
		BeaconFailoverEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "nodepool",
			Name:        "beacon_failover_events_total",
			Help:        "Count of times the primary beacon node turned unhealthy.",
			ConstLabels: constLabels,
		}),
	}

	prometheus.MustRegister(m.BeaconNodeHealthy, m.KeyManagerHealthy, m.BeaconFailoverEvents)

	return m
}

// RegistryMetrics reports the active validator identifier set (C4).
type RegistryMetrics struct {
	ActiveValidators prometheus.Gauge
	InactiveFiltered prometheus.Counter
}

func newRegistryMetrics(constLabels prometheus.Labels) *RegistryMetrics {
	m := &RegistryMetrics{
		ActiveValidators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "active_validators",
			Help:        "Number of active validator identifiers currently tracked.",
			ConstLabels: constLabels,
		}),
		InactiveFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "registry",
			Name:        "inactive_filtered_total",
			Help:        "Count of supplied identifiers filtered out for not being active.",
			ConstLabels: constLabels,
		}),
	}

	prometheus.MustRegister(m.ActiveValidators, m.InactiveFiltered)

	return m
}

// FetcherMetrics reports duty-fetch cycle outcomes (C5/C6).
type FetcherMetrics struct {
	FetchCyclesTotal   *prometheus.CounterVec
	FetchDuration      prometheus.Histogram
	UpcomingDutyCount  *prometheus.GaugeVec
	CacheFreshHitTotal prometheus.Counter
	CacheMissTotal     prometheus.Counter
}

func newFetcherMetrics(constLabels prometheus.Labels) *FetcherMetrics {
	m := &FetcherMetrics{
		FetchCyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "fetcher",
			Name:        "cycles_total",
			Help:        "Total duty-fetch cycles, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "fetcher",
			Name:        "cycle_duration_seconds",
			Help:        "Duration of a full duty-fetch cycle.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		UpcomingDutyCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "fetcher",
			Name:        "upcoming_duties",
			Help:        "Number of upcoming duties in the last merged table, by type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		CacheFreshHitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "fetcher",
			Name:        "cache_fresh_hits_total",
			Help:        "Cycles served from the duty store without a refetch.",
			ConstLabels: constLabels,
		}),
		CacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "fetcher",
			Name:        "cache_misses_total",
			Help:        "Cycles that required a refetch.",
			ConstLabels: constLabels,
		}),
	}

	prometheus.MustRegister(m.FetchCyclesTotal, m.FetchDuration, m.UpcomingDutyCount, m.CacheFreshHitTotal, m.CacheMissTotal)

	return m
}
