// Package metrics exports permission cache activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements jacc.CacheMetrics.
// One instance can be shared by every cache of a process.
type Prometheus struct {
	ChecksTotal  *prometheus.CounterVec
	LoadsTotal   *prometheus.CounterVec
	LoadDuration prometheus.Histogram
	ResetsTotal  prometheus.Counter
}

// NewPrometheus creates and registers the cache metrics with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	return &Prometheus{
		ChecksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jacc",
				Subsystem: "permission_cache",
				Name:      "checks_total",
				Help:      "Permission checks by how they were answered",
			},
			[]string{"outcome", "granted"},
		),
		LoadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "jacc",
				Subsystem: "permission_cache",
				Name:      "loads_total",
				Help:      "Snapshot loads from the policy provider",
			},
			[]string{"result"}, // result=ok/error
		),
		LoadDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "jacc",
				Subsystem: "permission_cache",
				Name:      "load_duration_seconds",
				Help:      "Time spent querying the policy provider",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ResetsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "jacc",
				Subsystem: "permission_cache",
				Name:      "resets_total",
				Help:      "Resets that dropped an installed snapshot",
			},
		),
	}
}

func (p *Prometheus) ObserveCheck(outcome string, granted bool) {
	g := "false"
	if granted {
		g = "true"
	}
	p.ChecksTotal.WithLabelValues(outcome, g).Inc()
}

func (p *Prometheus) ObserveLoad(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.LoadsTotal.WithLabelValues(result).Inc()
	p.LoadDuration.Observe(d.Seconds())
}

func (p *Prometheus) ObserveReset() {
	p.ResetsTotal.Inc()
}
