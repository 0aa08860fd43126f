package engine

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/osmupdate/internal/journal"
)

const metricsNamespace = "osmupdate"

// Metrics counts what runs did. Each Metrics has its own registry so it can
// be written to a node-exporter textfile after a one-shot run.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	downloaded *prometheus.CounterVec
	reused     *prometheus.CounterVec
	merges     prometheus.Counter
	newest     prometheus.Gauge
	lastRun    *prometheus.GaugeVec
	duration   prometheus.Gauge
}

// NewMetrics creates and registers the run metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		downloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changefiles_downloaded_total",
			Help:      "Changefiles downloaded from the replication feed.",
		}, []string{"tier"}),
		reused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "changefiles_reused_total",
			Help:      "Changefiles found in the cache directory instead of downloaded.",
		}, []string{"tier"}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "merges_total",
			Help:      "Converter merges performed.",
		}),
		newest: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "newest_timestamp_seconds",
			Help:      "Timestamp of the newest change applied, as Unix seconds.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_status",
			Help:      "1 for the status of the last finished run, 0 otherwise.",
		}, []string{"status"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall-clock duration of the last run.",
		}),
	}
	m.registry.MustRegister(m.downloaded, m.reused, m.merges, m.newest, m.lastRun, m.duration)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) observeFetch(f journal.Fetch) {
	if m == nil {
		return
	}
	if f.Reused {
		m.reused.WithLabelValues(f.Tier).Inc()
		return
	}
	m.downloaded.WithLabelValues(f.Tier).Inc()
}

func (m *Metrics) observeMerge() {
	if m == nil {
		return
	}
	m.merges.Inc()
}

func (m *Metrics) observeRun(status string, newest time.Time, took time.Duration) {
	if m == nil {
		return
	}
	for _, s := range []string{journal.StatusDone, journal.StatusUpToDate, journal.StatusFailed} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.lastRun.WithLabelValues(s).Set(v)
	}
	if !newest.IsZero() {
		m.newest.Set(float64(newest.Unix()))
	}
	m.duration.Set(took.Seconds())
}

// WriteTextfile writes all metrics in the text exposition format, replacing
// path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}
