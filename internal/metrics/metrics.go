package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
	CacheSkip  = "skipped"
)

// Metrics records synthesis activity on its own registry so a one-shot CLI
// run can dump exactly these series to a textfile. All methods are safe on
// a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups      *prometheus.CounterVec
	cacheWriteErrors  prometheus.Counter
	cacheWriteSkips   prometheus.Counter
	detailFetches     prometheus.Counter
	sourceWarnings    *prometheus.CounterVec
	groupHosts        *prometheus.GaugeVec
	synthesisDuration prometheus.Histogram
	lastSuccess       prometheus.Gauge
}

// New creates the inventory metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ec2_inventory_cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		cacheWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "ec2_inventory_cache_write_errors_total",
			Help: "Failed cache writes",
		}),
		cacheWriteSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "ec2_inventory_cache_write_skips_total",
			Help: "Documents not cached because a discovery query failed",
		}),
		detailFetches: f.NewCounter(prometheus.CounterOpts{
			Name: "ec2_inventory_detail_fetches_total",
			Help: "Instance detail fetches issued",
		}),
		sourceWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ec2_inventory_source_warnings_total",
			Help: "Non-fatal query failures by source",
		}, []string{"source"}),
		groupHosts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ec2_inventory_group_hosts",
			Help: "Hosts per inventory group in the last emitted document",
		}, []string{"group"}),
		synthesisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ec2_inventory_synthesis_duration_seconds",
			Help:    "Duration of inventory synthesis, cache hits included",
			Buckets: prometheus.DefBuckets,
		}),
		lastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "ec2_inventory_last_success_timestamp_seconds",
			Help: "Unix time of the last successful synthesis",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheWriteFailed() {
	if m == nil {
		return
	}
	m.cacheWriteErrors.Inc()
}

func (m *Metrics) CacheWriteSkipped() {
	if m == nil {
		return
	}
	m.cacheWriteSkips.Inc()
}

func (m *Metrics) DetailFetches(n int) {
	if m == nil {
		return
	}
	m.detailFetches.Add(float64(n))
}

func (m *Metrics) SourceWarning(source string) {
	if m == nil {
		return
	}
	m.sourceWarnings.WithLabelValues(source).Inc()
}

func (m *Metrics) GroupHosts(group string, n int) {
	if m == nil {
		return
	}
	m.groupHosts.WithLabelValues(group).Set(float64(n))
}

// Synthesized records a finished run that started at start.
func (m *Metrics) Synthesized(start time.Time) {
	if m == nil {
		return
	}
	m.synthesisDuration.Observe(time.Since(start).Seconds())
	m.lastSuccess.SetToCurrentTime()
}

// WriteTextfile writes the current values in the node_exporter textfile
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
