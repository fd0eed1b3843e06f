package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts a dynamic set of named proxy MetricsRecords into a
// github.com/prometheus/client_golang collector, so a host process that
// embeds the bridge can register it with its own prometheus.Registry and
// scrape per-proxy dispatch health alongside its other metrics. Proxies
// come and go at runtime (proxy_from_handle / teardown), so the set of
// descriptors is rebuilt from whatever is registered at Collect time rather
// than fixed at construction, the same pattern client_golang's own
// ProcessCollector uses for an unbounded label set.
type Collector struct {
	mu      sync.Mutex
	records map[string]*Record

	invocations *prometheus.Desc
	failures    *prometheus.Desc
	successRate *prometheus.Desc
	duration    *prometheus.Desc
}

// NewCollector returns an empty Collector. Register proxies onto it with
// Register as they are created.
func NewCollector() *Collector {
	return &Collector{
		records: make(map[string]*Record),
		invocations: prometheus.NewDesc(
			"synbridge_proxy_invocations_total",
			"Total dispatch invocations observed by a proxy.",
			[]string{"object_id"}, nil,
		),
		failures: prometheus.NewDesc(
			"synbridge_proxy_failures_total",
			"Total failed dispatch invocations observed by a proxy.",
			[]string{"object_id"}, nil,
		),
		successRate: prometheus.NewDesc(
			"synbridge_proxy_success_rate",
			"Fraction of dispatch invocations that succeeded.",
			[]string{"object_id"}, nil,
		),
		duration: prometheus.NewDesc(
			"synbridge_proxy_dispatch_duration_ms",
			"Cumulative dispatch duration in milliseconds.",
			[]string{"object_id"}, nil,
		),
	}
}

// Register makes record visible under objectID on the next Collect call.
func (c *Collector) Register(objectID string, record *Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[objectID] = record
}

// Unregister removes objectID, typically called from proxy teardown.
func (c *Collector) Unregister(objectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, objectID)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.invocations
	ch <- c.failures
	ch <- c.successRate
	ch <- c.duration
}

// Collect implements prometheus.Collector, emitting one sample set per
// currently-registered proxy.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snapshots := make(map[string]Snapshot, len(c.records))
	for id, r := range c.records {
		snapshots[id] = r.Snapshot()
	}
	c.mu.Unlock()

	for id, snap := range snapshots {
		ch <- prometheus.MustNewConstMetric(c.invocations, prometheus.CounterValue, float64(snap.Invocations), id)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(snap.Failures), id)
		ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, snap.SuccessRate, id)
		ch <- prometheus.MustNewConstMetric(c.duration, prometheus.CounterValue, snap.CumulativeDurationMs, id)
	}
}
