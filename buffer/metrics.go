package buffer

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the pool does to its frames. It implements
// prometheus.Collector so the embedding process can register it wherever it
// exposes its registry.
type Metrics struct {
	Hits       prometheus.Counter
	Misses     prometheus.Counter
	Evictions  prometheus.Counter
	Flushes    prometheus.Counter
	DiskReads  prometheus.Counter
	DiskWrites prometheus.Counter
}

var _ prometheus.Collector = &Metrics{}

func newMetrics() *Metrics {
	return &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_hits_total",
			Help: "Fetches served from a resident frame.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_misses_total",
			Help: "Fetches that had to read the page from disk.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_evictions_total",
			Help: "Frames reclaimed by the replacer.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_flushed_pages_total",
			Help: "Pages written back by FlushPage or FlushAllPages.",
		}),
		DiskReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_disk_reads_total",
			Help: "Pages read from the disk manager.",
		}),
		DiskWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffer_pool_disk_writes_total",
			Help: "Pages written to the disk manager.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Hits, m.Misses, m.Evictions, m.Flushes, m.DiskReads, m.DiskWrites}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
