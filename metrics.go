// SPDX-License-Identifier: MIT

package gvrs

import "github.com/prometheus/client_golang/prometheus"

// collector exposes the access counters of an open file to a
// Prometheus registry. Long-running services that keep a store open
// register one collector per file, labeled by path.
type collector struct {
	f *File

	gets       *prometheus.Desc
	hits       *prometheus.Desc
	reads      *prometheus.Desc
	writes     *prometheus.Desc
	evictions  *prometheus.Desc
	freeNodes  *prometheus.Desc
	freeBytes  *prometheus.Desc
}

// NewCollector returns a prometheus.Collector over the cache and
// free-space counters of f. The collector reads the live counters at
// scrape time; it must not outlive the file.
func NewCollector(f *File) prometheus.Collector {
	labels := prometheus.Labels{"path": f.path}
	return &collector{
		f: f,
		gets: prometheus.NewDesc("gvrs_tile_cache_gets_total",
			"Number of tile requests against the cache.", nil, labels),
		hits: prometheus.NewDesc("gvrs_tile_cache_hits_total",
			"Number of tile requests satisfied from the cache.", nil, labels),
		reads: prometheus.NewDesc("gvrs_tile_reads_total",
			"Number of tiles read from disk.", nil, labels),
		writes: prometheus.NewDesc("gvrs_tile_writes_total",
			"Number of tiles written to disk.", nil, labels),
		evictions: prometheus.NewDesc("gvrs_tile_evictions_total",
			"Number of tiles evicted from the cache.", nil, labels),
		freeNodes: prometheus.NewDesc("gvrs_freespace_nodes",
			"Number of free-space blocks in the file.", nil, labels),
		freeBytes: prometheus.NewDesc("gvrs_freespace_bytes",
			"Total bytes held in free-space blocks.", nil, labels),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.gets
	ch <- c.hits
	ch <- c.reads
	ch <- c.writes
	ch <- c.evictions
	ch <- c.freeNodes
	ch <- c.freeBytes
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.f.CacheStats()
	free := c.f.FreeSpace()
	ch <- prometheus.MustNewConstMetric(c.gets, prometheus.CounterValue, float64(stats.Gets))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.reads, prometheus.CounterValue, float64(stats.Reads))
	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(stats.Writes))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(stats.Evictions))
	ch <- prometheus.MustNewConstMetric(c.freeNodes, prometheus.GaugeValue, float64(free.Nodes))
	ch <- prometheus.MustNewConstMetric(c.freeBytes, prometheus.GaugeValue, float64(free.TotalBytes))
}
