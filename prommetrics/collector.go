// Package prommetrics exports batchz engine counters to Prometheus.
package prommetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	batchz "github.com/zoobzio/batchz"
)

// SnapshotSource is anything that can report engine metrics; *batchz.Engine
// satisfies it for every item type.
type SnapshotSource interface {
	Metrics() batchz.MetricsSnapshot
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(batchz.MetricsSnapshot) uint64
}

// Collector reads a fresh snapshot on every scrape, so the engine never
// touches Prometheus types on its hot path.
type Collector struct {
	source   SnapshotSource
	counters []counterDesc
}

// NewCollector creates a collector for one engine. constLabels typically
// carries the engine name.
func NewCollector(namespace string, source SnapshotSource, constLabels prometheus.Labels) *Collector {
	newDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, constLabels)
	}

	return &Collector{
		source: source,
		counters: []counterDesc{
			{
				desc:  newDesc("items_received_total", "Items written through the input sink."),
				value: func(s batchz.MetricsSnapshot) uint64 { return s.ItemsReceived },
			},
			{
				desc:  newDesc("items_accepted_total", "Items delivered in successfully flushed batches."),
				value: func(s batchz.MetricsSnapshot) uint64 { return s.ItemsAccepted },
			},
			{
				desc:  newDesc("batches_flushed_total", "Batches flushed successfully."),
				value: func(s batchz.MetricsSnapshot) uint64 { return s.BatchesFlushed },
			},
			{
				desc:  newDesc("items_dropped_total", "Items rejected by a full queue or discarded on cancellation."),
				value: func(s batchz.MetricsSnapshot) uint64 { return s.ItemsDropped },
			},
			{
				desc:  newDesc("flush_errors_total", "Flush attempts that failed."),
				value: func(s batchz.MetricsSnapshot) uint64 { return s.FlushErrors },
			},
			{
				desc:  newDesc("items_failed_total", "Items delivered in failed batches."),
				value: func(s batchz.MetricsSnapshot) uint64 { return s.ItemsFailed },
			},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, counter := range c.counters {
		ch <- counter.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Metrics()
	for _, counter := range c.counters {
		ch <- prometheus.MustNewConstMetric(counter.desc, prometheus.CounterValue, float64(counter.value(snap)))
	}
}
