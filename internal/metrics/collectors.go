package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"riskstream/internal/domain/activity"
)

// SnapshotSource is anything that can hand out the current pipeline snapshot
type SnapshotSource interface {
	Snapshot() activity.Snapshot
}

// SnapshotCollector exposes the size of the live pipeline state as gauges
type SnapshotCollector struct {
	source SnapshotSource

	// Descriptors
	entries   *prometheus.Desc
	version   *prometheus.Desc
	stageDone *prometheus.Desc
}

// NewSnapshotCollector creates a collector reading from source on every scrape
func NewSnapshotCollector(source SnapshotSource) *SnapshotCollector {
	return &SnapshotCollector{
		source: source,

		entries: prometheus.NewDesc(
			"riskstream_state_entries",
			"Number of entries held in each part of the pipeline state",
			[]string{"part"}, nil,
		),
		version: prometheus.NewDesc(
			"riskstream_state_version",
			"Number of state changes applied since start",
			nil, nil,
		),
		stageDone: prometheus.NewDesc(
			"riskstream_stage_completed",
			"Pipeline stage completion mark of the current run (0/1)",
			[]string{"stage"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.version
	ch <- c.stageDone
}

// Collect implements prometheus.Collector
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	parts := map[string]int{
		"active_agents":   len(snap.ActiveAgents),
		"activities":      len(snap.Activities),
		"thinking":        len(snap.Thinking),
		"completed":       len(snap.Completed),
		"debate_messages": len(snap.DebateMessages),
		"merkle_blocks":   len(snap.MerkleBlocks),
		"scenarios":       len(snap.Scenarios),
	}
	for part, n := range parts {
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(n), part)
	}

	ch <- prometheus.MustNewConstMetric(c.version, prometheus.CounterValue, float64(snap.Version))

	for _, stage := range activity.StageOrder {
		value := 0.0
		if snap.CompletedStages.Has(stage) {
			value = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.stageDone, prometheus.GaugeValue, value, string(stage))
	}
}

// RegisterSnapshotCollector registers the snapshot collector
func RegisterSnapshotCollector(collector *SnapshotCollector) {
	prometheus.MustRegister(collector)
}
