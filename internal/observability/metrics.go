package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors this module exposes for writer
// throughput, HLS segment outcomes, and StreamMonitor probe outcomes.
// Collectors live on a private registry: corerec never opens an
// /metrics HTTP listener itself (that's a collaborator's job), but the
// registry is directly inspectable, including by tests via
// prometheus/client_golang/prometheus/testutil.
type Metrics struct {
	Registry *prometheus.Registry

	WriterBytesWrittenTotal  *prometheus.CounterVec
	WriterItemsWrittenTotal  *prometheus.CounterVec
	WriterCurrentFileBytes   *prometheus.GaugeVec

	HLSSegmentsFetchedTotal *prometheus.CounterVec
	HLSSegmentsSkippedTotal *prometheus.CounterVec
	HLSSegmentsFailedTotal  *prometheus.CounterVec

	MonitorProbesTotal        *prometheus.CounterVec
	MonitorProbeOutcomesTotal *prometheus.CounterVec
}

// NewMetrics constructs a Metrics on a fresh, private registry and
// registers every collector.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		WriterBytesWrittenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerec_writer_bytes_written_total",
			Help: "Total bytes written by the WriterCore pipeline, by strategy.",
		}, []string{"strategy"}),

		WriterItemsWrittenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerec_writer_items_written_total",
			Help: "Total items (tags/segments) written by the WriterCore pipeline, by strategy.",
		}, []string{"strategy"}),

		WriterCurrentFileBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "corerec_writer_current_file_bytes",
			Help: "Size in bytes of the currently open output file, by strategy.",
		}, []string{"strategy"}),

		HLSSegmentsFetchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerec_hls_segments_fetched_total",
			Help: "Total HLS media segments successfully fetched.",
		}, []string{"stream"}),

		HLSSegmentsSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerec_hls_segments_skipped_total",
			Help: "Total HLS media segments skipped by the gap-skip policy.",
		}, []string{"stream"}),

		HLSSegmentsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerec_hls_segments_failed_total",
			Help: "Total HLS media segment fetches that failed after retries.",
		}, []string{"stream"}),

		MonitorProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerec_monitor_probes_total",
			Help: "Total StreamMonitor liveness probes issued, by platform.",
		}, []string{"platform"}),

		MonitorProbeOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corerec_monitor_probe_outcomes_total",
			Help: "StreamMonitor probe outcomes, by platform and outcome.",
		}, []string{"platform", "outcome"}),
	}

	reg.MustRegister(
		m.WriterBytesWrittenTotal,
		m.WriterItemsWrittenTotal,
		m.WriterCurrentFileBytes,
		m.HLSSegmentsFetchedTotal,
		m.HLSSegmentsSkippedTotal,
		m.HLSSegmentsFailedTotal,
		m.MonitorProbesTotal,
		m.MonitorProbeOutcomesTotal,
	)

	return m
}
