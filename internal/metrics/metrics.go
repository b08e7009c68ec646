// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all pipeline instruments. Construct with an explicit
// registerer so tests can use private registries.
type Metrics struct {
	RunsStarted   prometheus.Counter
	RunsSucceeded prometheus.Counter
	RunsFailed    prometheus.Counter
	RunDuration   prometheus.Histogram

	SegmentsTranscribed prometheus.Counter
	SegmentFailures     prometheus.Counter
	FallbackSplits      prometheus.Counter

	FetchBytes    prometheus.Counter
	FetchRejected prometheus.Counter
}

// New registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_runs_started_total",
			Help: "Pipeline runs started",
		}),
		RunsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_runs_succeeded_total",
			Help: "Pipeline runs that produced a transcript",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_runs_failed_total",
			Help: "Pipeline runs that failed entirely",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audiopipe_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		SegmentsTranscribed: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_segments_transcribed_total",
			Help: "Segments successfully transcribed",
		}),
		SegmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_segment_failures_total",
			Help: "Segments that failed transcription",
		}),
		FallbackSplits: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_fallback_splits_total",
			Help: "Segmentation runs that used the in-process fallback",
		}),
		FetchBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_fetch_bytes_total",
			Help: "Bytes downloaded by the large-input fetcher",
		}),
		FetchRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "audiopipe_fetch_rejected_total",
			Help: "Fetches aborted for exceeding the byte budget",
		}),
	}
}
