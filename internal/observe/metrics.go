// Package observe holds the metrics and tracing used by the segmentation pipeline.
package observe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Period outcomes recorded by PeriodDone.
const (
	OutcomeProcessed = "processed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Metrics contains all Prometheus metrics for one segmentation run.
// Each instance owns its registry so runs and tests do not share counters.
type Metrics struct {
	registry *prometheus.Registry

	// VAD metrics
	FramesClassified *prometheus.CounterVec
	SegmentsEmitted  prometheus.Counter
	SegmentDuration  prometheus.Histogram
	RunsDiscarded    prometheus.Counter
	DiscardDuration  prometheus.Histogram

	// Period metrics
	Periods          *prometheus.CounterVec
	PeriodProcessing prometheus.Histogram

	// Output metrics
	ClipsWritten prometheus.Counter
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalis_vad_frames_total",
			Help: "Total number of frames classified, by decision",
		}, []string{"voiced"}),
		SegmentsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_segments_emitted_total",
			Help: "Total number of speech segments emitted",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vocalis_segment_duration_seconds",
			Help:    "Duration of emitted speech segments",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1s to ~4 minutes
		}),
		RunsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_runs_discarded_total",
			Help: "Total number of speech runs dropped for being too short",
		}),
		DiscardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vocalis_discarded_run_duration_seconds",
			Help:    "Duration of dropped speech runs",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 14), // 0.5s to 7s
		}),

		Periods: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalis_periods_total",
			Help: "Total number of presence periods, by outcome",
		}, []string{"outcome"}),
		PeriodProcessing: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vocalis_period_processing_seconds",
			Help:    "Wall time spent segmenting one presence period",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4 minutes
		}),

		ClipsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_clips_written_total",
			Help: "Total number of clip files written",
		}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// FrameClassified counts one classifier decision.
func (m *Metrics) FrameClassified(voiced bool) {
	if voiced {
		m.FramesClassified.WithLabelValues("true").Inc()
		return
	}
	m.FramesClassified.WithLabelValues("false").Inc()
}

// SegmentEmitted records an emitted segment of the given length.
func (m *Metrics) SegmentEmitted(seconds float64) {
	m.SegmentsEmitted.Inc()
	m.SegmentDuration.Observe(seconds)
}

// RunDiscarded records a run dropped by the minimum duration filter.
func (m *Metrics) RunDiscarded(seconds float64) {
	m.RunsDiscarded.Inc()
	m.DiscardDuration.Observe(seconds)
}

// PeriodDone records the outcome of one period and how long it took.
func (m *Metrics) PeriodDone(outcome string, took time.Duration) {
	m.Periods.WithLabelValues(outcome).Inc()
	m.PeriodProcessing.Observe(took.Seconds())
}

// ClipWritten counts one clip file on disk.
func (m *Metrics) ClipWritten() { m.ClipsWritten.Inc() }

// WriteTextfile dumps the registry in the text exposition format, for the
// node exporter textfile collector or a later look.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
