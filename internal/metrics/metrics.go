// Package metrics provides the Prometheus instruments of the voice pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voice"

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds the collectors registered for one process.
type Metrics struct {
	chunkDuration   *prometheus.HistogramVec
	chunksTotal     *prometheus.CounterVec
	jobsActive      prometheus.Gauge
	jobDuration     *prometheus.HistogramVec
	stitchDuration  prometheus.Histogram
	audioSecondsOut prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		chunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chunk_synthesis_duration_seconds",
				Help:      "Duration of single chunk synthesis calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_total",
				Help:      "Total number of synthesized chunks by outcome",
			},
			[]string{"status"}, // status: success, rejected, timeout, io_failure, cancelled
		),
		jobsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_active",
				Help:      "Number of currently running pipeline jobs",
			},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Histogram of total pipeline job duration in seconds",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900},
			},
			[]string{"outcome"},
		),
		stitchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stitch_duration_seconds",
				Help:      "Duration of stitching chunk audio into one artifact",
				Buckets:   prometheus.DefBuckets,
			},
		),
		audioSecondsOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generated_audio_seconds_total",
				Help:      "Total seconds of audio in generated artifacts",
			},
		),
	}

	reg.MustRegister(
		m.chunkDuration,
		m.chunksTotal,
		m.jobsActive,
		m.jobDuration,
		m.stitchDuration,
		m.audioSecondsOut,
	)

	return m
}

// ObserveChunk records one provider call. Status is StatusSuccess or the
// failure kind.
func (m *Metrics) ObserveChunk(status string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.chunksTotal.WithLabelValues(status).Inc()
	m.chunkDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// JobStarted marks a pipeline run as active.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}

	m.jobsActive.Inc()
}

// JobFinished records the end of a pipeline run.
func (m *Metrics) JobFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.jobsActive.Dec()
	m.jobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveStitch records a completed stitch and the audio it produced.
func (m *Metrics) ObserveStitch(elapsed, audio time.Duration) {
	if m == nil {
		return
	}

	m.stitchDuration.Observe(elapsed.Seconds())
	m.audioSecondsOut.Add(audio.Seconds())
}

// ObserveArtifact records audio delivered without stitching.
func (m *Metrics) ObserveArtifact(audio time.Duration) {
	if m == nil {
		return
	}

	m.audioSecondsOut.Add(audio.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
