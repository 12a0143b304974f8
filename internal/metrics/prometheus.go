// Package metrics exposes pipeline counters for Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidproc_frames_processed_total",
		Help: "Total number of frames emitted to a sink, by transform",
	}, []string{"transform"})

	FrameTransformDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidproc_frame_transform_duration_seconds",
		Help:    "Time spent transforming a single frame",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"transform"})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidproc_runs_total",
		Help: "Total number of pipeline runs, by final state",
	}, []string{"state"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidproc_run_duration_seconds",
		Help:    "Wall time of a pipeline run",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidproc_active_runs",
		Help: "Number of pipeline runs currently in the Running state",
	})
)
