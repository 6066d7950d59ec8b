package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sofa",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock time spent per pipeline stage.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})

	sourceResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sofa",
		Subsystem: "pipeline",
		Name:      "source_results_total",
		Help:      "Fetch outcomes per upstream source.",
	}, []string{"source", "result"})

	validationDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sofa",
		Subsystem: "pipeline",
		Name:      "validation_drops_total",
		Help:      "Release records dropped for failing validation.",
	})
)
