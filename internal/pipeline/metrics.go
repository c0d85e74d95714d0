package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	pipelinesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reconstructd",
			Subsystem: "pipeline",
			Name:      "running",
			Help:      "Number of currently running session pipelines",
		},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reconstructd",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of completed reconstruction stages in seconds",
			// Stages run from sub-second (tests) to tens of minutes.
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"stage"},
	)

	stageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reconstructd",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total stage failures by reason",
		},
		[]string{"stage", "reason"},
	)

	sessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reconstructd",
			Subsystem: "pipeline",
			Name:      "sessions_finished_total",
			Help:      "Total sessions reaching a terminal state, by status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(pipelinesRunning, stageDuration, stageFailures, sessionsFinished)
}
