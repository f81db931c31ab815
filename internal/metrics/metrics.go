package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Explanation coordinator instrumentation.
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xai_explanation_cache_hits_total",
		Help: "Number of explanation requests served from the cache.",
	}, []string{"method", "scope"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xai_explanation_cache_misses_total",
		Help: "Number of explanation requests that triggered generation.",
	}, []string{"method", "scope"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xai_explanation_generation_seconds",
		Help:    "Wall-clock duration of explanation generation.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"method", "scope"})

	GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xai_explanation_generation_failures_total",
		Help: "Number of explanation generation attempts that failed.",
	}, []string{"method", "scope"})

	StudySessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xai_study_sessions_started_total",
		Help: "Number of study sessions created.",
	})

	StudyEvaluationsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xai_study_evaluations_recorded_total",
		Help: "Number of human evaluations accepted.",
	})
)
