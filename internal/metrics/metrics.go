package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for specforge
type Metrics struct {
	// Assistant call metrics
	AssistantCalls   *prometheus.CounterVec
	AssistantLatency *prometheus.HistogramVec

	// Review metrics
	Reviews          *prometheus.CounterVec
	ReviewDuration   prometheus.Histogram
	CategoryDuration *prometheus.HistogramVec
	CategoryFailures *prometheus.CounterVec
	ReviewTimeouts   prometheus.Counter

	// Decompose loop metrics
	DecomposeRuns        *prometheus.CounterVec
	DecomposeRevisions   prometheus.Counter
	DecomposeTransitions *prometheus.CounterVec

	// Suggestion session metrics
	SuggestionTransitions *prometheus.CounterVec
	ChangeReverts         prometheus.Counter
	SessionConflicts      prometheus.Counter

	// God spec detection
	GodSpecChecks *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		AssistantCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_assistant_calls_total",
				Help: "Total number of assistant invocations",
			},
			[]string{"operation", "success"},
		),
		AssistantLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specforge_assistant_latency_seconds",
				Help:    "Assistant invocation latency in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"operation"},
		),

		Reviews: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_reviews_total",
				Help: "Total number of completed reviews by verdict",
			},
			[]string{"verdict"},
		),
		ReviewDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "specforge_review_duration_seconds",
				Help:    "Wall-clock duration of a full review",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		CategoryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "specforge_review_category_duration_seconds",
				Help:    "Duration of a single review category prompt",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"category"},
		),
		CategoryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_review_category_failures_total",
				Help: "Review categories degraded to a failure marker",
			},
			[]string{"category", "kind"},
		),
		ReviewTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "specforge_review_timeouts_total",
				Help: "Reviews that hit their deadline with partial results",
			},
		),

		DecomposeRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_decompose_runs_total",
				Help: "Decompose loops by terminal status and verdict",
			},
			[]string{"status", "verdict"},
		),
		DecomposeRevisions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "specforge_decompose_revisions_total",
				Help: "Revision attempts requested from the assistant",
			},
		),
		DecomposeTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_decompose_transitions_total",
				Help: "Decompose state transitions",
			},
			[]string{"status"},
		),

		SuggestionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_suggestion_transitions_total",
				Help: "Suggestion status transitions",
			},
			[]string{"status"},
		),
		ChangeReverts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "specforge_change_reverts_total",
				Help: "Change records reverted",
			},
		),
		SessionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "specforge_session_conflicts_total",
				Help: "Session writes rejected by the version check",
			},
		),

		GodSpecChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "specforge_godspec_checks_total",
				Help: "God spec detections by outcome",
			},
			[]string{"god_spec"},
		),
	}
}

// Bool renders a label value for success-style labels
func Bool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
