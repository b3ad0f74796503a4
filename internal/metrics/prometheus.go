package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Usage persistence metrics
	TurnsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_turns_persisted_total",
			Help: "Chat turns handed to the usage store",
		},
		[]string{"store", "status"}, // store: primary|fallback, status: success|error
	)

	PersistDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_usage_persist_duration_seconds",
			Help:    "Time to durably write one turn",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"store"},
	)

	Tokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_tokens_total",
			Help: "Tokens reported by the model provider",
		},
		[]string{"model", "kind"}, // kind: prompt|completion|total
	)

	TurnStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_turns_total",
			Help: "Finalized chat turns by outcome",
		},
		[]string{"model", "status"},
	)

	// Context reduction metrics
	TokensSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_context_tokens_saved_total",
			Help: "Estimated tokens removed before model submission",
		},
		[]string{"transform"}, // transform: cleaning|limiting|summarization
	)

	Summarizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_context_summarizations_total",
			Help: "Summarization attempts",
		},
		[]string{"status"}, // status: applied|fallback
	)

	// Instrumentation health
	InstrumentationWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_instrumentation_warnings_total",
			Help: "Recorder calls that were ignored",
		},
		[]string{"reason"}, // reason: not_initialized|sealed|already_initialized
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_events_published_total",
			Help: "TurnCompleted events published to Kafka",
		},
		[]string{"status"},
	)

	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_events_consumed_total",
			Help: "TurnCompleted events consumed into the warehouse",
		},
		[]string{"status"},
	)

	AnalyticsQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_analytics_queries_total",
			Help: "Analytics reads by query and outcome",
		},
		[]string{"query", "status"}, // status: success|error|cache_hit
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_usage_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"},
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_usage_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"worker"},
	)
)

var registerOnce sync.Once

// Init registers all metrics with Prometheus. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			TurnsPersisted,
			PersistDuration,
			Tokens,
			TurnStatus,
			TokensSaved,
			Summarizations,
			InstrumentationWarnings,
			EventsPublished,
			EventsConsumed,
			AnalyticsQueries,
			WorkerExecutions,
			WorkerDuration,
		)
	})
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordPersist records one write attempt against a store
func RecordPersist(store string, duration time.Duration, err error) {
	TurnsPersisted.WithLabelValues(store, status(err)).Inc()
	PersistDuration.WithLabelValues(store).Observe(duration.Seconds())
}

// RecordTurn records provider token usage for a finalized turn
func RecordTurn(model, turnStatus string, prompt, completion, total int) {
	TurnStatus.WithLabelValues(model, turnStatus).Inc()
	if prompt > 0 {
		Tokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		Tokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
	if total > 0 {
		Tokens.WithLabelValues(model, "total").Add(float64(total))
	}
}

// RecordTokensSaved records a context reduction
func RecordTokensSaved(transform string, saved int) {
	if saved > 0 {
		TokensSaved.WithLabelValues(transform).Add(float64(saved))
	}
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, status(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordAnalyticsQuery records an analytics read
func RecordAnalyticsQuery(query string, err error) {
	AnalyticsQueries.WithLabelValues(query, status(err)).Inc()
}
