// Package metrics exposes the process-wide Prometheus counters,
// histograms, and gauges for the alert engine: transactions processed,
// notifications dispatched, LLM calls, and vector-similarity lookups.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsProcessedTotal counts every alert rule evaluation that
	// produced a triggered alert.
	AlertsProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alerts_processed_total",
		Help: "Total number of alert rule evaluations that triggered an alert.",
	})

	// ActionsExecutedTotal counts notification dispatch attempts, by
	// action (e.g. send_email, send_sms, send_webhook).
	ActionsExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actions_executed_total",
		Help: "Total number of notification dispatch actions executed, by action.",
	}, []string{"action"})

	// ActionProcessingDuration records how long a notification
	// dispatch action took, by action.
	ActionProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "action_processing_duration_seconds",
		Help:    "Duration of notification dispatch actions, by action.",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// LLMAnalysisDuration records how long rule-intent extraction took.
	LLMAnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llm_analysis_duration_seconds",
		Help:    "Duration of LLM rule-intent extraction calls.",
		Buckets: prometheus.DefBuckets,
	})

	// AlertsFilteredTotal counts alerts suppressed before dispatch
	// (e.g. by dedup or cooldown), by filter.
	AlertsFilteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_filtered_total",
		Help: "Total number of alerts filtered out before dispatch, by filter.",
	}, []string{"filter"})

	// ActionExecutionErrorsTotal counts failed dispatch attempts, by
	// action and error type.
	ActionExecutionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "action_execution_errors_total",
		Help: "Total number of notification dispatch failures, by action and error type.",
	}, []string{"action", "error_type"})

	// LLMAPICallsTotal counts calls made to an LLM provider, by
	// provider.
	LLMAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_api_calls_total",
		Help: "Total number of LLM provider API calls, by provider.",
	}, []string{"provider"})

	// LLMAPIErrorsTotal counts failed LLM provider calls, by provider
	// and error type.
	LLMAPIErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_api_errors_total",
		Help: "Total number of LLM provider API errors, by provider and error type.",
	}, []string{"provider", "error_type"})

	// VectorDBCallsTotal counts calls made to the embedding/similarity
	// store, by operation.
	VectorDBCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vectordb_api_calls_total",
		Help: "Total number of vector-similarity store API calls, by operation.",
	}, []string{"operation"})

	// AlertsInCooldownTotal reports the current number of rules
	// suppressed by cooldown.
	AlertsInCooldownTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alerts_in_cooldown_total",
		Help: "Current number of alert rules suppressed by cooldown.",
	})

	// ConcurrentActionsRunning reports the current number of
	// in-flight notification dispatches.
	ConcurrentActionsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concurrent_actions_running",
		Help: "Current number of notification dispatch actions in flight.",
	})

	// WebhookRequestsTotal counts inbound webhook-triggered requests
	// (e.g. rule-authoring callbacks), by status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Total number of webhook requests handled, by status.",
	}, []string{"status"})
)

// RecordAlert increments AlertsProcessedTotal.
func RecordAlert() {
	AlertsProcessedTotal.Inc()
}

// RecordAction increments ActionsExecutedTotal and observes duration
// against ActionProcessingDuration, both keyed by action.
func RecordAction(action string, duration time.Duration) {
	ActionsExecutedTotal.WithLabelValues(action).Inc()
	ActionProcessingDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordLLMAnalysis observes duration against LLMAnalysisDuration.
func RecordLLMAnalysis(duration time.Duration) {
	LLMAnalysisDuration.Observe(duration.Seconds())
}

// RecordFilteredAlert increments AlertsFilteredTotal for filter.
func RecordFilteredAlert(filter string) {
	AlertsFilteredTotal.WithLabelValues(filter).Inc()
}

// RecordActionError increments ActionExecutionErrorsTotal for action
// and errorType.
func RecordActionError(action, errorType string) {
	ActionExecutionErrorsTotal.WithLabelValues(action, errorType).Inc()
}

// RecordLLMAPICall increments LLMAPICallsTotal for provider.
func RecordLLMAPICall(provider string) {
	LLMAPICallsTotal.WithLabelValues(provider).Inc()
}

// RecordLLMAPIError increments LLMAPIErrorsTotal for provider and
// errorType.
func RecordLLMAPIError(provider, errorType string) {
	LLMAPIErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

// RecordVectorDBCall increments VectorDBCallsTotal for operation.
func RecordVectorDBCall(operation string) {
	VectorDBCallsTotal.WithLabelValues(operation).Inc()
}

// SetAlertsInCooldown sets the current cooldown gauge value.
func SetAlertsInCooldown(count float64) {
	AlertsInCooldownTotal.Set(count)
}

// IncrementConcurrentActions increments the in-flight dispatch gauge.
func IncrementConcurrentActions() {
	ConcurrentActionsRunning.Inc()
}

// DecrementConcurrentActions decrements the in-flight dispatch gauge.
func DecrementConcurrentActions() {
	ConcurrentActionsRunning.Dec()
}

// RecordWebhookRequest increments WebhookRequestsTotal for status.
func RecordWebhookRequest(status string) {
	WebhookRequestsTotal.WithLabelValues(status).Inc()
}

// Timer measures elapsed wall-clock time and records it against the
// relevant histogram on completion.
type Timer struct {
	start time.Time
}

// NewTimer starts a new Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the Timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordAction records the elapsed time as a dispatch of action.
func (t *Timer) RecordAction(action string) {
	RecordAction(action, t.Elapsed())
}

// RecordLLMAnalysis records the elapsed time as an LLM analysis call.
func (t *Timer) RecordLLMAnalysis() {
	RecordLLMAnalysis(t.Elapsed())
}
