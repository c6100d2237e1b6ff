// Package observability provides Prometheus metrics instrumentation for the workflow engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// WORKFLOW METRICS
// =============================================================================

var (
	workflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_workflow_runs_total",
			Help: "Total number of question runs",
		},
		[]string{"workflow", "terminal_reason"}, // completed, retry_exhausted, failed
	)

	workflowDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answerflow_workflow_duration_seconds",
			Help:    "Question run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow"},
	)

	stepTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_step_transitions_total",
			Help: "Total state machine transitions by source and target step",
		},
		[]string{"from", "to"},
	)

	retryExhaustionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_retry_exhaustions_total",
			Help: "Runs forced to finalize because a unit exhausted its retries",
		},
		[]string{"unit"},
	)
)

// =============================================================================
// UNIT METRICS
// =============================================================================

var (
	unitDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_unit_dispatches_total",
			Help: "Total number of unit invocations",
		},
		[]string{"unit", "status"}, // status: success, error
	)

	unitDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answerflow_unit_duration_seconds",
			Help:    "Unit invocation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"unit"},
	)

	reviewDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_review_decisions_total",
			Help: "Review verdicts by review kind and decision",
		},
		[]string{"kind", "decision"},
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_tool_calls_total",
			Help: "Tool invocations made inside research and synthesis loops",
		},
		[]string{"tool", "status"},
	)
)

// =============================================================================
// BUS METRICS
// =============================================================================

var busMessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "answerflow_bus_messages_total",
		Help: "Messages published on run buses",
	},
	[]string{"sender", "type"},
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_llm_calls_total",
			Help: "Total number of LLM API calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answerflow_llm_duration_seconds",
			Help:    "LLM call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answerflow_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answerflow_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordWorkflowRun records a finished run.
func RecordWorkflowRun(workflow string, terminalReason string, durationMS int) {
	workflowRunsTotal.WithLabelValues(workflow, terminalReason).Inc()
	workflowDurationSeconds.WithLabelValues(workflow).Observe(float64(durationMS) / 1000.0)
}

// RecordTransition records one state machine step.
func RecordTransition(from, to string) {
	stepTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordRetryExhausted records a unit running out of retries.
func RecordRetryExhausted(unit string) {
	retryExhaustionsTotal.WithLabelValues(unit).Inc()
}

// RecordUnitDispatch records one unit invocation.
// This should be called after the unit returns.
func RecordUnitDispatch(unit string, status string, durationMS int) {
	unitDispatchesTotal.WithLabelValues(unit, status).Inc()
	unitDurationSeconds.WithLabelValues(unit).Observe(float64(durationMS) / 1000.0)
}

// RecordReviewDecision records a review verdict.
func RecordReviewDecision(kind string, decision string) {
	reviewDecisionsTotal.WithLabelValues(kind, decision).Inc()
}

// RecordToolCall records a tool invocation.
func RecordToolCall(tool string, status string) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordBusMessage records a published bus message.
func RecordBusMessage(sender string, msgType string) {
	busMessagesTotal.WithLabelValues(sender, msgType).Inc()
}

// RecordLLMCall records LLM call metrics.
// This should be called after LLM generation completes.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
