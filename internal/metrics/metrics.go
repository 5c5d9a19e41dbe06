package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Interview lifecycle metrics
	InterviewsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_interviews_started_total",
			Help: "Total number of interview workflows started",
		},
	)

	InterviewsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_interviews_completed_total",
			Help: "Total number of interview workflows completed",
		},
		[]string{"status"},
	)

	InterviewDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drill_interview_duration_seconds",
			Help:    "Wall-clock interview duration in seconds, including human wait time",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)

	InterviewCycles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drill_interview_cycles",
			Help:    "Number of hypothesis cycles per interview",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	HypothesisVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_hypothesis_verdicts_total",
			Help: "Total number of per-hypothesis verification verdicts",
		},
		[]string{"result"},
	)

	RetryCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_retry_cycles_total",
			Help: "Total number of cycles restarted because no hypothesis was valid",
		},
	)

	// Human interaction metrics
	InteractionsWaiting = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drill_interactions_waiting",
			Help: "Number of interviews currently waiting on a human response",
		},
		[]string{"point"},
	)

	InteractionWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drill_interaction_wait_seconds",
			Help:    "Time spent waiting for a human response per interaction point",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		},
		[]string{"point"},
	)

	ResumeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_resume_rejections_total",
			Help: "Total number of resume payloads rejected before reaching the workflow",
		},
		[]string{"point", "reason"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_llm_requests_total",
			Help: "Total number of LLM chat requests",
		},
		[]string{"node", "status"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drill_llm_latency_seconds",
			Help:    "LLM chat request latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"node"},
	)

	LLMTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drill_llm_tokens_used",
			Help:    "Number of tokens used per LLM request",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 20000},
		},
	)

	// Calculation tool metrics
	CalcExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_calc_executions_total",
			Help: "Total number of calculation script executions",
		},
		[]string{"status"},
	)

	CalcDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drill_calc_duration_seconds",
			Help:    "Calculation script execution duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_sessions_created_total",
			Help: "Total number of interview sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drill_sessions_active",
			Help: "Number of active interview sessions",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drill_session_cache_size",
			Help: "Number of sessions held in the local cache",
		},
	)

	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_session_cache_hits_total",
			Help: "Total number of session lookups served from the local cache",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_session_cache_misses_total",
			Help: "Total number of session lookups that went to Redis",
		},
	)

	SessionCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_session_cache_evictions_total",
			Help: "Total number of sessions evicted from the local cache",
		},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drill_stream_subscribers",
			Help: "Number of connected event stream subscribers",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_events_published_total",
			Help: "Total number of interview events published",
		},
		[]string{"type"},
	)

	// Persistence metrics
	PersistenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_persistence_writes_total",
			Help: "Total number of persistence writes",
		},
		[]string{"entity", "status"},
	)

	PersistenceQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drill_persistence_queue_depth",
			Help: "Current depth of the async persistence write queue",
		},
	)

	// Auth metrics
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_auth_failures_total",
			Help: "Total number of rejected API requests",
		},
		[]string{"reason"},
	)

	// Report metrics
	ReportsBuilt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_reports_built_total",
			Help: "Total number of final reports rendered",
		},
	)
)

// RecordInterviewCompleted records terminal metrics for an interview workflow.
func RecordInterviewCompleted(status string, durationSeconds float64, cycles int) {
	InterviewsCompleted.WithLabelValues(status).Inc()
	InterviewDuration.Observe(durationSeconds)
	if cycles > 0 {
		InterviewCycles.Observe(float64(cycles))
	}
}

// RecordLLMRequest records the outcome of one LLM chat request.
func RecordLLMRequest(node, status string, durationSeconds float64, tokens int) {
	LLMRequests.WithLabelValues(node, status).Inc()
	LLMLatency.WithLabelValues(node).Observe(durationSeconds)
	if tokens > 0 {
		LLMTokensUsed.Observe(float64(tokens))
	}
}

// RecordCalcExecution records a calculation script run.
func RecordCalcExecution(status string, durationSeconds float64) {
	CalcExecutions.WithLabelValues(status).Inc()
	CalcDuration.Observe(durationSeconds)
}

// RecordInteractionResolved records how long a human interaction point was
// outstanding before the answer arrived.
func RecordInteractionResolved(point string, waitSeconds float64) {
	InteractionWaitSeconds.WithLabelValues(point).Observe(waitSeconds)
}

// RecordVerdicts bumps the per-result verdict counters for one cycle.
func RecordVerdicts(valid, invalid int) {
	if valid > 0 {
		HypothesisVerdicts.WithLabelValues("valid").Add(float64(valid))
	}
	if invalid > 0 {
		HypothesisVerdicts.WithLabelValues("invalid").Add(float64(invalid))
	}
}
