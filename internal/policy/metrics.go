package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	guardEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_script_guard_evaluations_total",
			Help: "Total script guard evaluations",
		},
		[]string{"decision", "mode"},
	)

	guardEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drill_script_guard_evaluation_duration_seconds",
			Help:    "Time spent evaluating script policies",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"mode"},
	)

	guardDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_script_guard_denials_total",
			Help: "Scripts denied by the guard",
		},
		[]string{"reason"},
	)

	guardCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drill_script_guard_cache_total",
			Help: "Guard decision cache lookups",
		},
		[]string{"result"},
	)

	guardDryRunDivergence = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drill_script_guard_dry_run_divergence_total",
			Help: "Scripts dry-run would have denied",
		},
	)

	guardPoliciesLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drill_script_guard_policies_loaded",
			Help: "Number of policy files currently loaded",
		},
		[]string{"version"},
	)
)

func recordEvaluation(d *Decision, mode string, seconds float64) {
	decision := "allow"
	if !d.Allow {
		decision = "deny"
		guardDenials.WithLabelValues(d.Reason).Inc()
	}
	guardEvaluations.WithLabelValues(decision, mode).Inc()
	guardEvaluationDuration.WithLabelValues(mode).Observe(seconds)
}

func recordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	guardCacheLookups.WithLabelValues(result).Inc()
}

func recordDryRunDivergence() {
	guardDryRunDivergence.Inc()
}

func recordPolicyLoad(count int, version string) {
	guardPoliciesLoaded.Reset()
	guardPoliciesLoaded.WithLabelValues(version).Set(float64(count))
}
