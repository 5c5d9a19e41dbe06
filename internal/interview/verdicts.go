package interview

import (
	"encoding/json"
	"strings"
)

// FallbackReason is used when an invalid cycle carries no per-verdict reasons.
const FallbackReason = "No valid hypotheses found."

// AggregateVerdicts rolls a verdict sequence up to the cycle level.
// Global validity is the OR across verdicts. Best-hypothesis selection
// prefers the verdict flagged is_best; if none is flagged but at least one
// verdict is valid, the first valid verdict wins (deterministic tie-break by
// generation order). The failure reason is only populated for invalid
// cycles: "<hypothesis>: <reason>" entries joined with "; ", or
// FallbackReason when no verdict supplied one.
func AggregateVerdicts(verdicts []Verdict) Aggregate {
	agg := Aggregate{}
	for _, v := range verdicts {
		if v.IsValid {
			agg.IsValid = true
			break
		}
	}

	for _, v := range verdicts {
		if v.IsBest && v.IsValid {
			agg.BestHypothesis = v.Hypothesis
			break
		}
	}
	if agg.BestHypothesis == "" && agg.IsValid {
		for _, v := range verdicts {
			if v.IsValid {
				agg.BestHypothesis = v.Hypothesis
				break
			}
		}
	}

	if !agg.IsValid {
		var reasons []string
		for _, v := range verdicts {
			if v.Reason != "" {
				reasons = append(reasons, v.Hypothesis+": "+v.Reason)
			}
		}
		agg.Reason = strings.Join(reasons, "; ")
		if agg.Reason == "" {
			agg.Reason = FallbackReason
		}
	}
	return agg
}

// NormalizeVerdicts enforces the best-hypothesis invariant on a verdict
// sequence as it came back from the model: at most one verdict is flagged
// best, and that verdict is valid. The first valid flagged verdict keeps the
// flag; when nothing valid is flagged but the cycle has a valid verdict, the
// first valid one is promoted, so the best hypothesis named by
// AggregateVerdicts is always flagged in the sequence too.
func NormalizeVerdicts(verdicts []Verdict) []Verdict {
	out := make([]Verdict, len(verdicts))
	copy(out, verdicts)

	best := -1
	for i, v := range out {
		if v.IsBest && v.IsValid && best < 0 {
			best = i
		}
		out[i].IsBest = false
	}
	if best < 0 {
		for i, v := range out {
			if v.IsValid {
				best = i
				break
			}
		}
	}
	if best >= 0 {
		out[best].IsBest = true
	}
	return out
}

// HistoryText serializes the history for inclusion in a prompt: one JSON
// object per record, blank-line separated. Reasoning nodes receive history
// as readable text, not structured replay.
func HistoryText(history []CycleRecord) string {
	if len(history) == 0 {
		return "No previous history."
	}
	parts := make([]string, 0, len(history))
	for _, r := range history {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		parts = append(parts, string(b))
	}
	return strings.Join(parts, "\n\n")
}
