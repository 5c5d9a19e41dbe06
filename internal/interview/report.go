package interview

import (
	"fmt"
	"strings"
)

// ReportHeader opens every rendered report, including one built from an
// empty history.
const ReportHeader = "# System Design Interview Report"

// BuildReport renders the history into the final Markdown report. The
// rendering is deterministic and order-preserving: the same history always
// produces byte-identical output. Verification Q/A pairs are zipped
// positionally and stop at the shorter of the two sequences. An empty or
// nil history yields a header-only report.
func BuildReport(history []CycleRecord) string {
	lines := []string{ReportHeader}

	for i, rec := range history {
		lines = append(lines, fmt.Sprintf("### Hypothesis %d", i+1))
		lines = append(lines, fmt.Sprintf("**Question:** %s\n", rec.CurrentQuestion))
		lines = append(lines, fmt.Sprintf("**Hypothesis:** %s\n", rec.Hypothesis))

		if len(rec.VerificationQuestions) > 0 && len(rec.VerificationAnswers) > 0 {
			lines = append(lines, "**Verification:**")
			n := len(rec.VerificationQuestions)
			if len(rec.VerificationAnswers) < n {
				n = len(rec.VerificationAnswers)
			}
			for j := 0; j < n; j++ {
				lines = append(lines, fmt.Sprintf("- **Q:** %s", rec.VerificationQuestions[j]))
				lines = append(lines, fmt.Sprintf("  **A:** %s", rec.VerificationAnswers[j]))
			}
			lines = append(lines, "")
		}

		if rec.IsValid {
			lines = append(lines, "**Status:** Valid")
			if rec.IsBestHypothesis {
				lines = append(lines, " **(Best Hypothesis)**")
				if rec.WhyNotValid != "" {
					lines = append(lines, fmt.Sprintf("**Reason why valid:** %s", rec.WhyNotValid))
				}
				if rec.Solution != "" {
					lines = append(lines, "\n#### Solution")
					lines = append(lines, rec.Solution)
				}
			}
		} else {
			lines = append(lines, "**Status:** Not Valid")
			if rec.WhyNotValid != "" {
				lines = append(lines, fmt.Sprintf("**Reason why not valid:** %s", rec.WhyNotValid))
			}
		}

		lines = append(lines, "\n---\n")
	}

	return strings.Join(lines, "\n")
}
