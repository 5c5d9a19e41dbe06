package interview

// SummarizeInput is one cycle's raw material for history records.
type SummarizeInput struct {
	InitialQuery    string    `json:"initial_query"`
	CurrentQuestion string    `json:"current_question"`
	Questions       []string  `json:"questions"`
	Answers         []string  `json:"answers"`
	Verdicts        []Verdict `json:"verdicts"`
	// Solution is the final solution text for the cycle's best hypothesis;
	// empty on the retry path.
	Solution string `json:"solution"`
}

// Summarize folds one cycle into history records: one record per verdict,
// rejected and accepted hypotheses alike, so the final report can show the
// full exploration. Only the best verdict's record carries the solution.
// The per-verdict reason is always recorded in WhyNotValid; the report
// renders it as the validity rationale for valid records too.
func Summarize(in SummarizeInput) []CycleRecord {
	question := in.CurrentQuestion
	if question == "" {
		question = in.InitialQuery
	}

	records := make([]CycleRecord, 0, len(in.Verdicts))
	for _, v := range in.Verdicts {
		rec := CycleRecord{
			InitialQuery:          in.InitialQuery,
			CurrentQuestion:       question,
			Hypothesis:            v.Hypothesis,
			VerificationQuestions: in.Questions,
			VerificationAnswers:   in.Answers,
			IsBestHypothesis:      v.IsBest,
			IsValid:               v.IsValid,
			WhyNotValid:           v.Reason,
		}
		if v.IsBest && in.Solution != "" {
			rec.Solution = in.Solution
		}
		records = append(records, rec)
	}
	return records
}
