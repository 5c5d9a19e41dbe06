package interview

import "fmt"

// retryQuestionTemplate feeds the verification failure back into the next
// hypothesis-generation call so the candidate does not repeat an invalid
// hypothesis.
const retryQuestionTemplate = "Previous hypotheses were invalid. Reason: %s. Please try again considering this."

// DecisionInput carries everything DetermineNextState may look at.
type DecisionInput struct {
	IsValid            bool   `json:"is_valid"`
	VerificationReason string `json:"verification_reason"`
	NextAction         string `json:"next_action"`
	NextInput          string `json:"next_input"`
}

// NextState is the decision outcome: halt, or loop with a next question.
type NextState struct {
	ShouldStop   bool   `json:"should_stop"`
	NextQuestion string `json:"next_question"`
}

// DetermineNextState computes whether the interview halts or loops. Pure:
// no side effects, no LLM involvement.
//
// Invalid cycles never stop; the next question embeds the verification
// failure reason. Valid cycles stop only when the caller resumed with the
// stop action; otherwise the caller-supplied continuation becomes the next
// question (empty means "continue with the same question").
func DetermineNextState(in DecisionInput) NextState {
	if !in.IsValid {
		return NextState{
			ShouldStop:   false,
			NextQuestion: fmt.Sprintf(retryQuestionTemplate, in.VerificationReason),
		}
	}
	if in.NextAction == ActionStop {
		return NextState{ShouldStop: true}
	}
	return NextState{ShouldStop: false, NextQuestion: in.NextInput}
}
