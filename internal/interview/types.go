package interview

// Interview phases. The phase is persisted with the session and exposed
// through the workflow state query, so UIs and the evaluator can always tell
// "need more input" from "finished" from "broke".
const (
	PhaseRunning              = "running"
	PhaseAwaitingVerification = "awaiting_verification"
	PhaseAwaitingRetry        = "awaiting_retry"
	PhaseAwaitingNextSteps    = "awaiting_next_steps"
	PhaseDone                 = "done"
	PhaseCanceled             = "canceled"
	PhaseFailed               = "failed"
)

// Interaction points at which the workflow suspends for external input.
const (
	PointVerification = "verification"
	PointRetry        = "retry"
	PointNextSteps    = "next_steps"
)

// Next-step actions a caller may resume with after reviewing a solution.
const (
	ActionLoop = "loop"
	ActionStop = "stop"
)

// Verdict is the per-hypothesis validity judgment produced by verification.
// A cycle yields one Verdict per generated hypothesis, in generation order.
type Verdict struct {
	Hypothesis string `json:"hypothesis"`
	IsValid    bool   `json:"is_valid"`
	Reason     string `json:"reason"`
	IsBest     bool   `json:"is_best"`
}

// CycleRecord is one immutable history entry. Records are appended once per
// (hypothesis, cycle) and never mutated afterward; the report builder only
// reads them.
type CycleRecord struct {
	InitialQuery          string   `json:"initial_query"`
	CurrentQuestion       string   `json:"current_question"`
	Hypothesis            string   `json:"hypothesis"`
	VerificationQuestions []string `json:"verification_questions"`
	VerificationAnswers   []string `json:"verification_answers"`
	IsBestHypothesis      bool     `json:"is_the_best_hypothesis"`
	IsValid               bool     `json:"is_valid"`
	WhyNotValid           string   `json:"why_not_valid"`
	Solution              string   `json:"solution,omitempty"`
}

// Aggregate is the cycle-level rollup of a verdict sequence.
type Aggregate struct {
	IsValid        bool   `json:"is_valid"`
	BestHypothesis string `json:"best_hypothesis"`
	// Reason is set only when the cycle is globally invalid.
	Reason string `json:"reason"`
}

// PendingInteraction is the suspend payload surfaced to callers while the
// workflow waits at a human-interaction point. Request holds the
// JSON-encoded request object for the point that raised it.
type PendingInteraction struct {
	Point   string `json:"point"`
	Request string `json:"request"`
}

// Request object shapes carried inside PendingInteraction.Request.
type VerificationRequest struct {
	Questions  []string `json:"questions"`
	Hypotheses []string `json:"hypotheses,omitempty"`
}

type RetryRequest struct {
	IsValid bool   `json:"is_valid"`
	Reason  string `json:"reason,omitempty"`
}

type NextStepsRequest struct {
	Solution string `json:"solution"`
}

// Resume value shapes, one per interaction point. These are the signal
// payloads the workflow merges back into its state.
type AnswersResume struct {
	Answers []string `json:"answers"`
}

type RetryResume struct {
	Guidance string `json:"guidance"`
}

type NextStepsResume struct {
	NextAction string `json:"next_action"`
	NewInput   string `json:"new_input"`
}
