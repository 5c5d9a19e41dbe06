package workflows

// Signal names the interview workflow listens on. Names are versioned so a
// payload shape change can ride a new name instead of breaking in-flight
// interviews.
const (
	SignalVerificationAnswers = "verification_answers_v1"
	SignalRetryGuidance       = "retry_guidance_v1"
	SignalNextSteps           = "next_steps_v1"
	SignalCancel              = "cancel_v1"
)

// Query names the interview workflow answers.
const (
	QueryInterviewState     = "interview_state_v1"
	QueryPendingInteraction = "pending_interaction_v1"
	QueryFinalReport        = "final_report_v1"
)

// CancelRequest is sent when gracefully cancelling an interview.
type CancelRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
}
