package constants

// Activity names used for worker registration and workflow execution.
// Workflow code dials activities by these names, so they must match the
// method names on activities.Activities exactly.
const (
	// Reasoning activities (LLM-backed)
	GenerateHypothesesActivity = "GenerateHypotheses"
	VerifyHypothesesActivity   = "VerifyHypotheses"
	GenerateSolutionActivity   = "GenerateSolution"
	CriticReviewActivity       = "CriticReview"

	// Bookkeeping activities (best-effort side channels)
	RecordInterviewStartedActivity = "RecordInterviewStarted"
	UpdateInterviewPhaseActivity   = "UpdateInterviewPhase"
	PersistCycleRecordsActivity    = "PersistCycleRecords"
	PersistReportActivity          = "PersistReport"
	EmitInterviewEventActivity     = "EmitInterviewEvent"
)
