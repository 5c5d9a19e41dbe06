package streaming

import (
	"encoding/json"
	"time"
)

// Interview event types, in rough lifecycle order.
const (
	EventInterviewStarted   = "interview_started"
	EventHypothesesReady    = "hypotheses_ready"
	EventQuestionPending    = "question_pending"
	EventAnswersReceived    = "answers_received"
	EventCalcExecuted       = "calc_executed"
	EventVerdictReady       = "verdict_ready"
	EventRetryScheduled     = "retry_scheduled"
	EventSolutionReady      = "solution_ready"
	EventCritiqueReady      = "critique_ready"
	EventDecisionPending    = "decision_pending"
	EventInterviewCompleted = "interview_completed"
	EventInterviewFailed    = "interview_failed"

	// EventError flags a problem that did not stop the interview, such as
	// a dropped resume signal.
	EventError = "error"
)

// Event is one entry on an interview's event stream. It feeds SSE and
// WebSocket subscribers and, when mirroring is on, a Redis stream that
// survives process restarts.
type Event struct {
	InterviewID string                 `json:"interview_id"`
	Type        string                 `json:"type"`
	Node        string                 `json:"node,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	// Seq is assigned at publish time and is local to this process.
	// SSE Last-Event-ID replay within a process lifetime relies on it.
	Seq uint64 `json:"seq"`
}

// Marshal returns the JSON form used for SSE payloads and the Redis mirror.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
