package interview

import (
	"encoding/json"
	"fmt"
)

// ShapeError reports a resume payload that does not match the shape the
// currently pending interaction point expects. Mismatches fail loudly rather
// than coerce, and surface as a typed error so HTTP handlers can map them to
// a distinct response.
type ShapeError struct {
	Point  string
	Detail string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("resume payload mismatch at %s: %s", e.Point, e.Detail)
}

// NewVerificationInteraction builds the suspend payload for the
// verification point: a questions list, plus the hypotheses for display.
func NewVerificationInteraction(questions, hypotheses []string) PendingInteraction {
	req, _ := json.Marshal(VerificationRequest{Questions: questions, Hypotheses: hypotheses})
	return PendingInteraction{Point: PointVerification, Request: string(req)}
}

// NewRetryInteraction builds the suspend payload for the retry point.
func NewRetryInteraction(reason string) PendingInteraction {
	req, _ := json.Marshal(RetryRequest{IsValid: false, Reason: reason})
	return PendingInteraction{Point: PointRetry, Request: string(req)}
}

// NewNextStepsInteraction builds the suspend payload for the next-steps
// point, carrying the rendered solution.
func NewNextStepsInteraction(solution string) PendingInteraction {
	req, _ := json.Marshal(NextStepsRequest{Solution: solution})
	return PendingInteraction{Point: PointNextSteps, Request: string(req)}
}

// DecodeAnswers validates and decodes a verification resume payload.
// Unknown extra fields are tolerated; a missing or mistyped answers list is
// a shape violation.
func DecodeAnswers(raw []byte) (AnswersResume, error) {
	var probe struct {
		Answers *json.RawMessage `json:"answers"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return AnswersResume{}, &ShapeError{Point: PointVerification, Detail: "payload is not a JSON object"}
	}
	if probe.Answers == nil {
		return AnswersResume{}, &ShapeError{Point: PointVerification, Detail: "missing answers list"}
	}
	var answers []string
	if err := json.Unmarshal(*probe.Answers, &answers); err != nil {
		return AnswersResume{}, &ShapeError{Point: PointVerification, Detail: "answers must be a list of strings"}
	}
	return AnswersResume{Answers: answers}, nil
}

// DecodeRetry validates and decodes a retry resume payload. Guidance is
// free text and may be empty; a mistyped field is a shape violation.
func DecodeRetry(raw []byte) (RetryResume, error) {
	var out RetryResume
	if err := json.Unmarshal(raw, &out); err != nil {
		return RetryResume{}, &ShapeError{Point: PointRetry, Detail: "guidance must be a string"}
	}
	return out, nil
}

// DecodeNextSteps validates and decodes a next-steps resume payload. The
// action verb must be "loop" or "stop"; new_input is optional.
func DecodeNextSteps(raw []byte) (NextStepsResume, error) {
	var out NextStepsResume
	if err := json.Unmarshal(raw, &out); err != nil {
		return NextStepsResume{}, &ShapeError{Point: PointNextSteps, Detail: "payload is not a JSON object"}
	}
	if out.NextAction != ActionLoop && out.NextAction != ActionStop {
		return NextStepsResume{}, &ShapeError{
			Point:  PointNextSteps,
			Detail: fmt.Sprintf("next_action must be %q or %q", ActionLoop, ActionStop),
		}
	}
	return out, nil
}

// ValidateResume checks a raw resume payload against the shape expected by
// the given interaction point. Used by the HTTP layer before signaling and
// defensively by the workflow before merging.
func ValidateResume(point string, raw []byte) error {
	switch point {
	case PointVerification:
		_, err := DecodeAnswers(raw)
		return err
	case PointRetry:
		_, err := DecodeRetry(raw)
		return err
	case PointNextSteps:
		_, err := DecodeNextSteps(raw)
		return err
	default:
		return &ShapeError{Point: point, Detail: "unknown interaction point"}
	}
}
