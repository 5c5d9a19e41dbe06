package llm

import (
	"fmt"

	"github.com/designdrill/orchestrator/internal/util"
)

// StatusError is returned when the model endpoint answers with a non-200
// status. It satisfies retry.APIError so transient statuses are retried.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm request failed with status %d: %s", e.Status, util.TruncateString(e.Body, 200, false))
}

func (e *StatusError) StatusCode() int {
	return e.Status
}
