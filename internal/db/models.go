package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// JSONB represents a PostgreSQL jsonb column holding an object.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// AsJSON encodes v for an array-shaped jsonb column. List payloads (cycle
// records, answers, calc rounds) go through types.JSONText because JSONB only
// models objects.
func AsJSON(v interface{}) types.JSONText {
	b, err := json.Marshal(v)
	if err != nil {
		return types.JSONText("null")
	}
	return types.JSONText(b)
}

// ParseUserID converts an auth-context user ID into a nullable column value.
// Dev-mode identities are free-form strings; anything that is not a UUID is
// stored as NULL rather than rejected.
func ParseUserID(raw string) *uuid.UUID {
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// Interview is the durable record of one interview workflow, upserted by
// workflow ID as the run progresses.
type Interview struct {
	ID         uuid.UUID  `db:"id"`
	WorkflowID string     `db:"workflow_id"`
	RunID      string     `db:"run_id"`
	SessionID  string     `db:"session_id"`
	UserID     *uuid.UUID `db:"user_id"`

	Problem string `db:"problem"`
	Model   string `db:"model"`

	// Lifecycle
	Phase       string     `db:"phase"`
	CyclesUsed  int        `db:"cycles_used"`
	ReportReady bool       `db:"report_ready"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`

	ErrorMessage *string `db:"error_message"`
	TotalTokens  int     `db:"total_tokens"`

	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

// InterviewCycle is one verification pass: the hypothesis batch, the human
// answers, the calculation transcript, and the aggregate verdict. Retries
// within a cycle land as separate attempts.
type InterviewCycle struct {
	ID         uuid.UUID `db:"id"`
	WorkflowID string    `db:"workflow_id"`
	Cycle      int       `db:"cycle"`
	Attempt    int       `db:"attempt"`

	// JSON array payloads
	Records    types.JSONText `db:"records"`
	Answers    types.JSONText `db:"answers"`
	CalcRounds types.JSONText `db:"calc_rounds"`

	// Aggregate verdict
	IsValid        bool   `db:"is_valid"`
	BestHypothesis string `db:"best_hypothesis"`
	VerdictReason  string `db:"verdict_reason"`
	RetryGuidance  string `db:"retry_guidance"`

	TokensUsed  int        `db:"tokens_used"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// InterviewReport is the rendered final report, one per interview.
type InterviewReport struct {
	ID         uuid.UUID  `db:"id"`
	WorkflowID string     `db:"workflow_id"`
	SessionID  string     `db:"session_id"`
	UserID     *uuid.UUID `db:"user_id"`

	Content string `db:"content"`
	Format  string `db:"format"`
	Cycles  int    `db:"cycles"`
	Solved  bool   `db:"solved"`

	GeneratedAt time.Time `db:"generated_at"`
	CreatedAt   time.Time `db:"created_at"`
}
