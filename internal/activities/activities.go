// Package activities implements the reasoning nodes and support operations
// the interview workflow schedules. Reasoning nodes degrade on malformed
// model output instead of failing: a broken model response becomes empty
// lists or an invalid verdict, and the workflow keeps moving.
package activities

import (
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/calc"
	"github.com/designdrill/orchestrator/internal/db"
	"github.com/designdrill/orchestrator/internal/llm"
	"github.com/designdrill/orchestrator/internal/policy"
	"github.com/designdrill/orchestrator/internal/prompts"
	"github.com/designdrill/orchestrator/internal/session"
	"github.com/designdrill/orchestrator/internal/streaming"
)

// defaultMaxCalcRounds bounds the verification tool loop when the config
// value is missing.
const defaultMaxCalcRounds = 4

// Deps carries the collaborators activities share. Optional entries may be
// nil: without a DB client persistence is skipped, without a session manager
// session bookkeeping is skipped, without a policy engine calculation
// scripts run unguarded.
type Deps struct {
	LLM           *llm.Client
	Calc          *calc.Runner
	Policy        policy.Engine
	Sessions      *session.Manager
	Streams       *streaming.Manager
	DB            *db.Client
	Prompts       *prompts.Catalog
	Logger        *zap.Logger
	MaxCalcRounds int
}

// Activities holds dependencies for the interview activities.
type Activities struct {
	llm           *llm.Client
	calc          *calc.Runner
	policy        policy.Engine
	sessions      *session.Manager
	streams       *streaming.Manager
	db            *db.Client
	prompts       *prompts.Catalog
	logger        *zap.Logger
	maxCalcRounds int
}

// NewActivities creates an activities instance from deps.
func NewActivities(deps Deps) *Activities {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog := deps.Prompts
	if catalog == nil {
		catalog = prompts.Default()
	}
	rounds := deps.MaxCalcRounds
	if rounds <= 0 {
		rounds = defaultMaxCalcRounds
	}
	return &Activities{
		llm:           deps.LLM,
		calc:          deps.Calc,
		policy:        deps.Policy,
		sessions:      deps.Sessions,
		streams:       deps.Streams,
		db:            deps.DB,
		prompts:       catalog,
		logger:        logger,
		maxCalcRounds: rounds,
	}
}

// publish sends an event to the stream manager when one is attached.
func (a *Activities) publish(interviewID string, evt streaming.Event) {
	if a.streams == nil {
		return
	}
	a.streams.Publish(interviewID, evt)
}
