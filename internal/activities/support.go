package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/db"
	"github.com/designdrill/orchestrator/internal/interview"
	ometrics "github.com/designdrill/orchestrator/internal/metrics"
	"github.com/designdrill/orchestrator/internal/session"
	"github.com/designdrill/orchestrator/internal/streaming"
)

// Support activities cover persistence, session bookkeeping, and event
// streaming. None of them ever return an error: interview state is durable in
// the workflow history, so losing a side-channel write must not fail or retry
// the workflow.

// RecordInterviewStartedInput registers a new interview run.
type RecordInterviewStartedInput struct {
	InterviewID string            `json:"interview_id"`
	RunID       string            `json:"run_id,omitempty"`
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id,omitempty"`
	Problem     string            `json:"problem"`
	Model       string            `json:"model,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
}

// RecordInterviewStarted fans the start of an interview out to metrics, the
// session, the database, and the event stream.
func (a *Activities) RecordInterviewStarted(ctx context.Context, in RecordInterviewStartedInput) error {
	logger := a.logger.With(
		zap.String("activity", "RecordInterviewStarted"),
		zap.String("interview_id", in.InterviewID),
	)
	logger.Info("Recording interview start", zap.String("session_id", in.SessionID))

	ometrics.InterviewsStarted.Inc()

	if a.sessions != nil && in.SessionID != "" {
		err := a.sessions.AttachInterview(ctx, in.SessionID, session.InterviewRef{
			InterviewID: in.InterviewID,
			Problem:     in.Problem,
			Status:      interview.PhaseRunning,
		})
		if err != nil {
			logger.Warn("Failed to attach interview to session", zap.Error(err))
		}
	}

	if a.db != nil {
		row := &db.Interview{
			WorkflowID: in.InterviewID,
			RunID:      in.RunID,
			SessionID:  in.SessionID,
			UserID:     db.ParseUserID(in.UserID),
			Problem:    in.Problem,
			Model:      in.Model,
			Phase:      interview.PhaseRunning,
		}
		if len(in.Context) > 0 {
			meta := make(db.JSONB, len(in.Context))
			for k, v := range in.Context {
				meta[k] = v
			}
			row.Metadata = meta
		}
		err := a.db.QueueWrite(db.WriteTypeInterview, row, func(err error) {
			if err != nil {
				logger.Warn("Interview row write failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("Interview row dropped", zap.Error(err))
		}
	}

	a.publish(in.InterviewID, streaming.Event{
		Type:    streaming.EventInterviewStarted,
		Message: in.Problem,
	})
	return nil
}

// UpdateInterviewPhaseInput carries a lifecycle transition. The caller always
// sends cumulative cycle and token counts because later interview-row writes
// overwrite earlier ones.
type UpdateInterviewPhaseInput struct {
	InterviewID     string  `json:"interview_id"`
	SessionID       string  `json:"session_id,omitempty"`
	Phase           string  `json:"phase"`
	CyclesUsed      int     `json:"cycles_used"`
	TotalTokens     int     `json:"total_tokens"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ReportReady     bool    `json:"report_ready,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

func isTerminalPhase(phase string) bool {
	switch phase {
	case interview.PhaseDone, interview.PhaseCanceled, interview.PhaseFailed:
		return true
	}
	return false
}

// UpdateInterviewPhase records a phase transition. Terminal phases also close
// out the session entry and the duration metrics.
func (a *Activities) UpdateInterviewPhase(ctx context.Context, in UpdateInterviewPhaseInput) error {
	logger := a.logger.With(
		zap.String("activity", "UpdateInterviewPhase"),
		zap.String("interview_id", in.InterviewID),
	)
	logger.Info("Updating interview phase",
		zap.String("phase", in.Phase),
		zap.Int("cycles_used", in.CyclesUsed),
	)

	terminal := isTerminalPhase(in.Phase)

	if a.db != nil {
		row := &db.Interview{
			WorkflowID:  in.InterviewID,
			SessionID:   in.SessionID,
			Phase:       in.Phase,
			CyclesUsed:  in.CyclesUsed,
			TotalTokens: in.TotalTokens,
			ReportReady: in.ReportReady,
		}
		if in.ErrorMessage != "" {
			msg := in.ErrorMessage
			row.ErrorMessage = &msg
		}
		if terminal {
			now := time.Now()
			row.CompletedAt = &now
		}
		err := a.db.QueueWrite(db.WriteTypeInterview, row, func(err error) {
			if err != nil {
				logger.Warn("Phase update write failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("Phase update dropped", zap.Error(err))
		}
	}

	if terminal {
		ometrics.RecordInterviewCompleted(in.Phase, in.DurationSeconds, in.CyclesUsed)
		if a.sessions != nil && in.SessionID != "" {
			if err := a.sessions.CompleteInterview(ctx, in.SessionID, in.InterviewID, in.Phase); err != nil {
				logger.Warn("Failed to close interview in session", zap.Error(err))
			}
		}
	}
	return nil
}

// PersistCycleRecordsInput carries one completed verification pass for the
// history tables.
type PersistCycleRecordsInput struct {
	InterviewID    string                  `json:"interview_id"`
	SessionID      string                  `json:"session_id,omitempty"`
	Cycle          int                     `json:"cycle"`
	Attempt        int                     `json:"attempt"`
	Records        []interview.CycleRecord `json:"records"`
	Answers        []string                `json:"answers"`
	CalcRounds     []CalcRound             `json:"calc_rounds,omitempty"`
	IsValid        bool                    `json:"is_valid"`
	BestHypothesis string                  `json:"best_hypothesis,omitempty"`
	Reason         string                  `json:"reason,omitempty"`
	RetryGuidance  string                  `json:"retry_guidance,omitempty"`
	TokensUsed     int                     `json:"tokens_used"`
}

// PersistCycleRecords stores one verification pass and credits its token
// usage to the session. Cycle rows ride the batch path so bursts of retries
// flush in a single transaction.
func (a *Activities) PersistCycleRecords(ctx context.Context, in PersistCycleRecordsInput) error {
	logger := a.logger.With(
		zap.String("activity", "PersistCycleRecords"),
		zap.String("interview_id", in.InterviewID),
		zap.Int("cycle", in.Cycle),
	)
	logger.Info("Persisting cycle records",
		zap.Int("attempt", in.Attempt),
		zap.Bool("is_valid", in.IsValid),
	)

	if a.db != nil {
		now := time.Now()
		row := &db.InterviewCycle{
			WorkflowID:     in.InterviewID,
			Cycle:          in.Cycle,
			Attempt:        in.Attempt,
			Records:        db.AsJSON(in.Records),
			Answers:        db.AsJSON(in.Answers),
			CalcRounds:     db.AsJSON(in.CalcRounds),
			IsValid:        in.IsValid,
			BestHypothesis: in.BestHypothesis,
			VerdictReason:  in.Reason,
			RetryGuidance:  in.RetryGuidance,
			TokensUsed:     in.TokensUsed,
			CompletedAt:    &now,
		}
		envelope := []db.WriteRequest{{
			Type: db.WriteTypeCycle,
			Data: row,
			Callback: func(err error) {
				if err != nil {
					logger.Warn("Cycle row write failed", zap.Error(err))
				}
			},
		}}
		if err := a.db.QueueWrite(db.WriteTypeBatch, envelope, nil); err != nil {
			logger.Warn("Cycle row dropped", zap.Error(err))
		}
	}

	if a.sessions != nil && in.SessionID != "" {
		if err := a.sessions.RecordTokenUsage(ctx, in.SessionID, in.TokensUsed); err != nil {
			logger.Warn("Failed to record token usage in session", zap.Error(err))
		}
	}
	return nil
}

// PersistReportInput carries the rendered final report.
type PersistReportInput struct {
	InterviewID string `json:"interview_id"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Content     string `json:"content"`
	Cycles      int    `json:"cycles"`
	Solved      bool   `json:"solved"`
}

// PersistReport stores the final report. Unlike the other rows this one is
// worth a brief wait for queue space; it is the payload callers come back for.
func (a *Activities) PersistReport(ctx context.Context, in PersistReportInput) error {
	logger := a.logger.With(
		zap.String("activity", "PersistReport"),
		zap.String("interview_id", in.InterviewID),
	)
	logger.Info("Persisting report",
		zap.Int("cycles", in.Cycles),
		zap.Bool("solved", in.Solved),
	)

	ometrics.ReportsBuilt.Inc()

	if a.db == nil {
		return nil
	}
	row := &db.InterviewReport{
		WorkflowID: in.InterviewID,
		SessionID:  in.SessionID,
		UserID:     db.ParseUserID(in.UserID),
		Content:    in.Content,
		Cycles:     in.Cycles,
		Solved:     in.Solved,
	}
	err := a.db.QueueWriteWithRetry(db.WriteTypeReport, row, func(err error) {
		if err != nil {
			logger.Warn("Report write failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("Report dropped", zap.Error(err))
	}
	return nil
}

// EmitInterviewEventInput carries one stream event from the workflow.
type EmitInterviewEventInput struct {
	InterviewID string                 `json:"interview_id"`
	Type        string                 `json:"type"`
	Node        string                 `json:"node,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EmitInterviewEvent publishes a workflow lifecycle event to subscribers.
// Best-effort: a full subscriber or an absent stream manager drops the event.
func (a *Activities) EmitInterviewEvent(ctx context.Context, in EmitInterviewEventInput) error {
	a.logger.Debug("Emitting interview event",
		zap.String("interview_id", in.InterviewID),
		zap.String("type", in.Type),
		zap.String("node", in.Node),
	)
	a.publish(in.InterviewID, streaming.Event{
		Type:    in.Type,
		Node:    in.Node,
		Message: in.Message,
		Data:    in.Data,
	})
	return nil
}
