package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/circuitbreaker"
)

// SaveInterview saves or updates an interview record (idempotent by
// workflow_id). Later writes win on lifecycle fields; the run ID and metadata
// are only overwritten when the incoming row actually carries them.
func (c *Client) SaveInterview(ctx context.Context, iv *Interview) error {
	if iv.ID == uuid.Nil {
		iv.ID = uuid.New()
	}
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = time.Now()
	}
	if iv.StartedAt.IsZero() {
		iv.StartedAt = iv.CreatedAt
	}

	query := `
		INSERT INTO interviews (
			id, workflow_id, run_id, session_id, user_id, problem, model,
			phase, cycles_used, report_ready, error_message, total_tokens,
			metadata, started_at, completed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (workflow_id) DO UPDATE SET
			run_id = CASE
				WHEN EXCLUDED.run_id = '' THEN interviews.run_id
				ELSE EXCLUDED.run_id
			END,
			phase = EXCLUDED.phase,
			cycles_used = EXCLUDED.cycles_used,
			report_ready = EXCLUDED.report_ready,
			error_message = EXCLUDED.error_message,
			total_tokens = EXCLUDED.total_tokens,
			completed_at = EXCLUDED.completed_at,
			metadata = CASE
				WHEN EXCLUDED.metadata IS NULL OR EXCLUDED.metadata = '{}'::jsonb THEN interviews.metadata
				ELSE EXCLUDED.metadata
			END
		RETURNING id`

	err := c.db.GetContext(ctx, &iv.ID, query,
		iv.ID, iv.WorkflowID, iv.RunID, iv.SessionID, iv.UserID,
		iv.Problem, iv.Model,
		iv.Phase, iv.CyclesUsed, iv.ReportReady, iv.ErrorMessage, iv.TotalTokens,
		iv.Metadata, iv.StartedAt, iv.CompletedAt, iv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save interview: %w", err)
	}

	c.logger.Debug("Interview saved",
		zap.String("workflow_id", iv.WorkflowID),
		zap.String("phase", iv.Phase),
	)

	return nil
}

const cycleUpsert = `
	INSERT INTO interview_cycles (
		id, workflow_id, cycle, attempt,
		records, answers, calc_rounds,
		is_valid, best_hypothesis, verdict_reason, retry_guidance,
		tokens_used, started_at, completed_at, created_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	)
	ON CONFLICT (workflow_id, cycle, attempt) DO UPDATE SET
		records = EXCLUDED.records,
		answers = EXCLUDED.answers,
		calc_rounds = EXCLUDED.calc_rounds,
		is_valid = EXCLUDED.is_valid,
		best_hypothesis = EXCLUDED.best_hypothesis,
		verdict_reason = EXCLUDED.verdict_reason,
		retry_guidance = EXCLUDED.retry_guidance,
		tokens_used = EXCLUDED.tokens_used,
		completed_at = EXCLUDED.completed_at`

func fillCycleDefaults(cycle *InterviewCycle) {
	if cycle.ID == uuid.Nil {
		cycle.ID = uuid.New()
	}
	if cycle.Attempt == 0 {
		cycle.Attempt = 1
	}
	if cycle.CreatedAt.IsZero() {
		cycle.CreatedAt = time.Now()
	}
	if cycle.StartedAt.IsZero() {
		cycle.StartedAt = cycle.CreatedAt
	}
}

// SaveCycle saves one verification pass (idempotent by workflow_id, cycle,
// attempt).
func (c *Client) SaveCycle(ctx context.Context, cycle *InterviewCycle) error {
	fillCycleDefaults(cycle)

	_, err := c.db.ExecContext(ctx, cycleUpsert,
		cycle.ID, cycle.WorkflowID, cycle.Cycle, cycle.Attempt,
		cycle.Records, cycle.Answers, cycle.CalcRounds,
		cycle.IsValid, cycle.BestHypothesis, cycle.VerdictReason, cycle.RetryGuidance,
		cycle.TokensUsed, cycle.StartedAt, cycle.CompletedAt, cycle.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save cycle %d/%d: %w", cycle.Cycle, cycle.Attempt, err)
	}

	return nil
}

// BatchSaveCycles saves multiple cycles in a single transaction
func (c *Client) BatchSaveCycles(ctx context.Context, cycles []*InterviewCycle) error {
	if len(cycles) == 0 {
		return nil
	}

	return c.WithTransaction(ctx, func(tx *circuitbreaker.TxWrapper) error {
		for _, cycle := range cycles {
			fillCycleDefaults(cycle)

			_, err := tx.ExecContext(ctx, cycleUpsert,
				cycle.ID, cycle.WorkflowID, cycle.Cycle, cycle.Attempt,
				cycle.Records, cycle.Answers, cycle.CalcRounds,
				cycle.IsValid, cycle.BestHypothesis, cycle.VerdictReason, cycle.RetryGuidance,
				cycle.TokensUsed, cycle.StartedAt, cycle.CompletedAt, cycle.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert cycle %d/%d: %w", cycle.Cycle, cycle.Attempt, err)
			}
		}

		return nil
	})
}

// SaveReport saves the final report (idempotent by workflow_id).
func (c *Client) SaveReport(ctx context.Context, report *InterviewReport) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.Format == "" {
		report.Format = "markdown"
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = report.GeneratedAt
	}

	query := `
		INSERT INTO interview_reports (
			id, workflow_id, session_id, user_id,
			content, format, cycles, solved,
			generated_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (workflow_id) DO UPDATE SET
			content = EXCLUDED.content,
			cycles = EXCLUDED.cycles,
			solved = EXCLUDED.solved,
			generated_at = EXCLUDED.generated_at
		RETURNING id`

	err := c.db.GetContext(ctx, &report.ID, query,
		report.ID, report.WorkflowID, report.SessionID, report.UserID,
		report.Content, report.Format, report.Cycles, report.Solved,
		report.GeneratedAt, report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}

	c.logger.Debug("Report saved",
		zap.String("workflow_id", report.WorkflowID),
		zap.Int("cycles", report.Cycles),
	)

	return nil
}

// GetInterview retrieves an interview by workflow ID. Returns nil without an
// error when no row exists.
func (c *Client) GetInterview(ctx context.Context, workflowID string) (*Interview, error) {
	var iv Interview

	query := `
		SELECT id, workflow_id, run_id, session_id, user_id, problem, model,
			phase, cycles_used, report_ready, error_message, total_tokens,
			metadata, started_at, completed_at, created_at
		FROM interviews
		WHERE workflow_id = $1`

	err := c.db.GetContext(ctx, &iv, query, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interview: %w", err)
	}

	return &iv, nil
}

// GetInterviewCycles retrieves all verification passes for an interview in
// execution order.
func (c *Client) GetInterviewCycles(ctx context.Context, workflowID string) ([]*InterviewCycle, error) {
	var cycles []*InterviewCycle

	query := `
		SELECT id, workflow_id, cycle, attempt,
			records, answers, calc_rounds,
			is_valid, best_hypothesis, verdict_reason, retry_guidance,
			tokens_used, started_at, completed_at, created_at
		FROM interview_cycles
		WHERE workflow_id = $1
		ORDER BY cycle, attempt`

	if err := c.db.SelectContext(ctx, &cycles, query, workflowID); err != nil {
		return nil, fmt.Errorf("failed to get cycles: %w", err)
	}

	return cycles, nil
}

// GetReport retrieves the final report by workflow ID. Returns nil without an
// error when no row exists.
func (c *Client) GetReport(ctx context.Context, workflowID string) (*InterviewReport, error) {
	var report InterviewReport

	query := `
		SELECT id, workflow_id, session_id, user_id,
			content, format, cycles, solved,
			generated_at, created_at
		FROM interview_reports
		WHERE workflow_id = $1`

	err := c.db.GetContext(ctx, &report, query, workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return &report, nil
}
