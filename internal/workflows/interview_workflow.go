// Package workflows contains the Temporal workflow that drives one design
// interview: hypothesis generation, human verification with a calculation
// tool, solution synthesis with a critic pass, and the loop/stop decision.
// The workflow owns all interview state; everything else (LLM calls,
// persistence, streaming) happens in activities so the state survives
// worker restarts and replays deterministically.
package workflows

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/designdrill/orchestrator/internal/activities"
	"github.com/designdrill/orchestrator/internal/constants"
	"github.com/designdrill/orchestrator/internal/interview"
	ometrics "github.com/designdrill/orchestrator/internal/metrics"
	"github.com/designdrill/orchestrator/internal/streaming"
)

// ReportOutputKey is the key under which the final report lands in
// InterviewResult.Outputs. Downstream consumers look it up verbatim.
const ReportOutputKey = "SaveResults.report"

// InterviewInput starts one interview workflow.
type InterviewInput struct {
	InterviewID string            `json:"interview_id"`
	SessionID   string            `json:"session_id,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Query       string            `json:"query"`
	Model       string            `json:"model,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	// MaxCycles bounds hypothesis generation cycles. Zero or negative
	// means unbounded; the interviewer decides when to stop.
	MaxCycles int `json:"max_cycles,omitempty"`
	// AnswerTimeout bounds each wait for a human response. Zero means
	// wait indefinitely.
	AnswerTimeout time.Duration `json:"answer_timeout,omitempty"`
}

// InterviewResult is returned when an interview runs to completion.
type InterviewResult struct {
	InterviewID string                  `json:"interview_id"`
	Report      string                  `json:"report"`
	History     []interview.CycleRecord `json:"history"`
	Cycles      int                     `json:"cycles"`
	Phase       string                  `json:"phase"`
	Outputs     map[string]string       `json:"outputs"`
}

// InterviewState answers the interview_state_v1 query.
type InterviewState struct {
	InterviewID     string                        `json:"interview_id"`
	Phase           string                        `json:"phase"`
	Cycle           int                           `json:"cycle"`
	CurrentQuestion string                        `json:"current_question"`
	HypothesisCount int                           `json:"hypothesis_count"`
	HistoryLength   int                           `json:"history_length"`
	TokensUsed      int                           `json:"tokens_used"`
	DroppedSignals  int                           `json:"dropped_signals,omitempty"`
	Pending         *interview.PendingInteraction `json:"pending,omitempty"`
}

// interviewRun is the workflow's mutable state. Query handlers read it, so
// every field is written only from deterministic workflow code.
type interviewRun struct {
	input      InterviewInput
	phase      string
	cycle      int
	question   string
	hypotheses []string
	history    []interview.CycleRecord
	tokens     int
	report     string
	dropped    int
	pending    *interview.PendingInteraction
	started    time.Time
}

func (r *interviewRun) currentQuestion() string {
	if r.question == "" {
		return r.input.Query
	}
	return r.question
}

func (r *interviewRun) snapshot() InterviewState {
	s := InterviewState{
		InterviewID:     r.input.InterviewID,
		Phase:           r.phase,
		Cycle:           r.cycle,
		CurrentQuestion: r.currentQuestion(),
		HypothesisCount: len(r.hypotheses),
		HistoryLength:   len(r.history),
		TokensUsed:      r.tokens,
		DroppedSignals:  r.dropped,
	}
	if r.pending != nil {
		p := *r.pending
		s.Pending = &p
	}
	return s
}

func (r *interviewRun) result() InterviewResult {
	return InterviewResult{
		InterviewID: r.input.InterviewID,
		Report:      r.report,
		History:     r.history,
		Cycles:      r.cycle,
		Phase:       r.phase,
		Outputs:     map[string]string{ReportOutputKey: r.report},
	}
}

// resumeOutcome is what a wait at an interaction point ends with: exactly
// one of a matching resume payload, a cancel, or a timeout.
type resumeOutcome struct {
	answers      []string
	guidance     string
	nextAction   string
	nextInput    string
	timedOut     bool
	canceled     bool
	cancelReason string
}

// InterviewWorkflow runs one human-in-the-loop design interview.
//
// Each cycle generates hypotheses with verification questions, suspends
// until the interviewer answers, verifies the hypotheses against those
// answers, and then either retries (invalid cycle) or produces a reviewed
// solution and suspends for the loop/stop decision. History is append-only
// and the final Markdown report is assembled from it when the interviewer
// stops.
func InterviewWorkflow(ctx workflow.Context, input InterviewInput) (InterviewResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	if input.InterviewID == "" {
		input.InterviewID = info.WorkflowExecution.ID
	}
	if strings.TrimSpace(input.Query) == "" {
		return InterviewResult{}, errors.New("interview query must not be empty")
	}

	run := &interviewRun{
		input:   input,
		phase:   interview.PhaseRunning,
		started: workflow.Now(ctx),
	}

	if err := workflow.SetQueryHandler(ctx, QueryInterviewState, func() (InterviewState, error) {
		return run.snapshot(), nil
	}); err != nil {
		return InterviewResult{}, fmt.Errorf("register state query: %w", err)
	}
	if err := workflow.SetQueryHandler(ctx, QueryPendingInteraction, func() (interview.PendingInteraction, error) {
		if run.pending == nil {
			return interview.PendingInteraction{}, nil
		}
		return *run.pending, nil
	}); err != nil {
		return InterviewResult{}, fmt.Errorf("register pending query: %w", err)
	}
	if err := workflow.SetQueryHandler(ctx, QueryFinalReport, func() (string, error) {
		return run.report, nil
	}); err != nil {
		return InterviewResult{}, fmt.Errorf("register report query: %w", err)
	}

	llmCtx := WithLLMOptions(ctx)
	supCtx := WithSupportOptions(ctx)

	logger.Info("Interview started",
		"interview_id", input.InterviewID,
		"session_id", input.SessionID,
		"max_cycles", input.MaxCycles,
	)

	if err := workflow.ExecuteActivity(supCtx, constants.RecordInterviewStartedActivity, activities.RecordInterviewStartedInput{
		InterviewID: input.InterviewID,
		RunID:       info.WorkflowExecution.RunID,
		SessionID:   input.SessionID,
		UserID:      input.UserID,
		Problem:     input.Query,
		Model:       input.Model,
		Context:     input.Context,
	}).Get(ctx, nil); err != nil {
		logger.Warn("Interview start bookkeeping failed", "error", err)
	}

	for {
		run.cycle++
		if mc := input.MaxCycles; mc > 0 && run.cycle > mc {
			return run.fail(ctx, supCtx, fmt.Sprintf("cycle budget exhausted after %d cycles", mc))
		}
		cycleTokens := 0

		// Generate hypotheses and the questions that would verify them.
		var hyp activities.GenerateHypothesesResult
		if err := workflow.ExecuteActivity(llmCtx, constants.GenerateHypothesesActivity, activities.GenerateHypothesesInput{
			InterviewID:     input.InterviewID,
			Query:           input.Query,
			CurrentQuestion: run.question,
			History:         run.history,
			Model:           input.Model,
		}).Get(ctx, &hyp); err != nil {
			return run.finishOnActivityError(ctx, supCtx, "generate hypotheses", err)
		}
		run.hypotheses = hyp.Hypotheses
		run.tokens += hyp.TokensUsed
		cycleTokens += hyp.TokensUsed
		emitEvent(supCtx, run, streaming.EventHypothesesReady, "generate_hypotheses", "", map[string]interface{}{
			"cycle":      run.cycle,
			"hypotheses": len(hyp.Hypotheses),
			"questions":  len(hyp.VerificationQuestions),
		})

		// Suspend until the interviewer answers the questions.
		res := run.suspend(ctx, supCtx, interview.PointVerification,
			interview.NewVerificationInteraction(hyp.VerificationQuestions, hyp.Hypotheses),
			interview.PhaseAwaitingVerification,
			streaming.EventQuestionPending, map[string]interface{}{
				"cycle":      run.cycle,
				"questions":  hyp.VerificationQuestions,
				"hypotheses": hyp.Hypotheses,
			})
		if res.canceled {
			return run.cancel(ctx, res.cancelReason)
		}
		if res.timedOut {
			return run.fail(ctx, supCtx, "timed out waiting for verification answers")
		}
		answers := res.answers
		emitEvent(supCtx, run, streaming.EventAnswersReceived, "", "", map[string]interface{}{
			"cycle":   run.cycle,
			"answers": len(answers),
		})

		// Two-phase verification: free-form analysis with the calculation
		// tool, then structured verdict extraction.
		var ver activities.VerifyHypothesesResult
		if err := workflow.ExecuteActivity(llmCtx, constants.VerifyHypothesesActivity, activities.VerifyHypothesesInput{
			InterviewID: input.InterviewID,
			Hypotheses:  hyp.Hypotheses,
			Questions:   hyp.VerificationQuestions,
			Answers:     answers,
			History:     run.history,
			Model:       input.Model,
		}).Get(ctx, &ver); err != nil {
			return run.finishOnActivityError(ctx, supCtx, "verify hypotheses", err)
		}
		run.tokens += ver.TokensUsed
		cycleTokens += ver.TokensUsed
		emitEvent(supCtx, run, streaming.EventVerdictReady, "extract_verdicts", ver.Reason, map[string]interface{}{
			"cycle":           run.cycle,
			"is_valid":        ver.IsValid,
			"best_hypothesis": ver.BestHypothesis,
		})

		if !ver.IsValid {
			// Invalid cycle: surface the reason, collect optional guidance
			// from the interviewer, and loop with a sharper question.
			ometrics.RetryCycles.Inc()
			res = run.suspend(ctx, supCtx, interview.PointRetry,
				interview.NewRetryInteraction(ver.Reason),
				interview.PhaseAwaitingRetry,
				streaming.EventRetryScheduled, map[string]interface{}{
					"cycle":  run.cycle,
					"reason": ver.Reason,
				})
			if res.canceled {
				return run.cancel(ctx, res.cancelReason)
			}
			if res.timedOut {
				return run.fail(ctx, supCtx, "timed out waiting for retry guidance")
			}

			records := interview.Summarize(interview.SummarizeInput{
				InitialQuery:    input.Query,
				CurrentQuestion: run.currentQuestion(),
				Questions:       hyp.VerificationQuestions,
				Answers:         answers,
				Verdicts:        ver.Verdicts,
			})
			run.history = append(run.history, records...)
			run.persistCycle(supCtx, records, answers, ver, res.guidance, cycleTokens)

			next := interview.DetermineNextState(interview.DecisionInput{
				IsValid:            false,
				VerificationReason: ver.Reason,
			})
			question := next.NextQuestion
			if g := strings.TrimSpace(res.guidance); g != "" {
				question += " Interviewer guidance: " + g
			}
			run.question = question
			continue
		}

		// Valid cycle: expand the best hypothesis into a solution and run
		// the critic pass over it.
		var sol activities.SolutionResult
		if err := workflow.ExecuteActivity(llmCtx, constants.GenerateSolutionActivity, activities.GenerateSolutionInput{
			InterviewID: input.InterviewID,
			Hypothesis:  ver.BestHypothesis,
			Draft:       ver.SolutionDraft,
			Questions:   hyp.VerificationQuestions,
			Answers:     answers,
			History:     run.history,
			Model:       input.Model,
		}).Get(ctx, &sol); err != nil {
			return run.finishOnActivityError(ctx, supCtx, "generate solution", err)
		}
		run.tokens += sol.TokensUsed
		cycleTokens += sol.TokensUsed
		emitEvent(supCtx, run, streaming.EventSolutionReady, "generate_solution", "", map[string]interface{}{
			"cycle": run.cycle,
		})

		finalSolution := sol.Solution
		var critic activities.CriticResult
		if err := workflow.ExecuteActivity(llmCtx, constants.CriticReviewActivity, activities.CriticReviewInput{
			InterviewID: input.InterviewID,
			Hypothesis:  ver.BestHypothesis,
			Questions:   hyp.VerificationQuestions,
			Answers:     answers,
			Solution:    sol.Solution,
			History:     run.history,
			Model:       input.Model,
		}).Get(ctx, &critic); err != nil {
			logger.Warn("Critic review failed, keeping unreviewed solution",
				"interview_id", input.InterviewID,
				"error", err,
			)
		} else {
			finalSolution = critic.FinalSolution
			run.tokens += critic.TokensUsed
			cycleTokens += critic.TokensUsed
		}
		emitEvent(supCtx, run, streaming.EventCritiqueReady, "critic_review", "", map[string]interface{}{
			"cycle": run.cycle,
		})

		// Suspend for the loop/stop decision.
		res = run.suspend(ctx, supCtx, interview.PointNextSteps,
			interview.NewNextStepsInteraction(finalSolution),
			interview.PhaseAwaitingNextSteps,
			streaming.EventDecisionPending, map[string]interface{}{
				"cycle":    run.cycle,
				"solution": finalSolution,
			})
		if res.canceled {
			return run.cancel(ctx, res.cancelReason)
		}
		if res.timedOut {
			return run.fail(ctx, supCtx, "timed out waiting for the next-steps decision")
		}

		records := interview.Summarize(interview.SummarizeInput{
			InitialQuery:    input.Query,
			CurrentQuestion: run.currentQuestion(),
			Questions:       hyp.VerificationQuestions,
			Answers:         answers,
			Verdicts:        ver.Verdicts,
			Solution:        finalSolution,
		})
		run.history = append(run.history, records...)
		run.persistCycle(supCtx, records, answers, ver, "", cycleTokens)

		next := interview.DetermineNextState(interview.DecisionInput{
			IsValid:    true,
			NextAction: res.nextAction,
			NextInput:  res.nextInput,
		})
		if next.ShouldStop {
			break
		}
		// An empty continuation keeps the current question.
		if next.NextQuestion != "" {
			run.question = next.NextQuestion
		}
	}

	return run.complete(ctx, supCtx)
}

// suspend parks the interview at an interaction point: it exposes the
// pending interaction to queries, flips the phase, announces the wait on
// the event stream, and blocks until a resume, cancel, or timeout.
func (r *interviewRun) suspend(ctx, supCtx workflow.Context, point string, p interview.PendingInteraction, phase, eventType string, data map[string]interface{}) resumeOutcome {
	r.pending = &p
	r.setPhase(supCtx, phase)
	emitEvent(supCtx, r, eventType, "", "", data)

	out := awaitResume(ctx, supCtx, r, point)

	r.pending = nil
	if !out.canceled && !out.timedOut {
		r.setPhase(supCtx, interview.PhaseRunning)
	}
	return out
}

// awaitResume blocks at an interaction point until the matching resume
// signal arrives. Signals for other points and payloads that fail shape
// validation are dropped: logged, counted, surfaced as an error event, and
// the wait continues. Cancellation and the optional answer timeout win
// over everything else.
func awaitResume(ctx, supCtx workflow.Context, r *interviewRun, point string) resumeOutcome {
	logger := workflow.GetLogger(ctx)
	answersCh := workflow.GetSignalChannel(ctx, SignalVerificationAnswers)
	retryCh := workflow.GetSignalChannel(ctx, SignalRetryGuidance)
	nextCh := workflow.GetSignalChannel(ctx, SignalNextSteps)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	ometrics.InteractionsWaiting.WithLabelValues(point).Inc()
	defer ometrics.InteractionsWaiting.WithLabelValues(point).Dec()
	waitStart := workflow.Now(ctx)

	var timer workflow.Future
	var stopTimer workflow.CancelFunc
	if r.input.AnswerTimeout > 0 {
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		stopTimer = cancelTimer
		timer = workflow.NewTimer(timerCtx, r.input.AnswerTimeout)
	}

	var out resumeOutcome
	done := false

	drop := func(got, reason, detail string) {
		r.dropped++
		logger.Warn("Dropped resume signal",
			"interview_id", r.input.InterviewID,
			"awaiting", point,
			"received", got,
			"reason", reason,
			"detail", detail,
		)
		ometrics.ResumeRejections.WithLabelValues(got, reason).Inc()
		emitEvent(supCtx, r, streaming.EventError, "", detail, map[string]interface{}{
			"awaiting": point,
			"received": got,
			"reason":   reason,
		})
	}

	accept := func(got string, raw json.RawMessage) {
		if got != point {
			drop(got, "stale", fmt.Sprintf("%s signal arrived while awaiting %s", got, point))
			return
		}
		switch point {
		case interview.PointVerification:
			payload, err := interview.DecodeAnswers(raw)
			if err != nil {
				drop(got, "shape", err.Error())
				return
			}
			out.answers = payload.Answers
		case interview.PointRetry:
			payload, err := interview.DecodeRetry(raw)
			if err != nil {
				drop(got, "shape", err.Error())
				return
			}
			out.guidance = payload.Guidance
		case interview.PointNextSteps:
			payload, err := interview.DecodeNextSteps(raw)
			if err != nil {
				drop(got, "shape", err.Error())
				return
			}
			out.nextAction = payload.NextAction
			out.nextInput = payload.NewInput
		}
		done = true
	}

	for !done {
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, more bool) {
			var raw json.RawMessage
			c.Receive(ctx, &raw)
			var req CancelRequest
			_ = json.Unmarshal(raw, &req)
			out.canceled = true
			out.cancelReason = req.Reason
			done = true
		})
		sel.AddReceive(answersCh, func(c workflow.ReceiveChannel, more bool) {
			var raw json.RawMessage
			c.Receive(ctx, &raw)
			accept(interview.PointVerification, raw)
		})
		sel.AddReceive(retryCh, func(c workflow.ReceiveChannel, more bool) {
			var raw json.RawMessage
			c.Receive(ctx, &raw)
			accept(interview.PointRetry, raw)
		})
		sel.AddReceive(nextCh, func(c workflow.ReceiveChannel, more bool) {
			var raw json.RawMessage
			c.Receive(ctx, &raw)
			accept(interview.PointNextSteps, raw)
		})
		if timer != nil {
			sel.AddFuture(timer, func(workflow.Future) {
				out.timedOut = true
				done = true
			})
		}
		sel.Select(ctx)
	}
	if stopTimer != nil {
		stopTimer()
	}
	if !out.canceled && !out.timedOut {
		ometrics.RecordInteractionResolved(point, workflow.Now(ctx).Sub(waitStart).Seconds())
	}
	return out
}

// setPhase records a phase flip in workflow state and mirrors it to the
// interview row. Counts are cumulative because later row writes overwrite
// earlier ones. Mid-interview flips are fire-and-forget; terminal flips go
// through complete, cancel, or fail instead.
func (r *interviewRun) setPhase(supCtx workflow.Context, phase string) {
	r.phase = phase
	workflow.ExecuteActivity(supCtx, constants.UpdateInterviewPhaseActivity, activities.UpdateInterviewPhaseInput{
		InterviewID: r.input.InterviewID,
		SessionID:   r.input.SessionID,
		Phase:       phase,
		CyclesUsed:  r.cycle,
		TotalTokens: r.tokens,
	})
}

// persistCycle queues this cycle's history records and verdict summary.
func (r *interviewRun) persistCycle(supCtx workflow.Context, records []interview.CycleRecord, answers []string, ver activities.VerifyHypothesesResult, guidance string, cycleTokens int) {
	workflow.ExecuteActivity(supCtx, constants.PersistCycleRecordsActivity, activities.PersistCycleRecordsInput{
		InterviewID:    r.input.InterviewID,
		SessionID:      r.input.SessionID,
		Cycle:          r.cycle,
		Attempt:        1,
		Records:        records,
		Answers:        answers,
		CalcRounds:     ver.CalcRounds,
		IsValid:        ver.IsValid,
		BestHypothesis: ver.BestHypothesis,
		Reason:         ver.Reason,
		RetryGuidance:  guidance,
		TokensUsed:     cycleTokens,
	})
}

// emitEvent streams a lifecycle event without blocking on the activity.
func emitEvent(supCtx workflow.Context, r *interviewRun, eventType, node, message string, data map[string]interface{}) {
	workflow.ExecuteActivity(supCtx, constants.EmitInterviewEventActivity, activities.EmitInterviewEventInput{
		InterviewID: r.input.InterviewID,
		Type:        eventType,
		Node:        node,
		Message:     message,
		Data:        data,
	})
}

// complete builds the report and closes out a finished interview.
func (r *interviewRun) complete(ctx, supCtx workflow.Context) (InterviewResult, error) {
	logger := workflow.GetLogger(ctx)
	r.report = interview.BuildReport(r.history)
	r.phase = interview.PhaseDone
	elapsed := workflow.Now(ctx).Sub(r.started).Seconds()

	if err := workflow.ExecuteActivity(supCtx, constants.UpdateInterviewPhaseActivity, activities.UpdateInterviewPhaseInput{
		InterviewID:     r.input.InterviewID,
		SessionID:       r.input.SessionID,
		Phase:           interview.PhaseDone,
		CyclesUsed:      r.cycle,
		TotalTokens:     r.tokens,
		DurationSeconds: elapsed,
		ReportReady:     true,
	}).Get(ctx, nil); err != nil {
		logger.Warn("Final phase update failed", "error", err)
	}
	if err := workflow.ExecuteActivity(supCtx, constants.PersistReportActivity, activities.PersistReportInput{
		InterviewID: r.input.InterviewID,
		SessionID:   r.input.SessionID,
		UserID:      r.input.UserID,
		Content:     r.report,
		Cycles:      r.cycle,
		Solved:      true,
	}).Get(ctx, nil); err != nil {
		logger.Warn("Report persistence failed", "error", err)
	}
	if err := workflow.ExecuteActivity(supCtx, constants.EmitInterviewEventActivity, activities.EmitInterviewEventInput{
		InterviewID: r.input.InterviewID,
		Type:        streaming.EventInterviewCompleted,
		Data: map[string]interface{}{
			"phase":  interview.PhaseDone,
			"cycles": r.cycle,
			"tokens": r.tokens,
		},
	}).Get(ctx, nil); err != nil {
		logger.Warn("Completion event failed", "error", err)
	}

	logger.Info("Interview completed",
		"interview_id", r.input.InterviewID,
		"cycles", r.cycle,
		"tokens", r.tokens,
		"history_records", len(r.history),
	)
	return r.result(), nil
}

// fail closes out the interview as failed. The phase row and the failure
// event carry the same message as the returned error, so clients that only
// watch the stream or the database see the same story.
func (r *interviewRun) fail(ctx, supCtx workflow.Context, msg string) (InterviewResult, error) {
	logger := workflow.GetLogger(ctx)
	r.phase = interview.PhaseFailed
	elapsed := workflow.Now(ctx).Sub(r.started).Seconds()

	if err := workflow.ExecuteActivity(supCtx, constants.UpdateInterviewPhaseActivity, activities.UpdateInterviewPhaseInput{
		InterviewID:     r.input.InterviewID,
		SessionID:       r.input.SessionID,
		Phase:           interview.PhaseFailed,
		CyclesUsed:      r.cycle,
		TotalTokens:     r.tokens,
		DurationSeconds: elapsed,
		ErrorMessage:    msg,
	}).Get(ctx, nil); err != nil {
		logger.Warn("Failure bookkeeping failed", "error", err)
	}
	if err := workflow.ExecuteActivity(supCtx, constants.EmitInterviewEventActivity, activities.EmitInterviewEventInput{
		InterviewID: r.input.InterviewID,
		Type:        streaming.EventInterviewFailed,
		Message:     msg,
		Data:        map[string]interface{}{"cycles": r.cycle},
	}).Get(ctx, nil); err != nil {
		logger.Warn("Failure event failed", "error", err)
	}

	logger.Error("Interview failed", "interview_id", r.input.InterviewID, "error", msg)
	return InterviewResult{}, errors.New(msg)
}

// cancel closes out after a cancel signal or workflow cancellation. The
// original context may already be dead, so bookkeeping runs on a
// disconnected context, and the returned error keeps the workflow status
// CANCELED rather than FAILED.
func (r *interviewRun) cancel(ctx workflow.Context, reason string) (InterviewResult, error) {
	logger := workflow.GetLogger(ctx)
	if reason == "" {
		reason = "canceled by request"
	}
	r.phase = interview.PhaseCanceled

	detached, _ := workflow.NewDisconnectedContext(ctx)
	supCtx := WithSupportOptions(detached)
	elapsed := workflow.Now(ctx).Sub(r.started).Seconds()

	if err := workflow.ExecuteActivity(supCtx, constants.UpdateInterviewPhaseActivity, activities.UpdateInterviewPhaseInput{
		InterviewID:     r.input.InterviewID,
		SessionID:       r.input.SessionID,
		Phase:           interview.PhaseCanceled,
		CyclesUsed:      r.cycle,
		TotalTokens:     r.tokens,
		DurationSeconds: elapsed,
		ErrorMessage:    reason,
	}).Get(detached, nil); err != nil {
		logger.Warn("Cancel bookkeeping failed", "error", err)
	}
	if err := workflow.ExecuteActivity(supCtx, constants.EmitInterviewEventActivity, activities.EmitInterviewEventInput{
		InterviewID: r.input.InterviewID,
		Type:        streaming.EventInterviewCompleted,
		Message:     reason,
		Data: map[string]interface{}{
			"phase":  interview.PhaseCanceled,
			"cycles": r.cycle,
		},
	}).Get(detached, nil); err != nil {
		logger.Warn("Cancel event failed", "error", err)
	}

	logger.Info("Interview canceled", "interview_id", r.input.InterviewID, "reason", reason)
	return InterviewResult{}, temporal.NewCanceledError(fmt.Sprintf("interview canceled: %s", reason))
}

// finishOnActivityError maps a failed reasoning activity to the right
// terminal path: workflow cancellation surfaces as canceled, anything else
// as failed.
func (r *interviewRun) finishOnActivityError(ctx, supCtx workflow.Context, step string, err error) (InterviewResult, error) {
	if temporal.IsCanceledError(err) || ctx.Err() != nil {
		return r.cancel(ctx, "workflow canceled")
	}
	return r.fail(ctx, supCtx, fmt.Sprintf("%s: %v", step, err))
}
