package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/interview"
	"github.com/designdrill/orchestrator/internal/workflows"
)

const (
	// queryTimeout bounds each individual query or signal call, not the
	// task as a whole.
	queryTimeout = 10 * time.Second

	// maxPollInterval caps the backoff used while the workflow is between
	// interaction points or queries are failing transiently.
	maxPollInterval = 5 * time.Second

	// noReportFound stands in for a missing final report so the judge
	// always has something to score against.
	noReportFound = "No Report Found"

	// retryNudge is the scripted guidance sent when a cycle produced no
	// valid hypothesis. It mirrors what a real interviewer would say
	// without leaking the task's ideal outcome to the candidate.
	retryNudge = "Revisit the stated constraints and back each hypothesis with concrete numbers."
)

// temporalClient is the slice of client.Client the harness drives
// interviews through.
type temporalClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error)
}

// Options tunes a Runner.
type Options struct {
	// TaskQueue the worker under evaluation listens on.
	TaskQueue string
	// CandidateModel overrides the worker's default model when non-empty.
	CandidateModel string
	// TaskTimeout bounds one full interview including judging.
	TaskTimeout time.Duration
	// MaxRetryNudges is how many failed cycles get scripted guidance
	// before the task is abandoned with a zero score.
	MaxRetryNudges int
	// PollInterval is the base delay between state queries.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.TaskQueue == "" {
		o.TaskQueue = "interviews"
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 10 * time.Minute
	}
	if o.MaxRetryNudges <= 0 {
		o.MaxRetryNudges = 2
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

// Runner drives interviews end to end: it starts the workflow, plays the
// interviewer at every interaction point, and judges the final report.
type Runner struct {
	temporal    temporalClient
	interviewer *Interviewer
	opts        Options
	logger      *zap.Logger

	store      *Store
	storeRunID int64
}

// NewRunner builds a Runner. Zero-value Options fields get defaults.
func NewRunner(tc temporalClient, interviewer *Interviewer, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		temporal:    tc,
		interviewer: interviewer,
		opts:        opts.withDefaults(),
		logger:      logger,
	}
}

// AttachStore makes the runner persist each result under runID as it is
// produced, so partial runs survive interruption.
func (r *Runner) AttachStore(store *Store, runID int64) {
	r.store = store
	r.storeRunID = runID
}

// RunAll evaluates tasks in order and returns one Result per task. Task
// failures are folded into zero-score results; only cancellation of ctx
// stops the run early.
func (r *Runner) RunAll(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, 0, len(tasks))
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r.logger.Info("Evaluating task",
			zap.String("task_id", task.TaskID),
			zap.Int("index", i+1),
			zap.Int("total", len(tasks)))

		start := time.Now()
		taskCtx, cancel := context.WithTimeout(ctx, r.opts.TaskTimeout)
		res, interviewID, err := r.runTask(taskCtx, task)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			res = Result{
				TaskID:      task.TaskID,
				Score:       0,
				Reasoning:   "evaluation error: " + err.Error(),
				FinalReport: res.FinalReport,
			}
		}
		duration := time.Since(start)
		r.record(res, interviewID, duration)
		results = append(results, res)

		r.logger.Info("Task scored",
			zap.String("task_id", task.TaskID),
			zap.Int("score", res.Score),
			zap.Duration("duration", duration))
	}
	return results, nil
}

// runTask runs one interview to completion and judges its report. Outcomes
// that are verdicts about the candidate (retry budget exhausted, workflow
// failed) come back as zero-score Results with a nil error; the error path
// is for harness-side failures.
func (r *Runner) runTask(ctx context.Context, task Task) (Result, string, error) {
	interviewID := fmt.Sprintf("eval-%s-%d", task.TaskID, time.Now().UnixNano())
	input := workflows.InterviewInput{
		InterviewID: interviewID,
		Query:       task.InitialPrompt,
		Model:       r.opts.CandidateModel,
		Context:     map[string]string{"evaluation": "true", "task_id": task.TaskID},
		// Two productive cycles (initial solve plus the challenge) and
		// headroom for nudged retries.
		MaxCycles: r.opts.MaxRetryNudges + 4,
	}
	options := client.StartWorkflowOptions{
		ID:        interviewID,
		TaskQueue: r.opts.TaskQueue,
	}

	startCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	_, err := r.temporal.ExecuteWorkflow(startCtx, options, workflows.InterviewWorkflow, input)
	cancel()
	if err != nil {
		return Result{TaskID: task.TaskID}, interviewID, fmt.Errorf("start interview: %w", err)
	}

	// The workflow suspends at discrete interaction points. Each wait is
	// uniquely identified by (cycle, point) because the cycle counter
	// advances before every new round of questions, so lastHandled
	// prevents double-signaling while the workflow catches up.
	var (
		lastHandled string
		retries     int
		challenged  bool
		backoff     = r.opts.PollInterval
	)

	for {
		select {
		case <-ctx.Done():
			r.cancelInterview(interviewID, "evaluation timed out")
			return Result{TaskID: task.TaskID}, interviewID, ctx.Err()
		case <-time.After(backoff):
		}

		var state workflows.InterviewState
		if err := r.query(ctx, interviewID, workflows.QueryInterviewState, &state); err != nil {
			backoff = growPoll(backoff)
			continue
		}
		var pending *interview.PendingInteraction
		if err := r.query(ctx, interviewID, workflows.QueryPendingInteraction, &pending); err != nil {
			backoff = growPoll(backoff)
			continue
		}
		backoff = r.opts.PollInterval

		if pending == nil {
			switch state.Phase {
			case interview.PhaseDone:
				return r.judge(ctx, task, interviewID)
			case interview.PhaseFailed, interview.PhaseCanceled:
				return Result{
					TaskID:    task.TaskID,
					Score:     0,
					Reasoning: "interview ended in phase " + state.Phase,
				}, interviewID, nil
			default:
				continue
			}
		}

		key := fmt.Sprintf("%d|%s", state.Cycle, pending.Point)
		if key == lastHandled {
			continue
		}

		handled, res, err := r.respond(ctx, task, interviewID, state, pending, &retries, &challenged)
		if err != nil {
			r.cancelInterview(interviewID, "evaluation aborted: "+err.Error())
			return Result{TaskID: task.TaskID}, interviewID, err
		}
		if res != nil {
			return *res, interviewID, nil
		}
		if handled {
			lastHandled = key
		}
	}
}

// respond plays the interviewer for one pending interaction. It returns a
// non-nil Result when the task should end without judging (retry budget
// spent), handled=false when the signal send failed and should be retried
// on the next poll.
func (r *Runner) respond(ctx context.Context, task Task, interviewID string, state workflows.InterviewState, pending *interview.PendingInteraction, retries *int, challenged *bool) (bool, *Result, error) {
	switch pending.Point {
	case interview.PointVerification:
		var req interview.VerificationRequest
		if err := json.Unmarshal([]byte(pending.Request), &req); err != nil {
			return false, nil, fmt.Errorf("decode verification request: %w", err)
		}
		taskContext := task.ContextPhase1
		if *challenged && task.ContextPhase2 != "" {
			taskContext = task.ContextPhase2
		}
		answers, err := r.interviewer.AnswerQuestions(ctx, req.Questions, taskContext)
		if err != nil {
			return false, nil, fmt.Errorf("answer questions: %w", err)
		}
		r.logger.Debug("Answering verification questions",
			zap.String("interview_id", interviewID),
			zap.Int("cycle", state.Cycle),
			zap.Int("questions", len(req.Questions)))
		if err := r.signal(interviewID, workflows.SignalVerificationAnswers, interview.AnswersResume{Answers: answers}); err != nil {
			return false, nil, nil
		}
		return true, nil, nil

	case interview.PointRetry:
		*retries++
		if *retries > r.opts.MaxRetryNudges {
			r.cancelInterview(interviewID, "retry budget exhausted")
			return true, &Result{
				TaskID:    task.TaskID,
				Score:     0,
				Reasoning: fmt.Sprintf("no valid hypothesis after %d retry nudges", r.opts.MaxRetryNudges),
			}, nil
		}
		r.logger.Debug("Nudging retry",
			zap.String("interview_id", interviewID),
			zap.Int("cycle", state.Cycle),
			zap.Int("retries", *retries))
		if err := r.signal(interviewID, workflows.SignalRetryGuidance, interview.RetryResume{Guidance: retryNudge}); err != nil {
			*retries--
			return false, nil, nil
		}
		return true, nil, nil

	case interview.PointNextSteps:
		resume := interview.NextStepsResume{NextAction: interview.ActionStop}
		if !*challenged && task.ContextPhase2 != "" {
			challenge, err := r.interviewer.GenerateChallenge(ctx, task.ContextPhase2)
			if err != nil {
				r.logger.Warn("Challenge generation failed, stopping after first phase",
					zap.String("interview_id", interviewID),
					zap.Error(err))
			} else {
				resume = interview.NextStepsResume{NextAction: interview.ActionLoop, NewInput: challenge}
			}
		}
		r.logger.Debug("Deciding next steps",
			zap.String("interview_id", interviewID),
			zap.Int("cycle", state.Cycle),
			zap.String("action", resume.NextAction))
		if err := r.signal(interviewID, workflows.SignalNextSteps, resume); err != nil {
			return false, nil, nil
		}
		if resume.NextAction == interview.ActionLoop {
			*challenged = true
		}
		return true, nil, nil

	default:
		return false, nil, fmt.Errorf("unknown interaction point %q", pending.Point)
	}
}

// judge fetches the final report and scores it against the task's ideal
// outcome. Judge failures score zero rather than failing the task, so one
// flaky judge call cannot sink a long run.
func (r *Runner) judge(ctx context.Context, task Task, interviewID string) (Result, string, error) {
	var report string
	if err := r.query(ctx, interviewID, workflows.QueryFinalReport, &report); err != nil {
		r.logger.Warn("Final report query failed",
			zap.String("interview_id", interviewID),
			zap.Error(err))
	}
	if strings.TrimSpace(report) == "" {
		report = noReportFound
	}

	score, err := r.interviewer.ScoreReport(ctx, report, task.IdealOutcome)
	if err != nil {
		return Result{
			TaskID:      task.TaskID,
			Score:       0,
			Reasoning:   "judge error: " + err.Error(),
			FinalReport: report,
		}, interviewID, nil
	}
	return Result{
		TaskID:      task.TaskID,
		Score:       score.Score,
		Reasoning:   score.Reasoning,
		FinalReport: report,
	}, interviewID, nil
}

func (r *Runner) query(ctx context.Context, interviewID, queryType string, out interface{}) error {
	qctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	ev, err := r.temporal.QueryWorkflow(qctx, interviewID, "", queryType)
	if err != nil {
		return err
	}
	return ev.Get(out)
}

func (r *Runner) signal(interviewID, name string, arg interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := r.temporal.SignalWorkflow(ctx, interviewID, "", name, arg); err != nil {
		r.logger.Warn("Signal failed, will retry on next poll",
			zap.String("interview_id", interviewID),
			zap.String("signal", name),
			zap.Error(err))
		return err
	}
	return nil
}

// cancelInterview is best-effort cleanup; the parent context may already be
// dead, so it uses its own deadline.
func (r *Runner) cancelInterview(interviewID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	err := r.temporal.SignalWorkflow(ctx, interviewID, "", workflows.SignalCancel,
		workflows.CancelRequest{Reason: reason, RequestedBy: "evaluator"})
	if err != nil {
		r.logger.Warn("Failed to cancel interview",
			zap.String("interview_id", interviewID),
			zap.Error(err))
	}
}

func (r *Runner) record(res Result, interviewID string, duration time.Duration) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err := r.store.RecordResult(ctx, r.storeRunID, res, interviewID, duration); err != nil {
		r.logger.Warn("Failed to persist evaluation result",
			zap.String("task_id", res.TaskID),
			zap.Error(err))
	}
}

func growPoll(d time.Duration) time.Duration {
	d *= 2
	if d > maxPollInterval {
		return maxPollInterval
	}
	return d
}
