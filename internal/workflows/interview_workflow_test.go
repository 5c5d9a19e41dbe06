package workflows

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/designdrill/orchestrator/internal/activities"
	"github.com/designdrill/orchestrator/internal/calc"
	"github.com/designdrill/orchestrator/internal/constants"
	"github.com/designdrill/orchestrator/internal/interview"
	"github.com/designdrill/orchestrator/internal/llm"
	"github.com/designdrill/orchestrator/internal/streaming"
)

// registerActivityTypes registers the activity methods with the test
// environment so they can be mocked by name via OnActivity.
func registerActivityTypes(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(activities.NewActivities(activities.Deps{}))
}

func mockSupportActivities(env *testsuite.TestWorkflowEnvironment) {
	registerActivityTypes(env)
	env.OnActivity(constants.RecordInterviewStartedActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.UpdateInterviewPhaseActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.PersistCycleRecordsActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.PersistReportActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.EmitInterviewEventActivity, mock.Anything, mock.Anything).Return(nil)
}

func hypothesesFixture() activities.GenerateHypothesesResult {
	return activities.GenerateHypothesesResult{
		Hypotheses: []string{
			"Redirect reads overwhelm the primary database",
			"Short-code collisions corrupt links",
		},
		VerificationQuestions: []string{
			"How many redirects per day?",
			"How are short codes generated?",
		},
		TokensUsed: 40,
	}
}

func validVerdictsFixture() activities.VerifyHypothesesResult {
	return activities.VerifyHypothesesResult{
		Verdicts: []interview.Verdict{
			{Hypothesis: "Redirect reads overwhelm the primary database", IsValid: true, Reason: "The math holds", IsBest: true},
			{Hypothesis: "Short-code collisions corrupt links", IsValid: false, Reason: "Codes come from a counter"},
		},
		IsValid:        true,
		BestHypothesis: "Redirect reads overwhelm the primary database",
		SolutionDraft:  "Serve redirects from a cache tier",
		TokensUsed:     35,
	}
}

func TestInterviewWorkflowSolvesInOneCycle(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	mockSupportActivities(env)

	env.OnActivity(constants.GenerateHypothesesActivity, mock.Anything, mock.Anything).Return(hypothesesFixture(), nil)
	env.OnActivity(constants.VerifyHypothesesActivity, mock.Anything, mock.Anything).Return(validVerdictsFixture(), nil)
	env.OnActivity(constants.GenerateSolutionActivity, mock.Anything, mock.Anything).Return(
		activities.SolutionResult{Solution: "Add a read-through cache", TokensUsed: 25}, nil)
	env.OnActivity(constants.CriticReviewActivity, mock.Anything, mock.Anything).Return(
		activities.CriticResult{FinalSolution: "Add a replicated read-through cache with TTL refresh", TokensUsed: 20}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalVerificationAnswers, interview.AnswersResume{
			Answers: []string{"100 million per day", "Sequential counter, base62"},
		})
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNextSteps, interview.NextStepsResume{NextAction: interview.ActionStop})
	}, 2*time.Second)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID: "wf-one-cycle",
		SessionID:   "sess-1",
		Query:       "Design a URL shortener that serves 100M redirects per day.",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result InterviewResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, "wf-one-cycle", result.InterviewID)
	assert.Equal(t, 1, result.Cycles)
	assert.Equal(t, interview.PhaseDone, result.Phase)
	require.Len(t, result.History, 2)
	assert.True(t, result.History[0].IsBestHypothesis)
	assert.Equal(t, "Add a replicated read-through cache with TTL refresh", result.History[0].Solution)
	assert.Empty(t, result.History[1].Solution)
	assert.Contains(t, result.Report, interview.ReportHeader)
	assert.Contains(t, result.Report, "Redirect reads overwhelm the primary database")
	assert.Contains(t, result.Report, "Add a replicated read-through cache with TTL refresh")
	assert.Equal(t, result.Report, result.Outputs[ReportOutputKey])

	v, err := env.QueryWorkflow(QueryFinalReport)
	require.NoError(t, err)
	var report string
	require.NoError(t, v.Get(&report))
	assert.Equal(t, result.Report, report)

	v, err = env.QueryWorkflow(QueryInterviewState)
	require.NoError(t, err)
	var state InterviewState
	require.NoError(t, v.Get(&state))
	assert.Equal(t, interview.PhaseDone, state.Phase)
	assert.Equal(t, 120, state.TokensUsed)
	assert.Nil(t, state.Pending)
}

func TestInterviewWorkflowRetryCarriesGuidance(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	registerActivityTypes(env)

	env.OnActivity(constants.RecordInterviewStartedActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.UpdateInterviewPhaseActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.PersistReportActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.EmitInterviewEventActivity, mock.Anything, mock.Anything).Return(nil)

	var generateCalls []activities.GenerateHypothesesInput
	env.OnActivity(constants.GenerateHypothesesActivity, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GenerateHypothesesInput) (activities.GenerateHypothesesResult, error) {
			generateCalls = append(generateCalls, in)
			return activities.GenerateHypothesesResult{
				Hypotheses:            []string{"Hot partition on short-code writes"},
				VerificationQuestions: []string{"What is the daily write volume?"},
				TokensUsed:            10,
			}, nil
		})

	verifyCalls := 0
	env.OnActivity(constants.VerifyHypothesesActivity, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.VerifyHypothesesInput) (activities.VerifyHypothesesResult, error) {
			verifyCalls++
			if verifyCalls == 1 {
				return activities.VerifyHypothesesResult{
					Verdicts: []interview.Verdict{
						{Hypothesis: in.Hypotheses[0], IsValid: false, Reason: "Numbers do not support it"},
					},
					Reason: "Numbers do not support it",
				}, nil
			}
			return activities.VerifyHypothesesResult{
				Verdicts: []interview.Verdict{
					{Hypothesis: in.Hypotheses[0], IsValid: true, Reason: "Holds with the new framing", IsBest: true},
				},
				IsValid:        true,
				BestHypothesis: in.Hypotheses[0],
			}, nil
		})

	env.OnActivity(constants.GenerateSolutionActivity, mock.Anything, mock.Anything).Return(
		activities.SolutionResult{Solution: "Shard by code prefix"}, nil)
	env.OnActivity(constants.CriticReviewActivity, mock.Anything, mock.Anything).Return(
		activities.CriticResult{FinalSolution: "Shard by code prefix with a warm spare"}, nil)

	var persisted []activities.PersistCycleRecordsInput
	env.OnActivity(constants.PersistCycleRecordsActivity, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.PersistCycleRecordsInput) error {
			persisted = append(persisted, in)
			return nil
		})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalVerificationAnswers, interview.AnswersResume{Answers: []string{"About 1M writes per day"}})
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalRetryGuidance, interview.RetryResume{Guidance: "Focus on the write path."})
	}, 2*time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalVerificationAnswers, interview.AnswersResume{Answers: []string{"Still 1M writes per day"}})
	}, 3*time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNextSteps, interview.NextStepsResume{NextAction: interview.ActionStop})
	}, 4*time.Second)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID: "wf-retry",
		Query:       "Design the write path of a URL shortener.",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result InterviewResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 2, result.Cycles)
	require.Len(t, result.History, 2)
	assert.False(t, result.History[0].IsValid)
	assert.True(t, result.History[1].IsValid)

	require.Len(t, generateCalls, 2)
	assert.Empty(t, generateCalls[0].CurrentQuestion)
	retryQuestion := generateCalls[1].CurrentQuestion
	assert.Contains(t, retryQuestion, "Previous hypotheses were invalid. Reason: Numbers do not support it.")
	assert.Contains(t, retryQuestion, "Interviewer guidance: Focus on the write path.")

	require.Len(t, persisted, 2)
	assert.False(t, persisted[0].IsValid)
	assert.Equal(t, "Focus on the write path.", persisted[0].RetryGuidance)
	assert.Equal(t, 1, persisted[0].Cycle)
	assert.True(t, persisted[1].IsValid)
	assert.Empty(t, persisted[1].RetryGuidance)
	assert.Equal(t, 2, persisted[1].Cycle)

	// The second cycle's history carries both framings for the report.
	assert.Contains(t, result.Report, "Shard by code prefix with a warm spare")
}

func TestInterviewWorkflowLoopsWithNewInput(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	mockSupportActivities(env)

	var generateCalls []activities.GenerateHypothesesInput
	env.OnActivity(constants.GenerateHypothesesActivity, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.GenerateHypothesesInput) (activities.GenerateHypothesesResult, error) {
			generateCalls = append(generateCalls, in)
			return activities.GenerateHypothesesResult{
				Hypotheses:            []string{"Cache invalidation lags behind writes"},
				VerificationQuestions: []string{"How fresh must redirects be?"},
			}, nil
		})
	env.OnActivity(constants.VerifyHypothesesActivity, mock.Anything, mock.Anything).Return(
		activities.VerifyHypothesesResult{
			Verdicts: []interview.Verdict{
				{Hypothesis: "Cache invalidation lags behind writes", IsValid: true, Reason: "Confirmed", IsBest: true},
			},
			IsValid:        true,
			BestHypothesis: "Cache invalidation lags behind writes",
		}, nil)
	env.OnActivity(constants.GenerateSolutionActivity, mock.Anything, mock.Anything).Return(
		activities.SolutionResult{Solution: "Use short TTLs"}, nil)
	env.OnActivity(constants.CriticReviewActivity, mock.Anything, mock.Anything).Return(
		activities.CriticResult{FinalSolution: "Use short TTLs with async refresh"}, nil)

	answers := func() {
		env.SignalWorkflow(SignalVerificationAnswers, interview.AnswersResume{Answers: []string{"Within one minute"}})
	}
	env.RegisterDelayedCallback(answers, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNextSteps, interview.NextStepsResume{
			NextAction: interview.ActionLoop,
			NewInput:   "Now add click analytics to the design.",
		})
	}, 2*time.Second)
	env.RegisterDelayedCallback(answers, 3*time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNextSteps, interview.NextStepsResume{NextAction: interview.ActionStop})
	}, 4*time.Second)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID: "wf-loop",
		Query:       "Design a URL shortener.",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result InterviewResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 2, result.Cycles)
	require.Len(t, result.History, 2)
	assert.Equal(t, "Design a URL shortener.", result.History[0].CurrentQuestion)
	assert.Equal(t, "Now add click analytics to the design.", result.History[1].CurrentQuestion)

	require.Len(t, generateCalls, 2)
	assert.Equal(t, "Now add click analytics to the design.", generateCalls[1].CurrentQuestion)
}

func TestInterviewWorkflowDropsStaleAndMalformedSignals(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	registerActivityTypes(env)

	env.OnActivity(constants.RecordInterviewStartedActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.UpdateInterviewPhaseActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.PersistCycleRecordsActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.PersistReportActivity, mock.Anything, mock.Anything).Return(nil)

	var events []activities.EmitInterviewEventInput
	env.OnActivity(constants.EmitInterviewEventActivity, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.EmitInterviewEventInput) error {
			events = append(events, in)
			return nil
		})

	env.OnActivity(constants.GenerateHypothesesActivity, mock.Anything, mock.Anything).Return(hypothesesFixture(), nil)
	env.OnActivity(constants.VerifyHypothesesActivity, mock.Anything, mock.Anything).Return(validVerdictsFixture(), nil)
	env.OnActivity(constants.GenerateSolutionActivity, mock.Anything, mock.Anything).Return(
		activities.SolutionResult{Solution: "Cache it"}, nil)
	env.OnActivity(constants.CriticReviewActivity, mock.Anything, mock.Anything).Return(
		activities.CriticResult{FinalSolution: "Cache it"}, nil)

	// A decision signal while answers are pending is stale; answers that are
	// not a string list fail shape validation. Both must leave the wait
	// intact.
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNextSteps, interview.NextStepsResume{NextAction: interview.ActionStop})
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalVerificationAnswers, map[string]interface{}{"answers": "not a list"})
	}, 2*time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalVerificationAnswers, interview.AnswersResume{Answers: []string{"100M", "counter"}})
	}, 3*time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNextSteps, interview.NextStepsResume{NextAction: interview.ActionStop})
	}, 4*time.Second)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID: "wf-stale",
		Query:       "Design a URL shortener.",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result InterviewResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Cycles)

	v, err := env.QueryWorkflow(QueryInterviewState)
	require.NoError(t, err)
	var state InterviewState
	require.NoError(t, v.Get(&state))
	assert.Equal(t, 2, state.DroppedSignals)

	errorEvents := 0
	for _, evt := range events {
		if evt.Type == streaming.EventError {
			errorEvents++
		}
	}
	assert.Equal(t, 2, errorEvents)
}

func TestInterviewWorkflowCancelWhileWaiting(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	registerActivityTypes(env)

	env.OnActivity(constants.RecordInterviewStartedActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.PersistCycleRecordsActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.PersistReportActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.EmitInterviewEventActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(constants.GenerateHypothesesActivity, mock.Anything, mock.Anything).Return(hypothesesFixture(), nil)

	var phases []activities.UpdateInterviewPhaseInput
	env.OnActivity(constants.UpdateInterviewPhaseActivity, mock.Anything, mock.Anything).Return(
		func(ctx context.Context, in activities.UpdateInterviewPhaseInput) error {
			phases = append(phases, in)
			return nil
		})

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, CancelRequest{Reason: "operator abort", RequestedBy: "ops"})
	}, time.Second)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID: "wf-cancel",
		Query:       "Design a URL shortener.",
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.True(t, temporal.IsCanceledError(err), "expected a canceled error, got %v", err)

	require.NotEmpty(t, phases)
	last := phases[len(phases)-1]
	assert.Equal(t, interview.PhaseCanceled, last.Phase)
	assert.Equal(t, "operator abort", last.ErrorMessage)

	v, qerr := env.QueryWorkflow(QueryInterviewState)
	require.NoError(t, qerr)
	var state InterviewState
	require.NoError(t, v.Get(&state))
	assert.Equal(t, interview.PhaseCanceled, state.Phase)
}

func TestInterviewWorkflowAnswerTimeoutFails(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	mockSupportActivities(env)
	env.OnActivity(constants.GenerateHypothesesActivity, mock.Anything, mock.Anything).Return(hypothesesFixture(), nil)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID:   "wf-timeout",
		Query:         "Design a URL shortener.",
		AnswerTimeout: 30 * time.Minute,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out waiting for verification answers")

	v, qerr := env.QueryWorkflow(QueryInterviewState)
	require.NoError(t, qerr)
	var state InterviewState
	require.NoError(t, v.Get(&state))
	assert.Equal(t, interview.PhaseFailed, state.Phase)
}

func TestInterviewWorkflowHonorsCycleBudget(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	mockSupportActivities(env)

	env.OnActivity(constants.GenerateHypothesesActivity, mock.Anything, mock.Anything).Return(
		activities.GenerateHypothesesResult{
			Hypotheses:            []string{"It always times out"},
			VerificationQuestions: []string{"Does it?"},
		}, nil)
	env.OnActivity(constants.VerifyHypothesesActivity, mock.Anything, mock.Anything).Return(
		activities.VerifyHypothesesResult{
			Verdicts: []interview.Verdict{{Hypothesis: "It always times out", Reason: "No numbers"}},
			Reason:   "No numbers",
		}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalVerificationAnswers, interview.AnswersResume{Answers: []string{"unsure"}})
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalRetryGuidance, interview.RetryResume{})
	}, 2*time.Second)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID: "wf-budget",
		Query:       "Design a URL shortener.",
		MaxCycles:   1,
	})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle budget exhausted after 1 cycles")
}

func TestInterviewWorkflowRejectsEmptyQuery(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{InterviewID: "wf-empty"})

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query must not be empty")
}

// scriptedModel serves canned chat completions in order, standing in for the
// inference gateway.
type scriptedModel struct {
	server    *httptest.Server
	mu        sync.Mutex
	responses []llm.Response
	calls     int
}

func newScriptedModel(t *testing.T, responses []llm.Response) *scriptedModel {
	m := &scriptedModel{responses: responses}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.calls >= len(m.responses) {
			http.Error(w, "no scripted response left", http.StatusBadRequest)
			return
		}
		resp := m.responses[m.calls]
		m.calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(m.server.Close)
	return m
}

func chatText(content string, tokens int) llm.Response {
	return llm.Response{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: llm.Usage{TotalTokens: tokens},
	}
}

func chatJSON(t *testing.T, v interface{}, tokens int) llm.Response {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return chatText(string(b), tokens)
}

func chatCalcCall(id, script string) llm.Response {
	args, _ := json.Marshal(map[string]string{"script": script})
	return llm.Response{
		Choices: []llm.Choice{{
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       id,
					Type:     "function",
					Function: llm.ToolCallFunction{Name: "calculate_metrics", Arguments: string(args)},
				}},
			},
			FinishReason: "tool_calls",
		}},
		Usage: llm.Usage{TotalTokens: 6},
	}
}

// TestInterviewWorkflowEndToEnd drives the real activities against a
// scripted model: hypotheses, a genuine calculation round, verdict
// extraction, solution, critique, and the final report.
func TestInterviewWorkflowEndToEnd(t *testing.T) {
	model := newScriptedModel(t, []llm.Response{
		chatJSON(t, map[string]interface{}{
			"hypotheses": []string{
				"Redirect reads overwhelm the primary database",
				"Short-code collisions corrupt links",
			},
			"verification_questions": []string{
				"How many redirects per day?",
				"How are short codes generated?",
			},
		}, 40),
		chatCalcCall("call-1", "import \"fmt\"\nfmt.Println(100000000 / 86400)"),
		chatText("At 100M redirects per day the primary sees roughly 1157 reads per second, which exceeds its budget.", 30),
		chatJSON(t, map[string]interface{}{
			"hypotheses_feedback": []map[string]interface{}{
				{
					"hypothesis": "Redirect reads overwhelm the primary database",
					"is_valid":   true,
					"reason":     "1157 reads per second exceeds the stated capacity",
					"is_best":    true,
				},
				{
					"hypothesis": "Short-code collisions corrupt links",
					"is_valid":   false,
					"reason":     "Codes are allocated from a counter",
					"is_best":    false,
				},
			},
			"solution_draft": "Serve redirects from a cache tier",
		}, 35),
		chatText("Put a Redis cache in front of the store and serve redirects from it, falling back on miss.", 25),
		chatText("Serve redirects from a replicated Redis tier with TTL refresh; keep the database for writes and misses.", 20),
	})

	logger := zaptest.NewLogger(t)
	streams := streaming.NewManager(logger)
	eventCh := streams.Subscribe("wf-url-shortener", 64)

	acts := activities.NewActivities(activities.Deps{
		LLM: llm.New(
			llm.WithEndpoint(model.server.URL),
			llm.WithModel("gemma3:27b"),
			llm.WithRateLimit(1000, 1000),
			llm.WithLogger(logger),
		),
		Calc:    calc.NewRunner(calc.WithLogger(logger)),
		Streams: streams,
		Logger:  logger,
	})

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivity(acts)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalVerificationAnswers, interview.AnswersResume{
			Answers: []string{"100 million per day", "Sequential counter, base62"},
		})
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalNextSteps, interview.NextStepsResume{NextAction: interview.ActionStop})
	}, 2*time.Second)

	env.ExecuteWorkflow(InterviewWorkflow, InterviewInput{
		InterviewID: "wf-url-shortener",
		Query:       "Design a URL shortener that serves 100M redirects per day.",
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result InterviewResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 1, result.Cycles)
	assert.Equal(t, interview.PhaseDone, result.Phase)
	require.Len(t, result.History, 2)
	assert.Equal(t, "Redirect reads overwhelm the primary database", result.History[0].Hypothesis)
	assert.Contains(t, result.History[0].Solution, "replicated Redis tier")
	assert.Contains(t, result.Report, "100 million per day")
	assert.Contains(t, result.Report, "replicated Redis tier")
	assert.Equal(t, result.Report, result.Outputs[ReportOutputKey])
	assert.Equal(t, 6, model.calls)

	var types []string
	drained := false
	for !drained {
		select {
		case evt := <-eventCh:
			types = append(types, evt.Type)
		default:
			drained = true
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, streaming.EventInterviewStarted, types[0])
	assert.Contains(t, types, streaming.EventQuestionPending)
	assert.Contains(t, types, streaming.EventCalcExecuted)
	assert.Contains(t, types, streaming.EventDecisionPending)
	assert.Equal(t, streaming.EventInterviewCompleted, types[len(types)-1])
}
