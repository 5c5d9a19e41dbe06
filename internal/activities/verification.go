package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/calc"
	"github.com/designdrill/orchestrator/internal/interview"
	"github.com/designdrill/orchestrator/internal/llm"
	ometrics "github.com/designdrill/orchestrator/internal/metrics"
	"github.com/designdrill/orchestrator/internal/policy"
	"github.com/designdrill/orchestrator/internal/prompts"
	"github.com/designdrill/orchestrator/internal/streaming"
	"github.com/designdrill/orchestrator/internal/util"
)

const calcToolName = "calculate_metrics"

// VerifyHypothesesInput is the input for hypothesis verification.
type VerifyHypothesesInput struct {
	InterviewID string                  `json:"interview_id"`
	Hypotheses  []string                `json:"hypotheses"`
	Questions   []string                `json:"questions"`
	Answers     []string                `json:"answers"`
	History     []interview.CycleRecord `json:"history,omitempty"`
	Model       string                  `json:"model,omitempty"`
}

// CalcRound records one calculation tool invocation for the audit trail.
type CalcRound struct {
	Script string `json:"script"`
	Output string `json:"output"`
}

// VerifyHypothesesResult carries the per-hypothesis verdicts and the
// cycle-level rollup. On model failure the result degrades to an invalid
// cycle with the fallback reason; the activity itself never errors over
// model behavior.
type VerifyHypothesesResult struct {
	Verdicts       []interview.Verdict `json:"verdicts"`
	IsValid        bool                `json:"is_valid"`
	BestHypothesis string              `json:"best_hypothesis"`
	SolutionDraft  string              `json:"solution_draft"`
	Reason         string              `json:"reason"`
	Analysis       string              `json:"analysis"`
	CalcRounds     []CalcRound         `json:"calc_rounds,omitempty"`
	TokensUsed     int                 `json:"tokens_used"`
}

func calcTool() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        calcToolName,
			Description: "Run a short Go script to calculate system design metrics such as QPS, storage, or bandwidth. The script must print its result to stdout.",
			Parameters: &llm.Schema{
				Type: "object",
				Properties: map[string]*llm.Property{
					"script": {
						Type:        "string",
						Description: "Go statements with optional leading imports; print results with fmt.Println",
					},
				},
				Required: []string{"script"},
			},
		},
	}
}

func verdictsSchema() *llm.Schema {
	verdict := &llm.Property{
		Type: "object",
		Properties: map[string]*llm.Property{
			"hypothesis": {Type: "string", Description: "The hypothesis text being verified"},
			"is_valid":   {Type: "boolean", Description: "True if this hypothesis is a valid challenge"},
			"reason":     {Type: "string", Description: "Why the hypothesis is valid or invalid"},
			"is_best":    {Type: "boolean", Description: "True if this is the best hypothesis to pursue"},
		},
		Required: []string{"hypothesis", "is_valid", "reason", "is_best"},
	}
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Property{
			"hypotheses_feedback": {
				Type:        "array",
				Description: "Verification details for each hypothesis",
				Items:       verdict,
			},
			"solution_draft": {
				Type:        "string",
				Description: "Brief solution direction for the best hypothesis",
			},
		},
		Required: []string{"hypotheses_feedback"},
	}
}

// formatList renders items as a numbered list for prompt injection.
func formatList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return strings.TrimRight(b.String(), "\n")
}

// VerifyHypotheses runs the two-phase verification: an exploratory analysis
// in which the model may call calculate_metrics to back claims with numbers,
// then a schema-constrained extraction of that analysis into per-hypothesis
// verdicts.
func (a *Activities) VerifyHypotheses(ctx context.Context, in VerifyHypothesesInput) (VerifyHypothesesResult, error) {
	logger := a.logger.With(
		zap.String("activity", "VerifyHypotheses"),
		zap.String("interview_id", in.InterviewID),
	)
	logger.Info("Verifying hypotheses",
		zap.Int("hypotheses", len(in.Hypotheses)),
		zap.Int("answers", len(in.Answers)),
	)

	vars := map[string]string{
		"hypotheses": formatList(in.Hypotheses),
		"questions":  formatList(in.Questions),
		"answers":    formatList(in.Answers),
		"history":    interview.HistoryText(in.History),
	}

	system, err := a.prompts.Render(prompts.VerifyAnalysis, vars)
	if err != nil {
		return VerifyHypothesesResult{}, fmt.Errorf("render verification prompt: %w", err)
	}

	analysis, rounds, tokens := a.runAnalysis(ctx, logger, in, system)

	result := a.extractVerdicts(ctx, logger, in, vars, analysis)
	result.Analysis = analysis
	result.CalcRounds = rounds
	result.TokensUsed += tokens

	valid, invalid := 0, 0
	for _, v := range result.Verdicts {
		if v.IsValid {
			valid++
		} else {
			invalid++
		}
	}
	ometrics.RecordVerdicts(valid, invalid)

	logger.Info("Verification completed",
		zap.Bool("is_valid", result.IsValid),
		zap.String("best_hypothesis", util.TruncateString(result.BestHypothesis, 120, false)),
		zap.Int("verdicts", len(result.Verdicts)),
		zap.Int("calc_rounds", len(rounds)),
	)
	return result, nil
}

// runAnalysis is the exploratory phase. The tool loop is bounded; every
// calculation failure comes back to the model as text in the transcript, so
// a broken script can never break the reasoning out of the loop.
func (a *Activities) runAnalysis(ctx context.Context, logger *zap.Logger, in VerifyHypothesesInput, system string) (string, []CalcRound, int) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: "Please verify the hypotheses now."},
	}

	var rounds []CalcRound
	tokens := 0

	for iteration := 0; iteration < a.maxCalcRounds; iteration++ {
		resp, err := a.llm.Chat(ctx, "verify_analysis", &llm.Request{
			Model:    in.Model,
			Messages: messages,
			Tools:    []llm.Tool{calcTool()},
		})
		if err != nil {
			logger.Warn("Verification analysis call failed",
				zap.Int("iteration", iteration),
				zap.Error(err),
			)
			return "", rounds, tokens
		}
		tokens += resp.Usage.TotalTokens

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			return resp.Text(), rounds, tokens
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text(),
			ToolCalls: calls,
		})
		for _, call := range calls {
			output := a.runCalcCall(ctx, logger, in.InterviewID, call)
			rounds = append(rounds, CalcRound{Script: scriptFromCall(call), Output: output})
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	// Budget exhausted with the model still asking for tools. Force one
	// text-only turn so the extraction phase has an analysis to work from.
	logger.Warn("Calculation loop budget exhausted", zap.Int("max_rounds", a.maxCalcRounds))
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: "Calculation budget exhausted. Provide your final analysis now without calling tools.",
	})
	resp, err := a.llm.Chat(ctx, "verify_analysis", &llm.Request{Model: in.Model, Messages: messages})
	if err != nil {
		logger.Warn("Final analysis call failed", zap.Error(err))
		return "", rounds, tokens
	}
	return resp.Text(), rounds, tokens + resp.Usage.TotalTokens
}

func scriptFromCall(call llm.ToolCall) string {
	var args struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return call.Function.Arguments
	}
	return args.Script
}

// runCalcCall executes one calculate_metrics invocation. Every failure mode
// becomes "Error executing code: ..." text in the tool result.
func (a *Activities) runCalcCall(ctx context.Context, logger *zap.Logger, interviewID string, call llm.ToolCall) string {
	if call.Function.Name != calcToolName {
		return fmt.Sprintf("Error executing code: unknown tool %q", call.Function.Name)
	}
	var args struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return fmt.Sprintf("Error executing code: invalid arguments: %v", err)
	}
	if strings.TrimSpace(args.Script) == "" {
		return "Error executing code: empty script"
	}

	if a.policy != nil && a.policy.IsEnabled() {
		decision, err := a.policy.Evaluate(ctx, &policy.Input{
			InterviewID: interviewID,
			Node:        "verify_analysis",
			Script:      args.Script,
			ScriptBytes: len(args.Script),
			Imports:     calc.ScriptImports(args.Script),
			Environment: a.policy.Environment(),
			Timestamp:   time.Now(),
		})
		if err != nil {
			logger.Warn("Script guard evaluation failed, allowing script", zap.Error(err))
		} else if !decision.Allow {
			logger.Info("Script rejected by guard", zap.String("reason", decision.Reason))
			return fmt.Sprintf("Error executing code: script rejected: %s", decision.Reason)
		}
	}

	output, err := a.calc.Run(ctx, args.Script)
	if err != nil {
		return fmt.Sprintf("Error executing code: %v", err)
	}

	a.publish(interviewID, streaming.Event{
		Type:    streaming.EventCalcExecuted,
		Node:    "verify_analysis",
		Message: util.TruncateString(args.Script, 200, false),
	})
	return output
}

// extractVerdicts is the extraction phase: the free-form analysis is parsed
// into the strict per-hypothesis verdict schema. Any model failure degrades
// to an invalid cycle with the fallback reason so the workflow always makes
// forward progress.
func (a *Activities) extractVerdicts(ctx context.Context, logger *zap.Logger, in VerifyHypothesesInput, vars map[string]string, analysis string) VerifyHypothesesResult {
	degraded := VerifyHypothesesResult{IsValid: false, Reason: interview.FallbackReason}
	if analysis == "" {
		return degraded
	}

	prompt, err := a.prompts.Render(prompts.ExtractVerdicts, map[string]string{
		"analysis":   analysis,
		"hypotheses": vars["hypotheses"],
		"questions":  vars["questions"],
		"answers":    vars["answers"],
		"history":    vars["history"],
	})
	if err != nil {
		logger.Error("Render verdict extraction prompt failed", zap.Error(err))
		return degraded
	}

	resp, err := a.llm.Chat(ctx, "extract_verdicts", &llm.Request{
		Model:    in.Model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		ResponseFormat: &llm.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &llm.JSONSchemaFormat{Name: "verification_result", Schema: verdictsSchema(), Strict: true},
		},
	})
	if err != nil {
		logger.Warn("Verdict extraction failed, degrading to invalid cycle", zap.Error(err))
		return degraded
	}
	degraded.TokensUsed = resp.Usage.TotalTokens

	var out struct {
		HypothesesFeedback []interview.Verdict `json:"hypotheses_feedback"`
		SolutionDraft      string              `json:"solution_draft"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text())), &out); err != nil {
		logger.Warn("Verdict output unparseable, degrading to invalid cycle", zap.Error(err))
		return degraded
	}

	verdicts := interview.NormalizeVerdicts(out.HypothesesFeedback)
	agg := interview.AggregateVerdicts(verdicts)
	return VerifyHypothesesResult{
		Verdicts:       verdicts,
		IsValid:        agg.IsValid,
		BestHypothesis: agg.BestHypothesis,
		SolutionDraft:  out.SolutionDraft,
		Reason:         agg.Reason,
		TokensUsed:     resp.Usage.TotalTokens,
	}
}
