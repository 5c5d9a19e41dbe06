package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/interview"
	"github.com/designdrill/orchestrator/internal/llm"
	"github.com/designdrill/orchestrator/internal/prompts"
)

// GenerateSolutionInput is the input for solution generation.
type GenerateSolutionInput struct {
	InterviewID string                  `json:"interview_id"`
	Hypothesis  string                  `json:"hypothesis"`
	Draft       string                  `json:"draft,omitempty"`
	Questions   []string                `json:"questions"`
	Answers     []string                `json:"answers"`
	History     []interview.CycleRecord `json:"history,omitempty"`
	Model       string                  `json:"model,omitempty"`
}

// SolutionResult carries the generated solution text.
type SolutionResult struct {
	Solution   string `json:"solution"`
	TokensUsed int    `json:"tokens_used"`
}

// GenerateSolution expands the validated best hypothesis into a full design
// solution. A model failure yields an empty solution, not an error; the
// workflow still completes and the report records what was produced.
func (a *Activities) GenerateSolution(ctx context.Context, in GenerateSolutionInput) (SolutionResult, error) {
	logger := a.logger.With(
		zap.String("activity", "GenerateSolution"),
		zap.String("interview_id", in.InterviewID),
	)
	logger.Info("Generating solution", zap.String("hypothesis", in.Hypothesis))

	prompt, err := a.prompts.Render(prompts.GenerateSolution, map[string]string{
		"history":    interview.HistoryText(in.History),
		"hypothesis": in.Hypothesis,
		"questions":  formatList(in.Questions),
		"answers":    formatList(in.Answers),
		"draft":      in.Draft,
	})
	if err != nil {
		return SolutionResult{}, fmt.Errorf("render solution prompt: %w", err)
	}

	resp, err := a.llm.Chat(ctx, "generate_solution", &llm.Request{
		Model:    in.Model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		logger.Warn("Solution generation failed", zap.Error(err))
		return SolutionResult{}, nil
	}

	logger.Info("Solution generated", zap.Int("tokens", resp.Usage.TotalTokens))
	return SolutionResult{
		Solution:   resp.Text(),
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// CriticReviewInput is the input for the critique pass over a solution.
type CriticReviewInput struct {
	InterviewID string                  `json:"interview_id"`
	Hypothesis  string                  `json:"hypothesis"`
	Questions   []string                `json:"questions"`
	Answers     []string                `json:"answers"`
	Solution    string                  `json:"solution"`
	History     []interview.CycleRecord `json:"history,omitempty"`
	Model       string                  `json:"model,omitempty"`
}

// CriticResult carries the critiqued solution.
type CriticResult struct {
	FinalSolution string `json:"final_solution"`
	TokensUsed    int    `json:"tokens_used"`
}

// CriticReview refines a solution with a critique pass. The critique is
// best-effort polish: any failure returns the input solution unchanged so a
// flaky critic can never lose a finished solution.
func (a *Activities) CriticReview(ctx context.Context, in CriticReviewInput) (CriticResult, error) {
	logger := a.logger.With(
		zap.String("activity", "CriticReview"),
		zap.String("interview_id", in.InterviewID),
	)
	logger.Info("Reviewing solution", zap.Int("solution_chars", len(in.Solution)))

	unchanged := CriticResult{FinalSolution: in.Solution}

	prompt, err := a.prompts.Render(prompts.CriticReview, map[string]string{
		"history":    interview.HistoryText(in.History),
		"hypothesis": in.Hypothesis,
		"questions":  formatList(in.Questions),
		"answers":    formatList(in.Answers),
		"solution":   in.Solution,
	})
	if err != nil {
		logger.Error("Render critique prompt failed, keeping solution as is", zap.Error(err))
		return unchanged, nil
	}

	resp, err := a.llm.Chat(ctx, "critic_review", &llm.Request{
		Model:    in.Model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		logger.Warn("Critique failed, keeping solution as is", zap.Error(err))
		return unchanged, nil
	}

	final := resp.Text()
	if final == "" {
		logger.Warn("Critic returned empty output, keeping solution as is")
		return CriticResult{FinalSolution: in.Solution, TokensUsed: resp.Usage.TotalTokens}, nil
	}

	logger.Info("Critique completed", zap.Int("tokens", resp.Usage.TotalTokens))
	return CriticResult{
		FinalSolution: final,
		TokensUsed:    resp.Usage.TotalTokens,
	}, nil
}
