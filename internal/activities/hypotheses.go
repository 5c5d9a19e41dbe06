package activities

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/interview"
	"github.com/designdrill/orchestrator/internal/llm"
	"github.com/designdrill/orchestrator/internal/prompts"
	"github.com/designdrill/orchestrator/internal/util"
)

// GenerateHypothesesInput is the input for hypothesis generation.
type GenerateHypothesesInput struct {
	InterviewID     string                  `json:"interview_id"`
	Query           string                  `json:"query"`
	CurrentQuestion string                  `json:"current_question,omitempty"`
	History         []interview.CycleRecord `json:"history,omitempty"`
	Model           string                  `json:"model,omitempty"`
}

// GenerateHypothesesResult carries the generated hypotheses and the
// verification questions to put to the interviewer.
type GenerateHypothesesResult struct {
	Hypotheses            []string `json:"hypotheses"`
	VerificationQuestions []string `json:"verification_questions"`
	TokensUsed            int      `json:"tokens_used"`
}

func hypothesesSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Property{
			"hypotheses": {
				Type:        "array",
				Description: "Distinct hypotheses about potential bottlenecks or risks",
				Items:       &llm.Property{Type: "string"},
			},
			"verification_questions": {
				Type:        "array",
				Description: "Specific verification questions to ask the interviewer",
				Items:       &llm.Property{Type: "string"},
			},
		},
		Required: []string{"hypotheses", "verification_questions"},
	}
}

// GenerateHypotheses asks the candidate model for the top bottleneck
// hypotheses and the questions needed to verify them. Malformed model
// output degrades to empty lists; the workflow decides what an empty
// cycle means.
func (a *Activities) GenerateHypotheses(ctx context.Context, in GenerateHypothesesInput) (GenerateHypothesesResult, error) {
	logger := a.logger.With(
		zap.String("activity", "GenerateHypotheses"),
		zap.String("interview_id", in.InterviewID),
	)

	question := in.CurrentQuestion
	if question == "" {
		question = in.Query
	}
	logger.Info("Generating hypotheses",
		zap.String("question", util.TruncateString(question, 200, false)),
		zap.Int("history_len", len(in.History)),
	)

	prompt, err := a.prompts.Render(prompts.GenerateHypotheses, map[string]string{
		"initial_request": in.Query,
		"question":        question,
		"history":         interview.HistoryText(in.History),
	})
	if err != nil {
		return GenerateHypothesesResult{}, fmt.Errorf("render hypotheses prompt: %w", err)
	}

	resp, err := a.llm.Chat(ctx, "generate_hypotheses", &llm.Request{
		Model:    in.Model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		ResponseFormat: &llm.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &llm.JSONSchemaFormat{Name: "hypotheses_list", Schema: hypothesesSchema(), Strict: true},
		},
	})
	if err != nil {
		logger.Warn("Hypothesis generation failed, returning empty lists", zap.Error(err))
		return GenerateHypothesesResult{}, nil
	}

	var out struct {
		Hypotheses            []string `json:"hypotheses"`
		VerificationQuestions []string `json:"verification_questions"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text())), &out); err != nil {
		logger.Warn("Hypothesis output unparseable, returning empty lists", zap.Error(err))
		return GenerateHypothesesResult{TokensUsed: resp.Usage.TotalTokens}, nil
	}

	logger.Info("Generated hypotheses",
		zap.Int("hypotheses", len(out.Hypotheses)),
		zap.Int("verification_questions", len(out.VerificationQuestions)),
	)
	return GenerateHypothesesResult{
		Hypotheses:            out.Hypotheses,
		VerificationQuestions: out.VerificationQuestions,
		TokensUsed:            resp.Usage.TotalTokens,
	}, nil
}
