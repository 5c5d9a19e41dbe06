package evaluation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/designdrill/orchestrator/internal/llm"
	"github.com/designdrill/orchestrator/internal/util"
)

const answerPrompt = `You are a system design interviewer.

Context about the system we are designing:
%s

The candidate has asked the following verification questions:
%s

Answer these questions based strictly on the context. If the context does
not specify something, invent a reasonable answer that fits the scale.
Keep each answer as concise as possible and do not do the candidate's job
by calculating metrics for them.
Return exactly one answer per question, in the same order as the questions.`

const challengePrompt = `You are a system design interviewer.

We are moving to the second phase of the interview.
New context and requirements:
%s

Formulate a short "What if" challenge statement to provoke the candidate
into adapting their design.
Example: "Now imagine we need to scale to 1B users. How does this change
your design?"
Reply with the challenge statement only.`

const judgePrompt = `You are a system design interview evaluator.

Final report from the candidate:
%s

Ideal outcome clues:
%s

Evaluate the report.
1. Does it cover the key constraints?
2. Did it adapt to the second phase?
3. Are the solutions scientifically sound (metrics backed)?

Output a JSON object with:
- "reasoning": string with a detailed explanation of the score
- "score": integer 0-5:
  0 - candidate failed to cover the key constraints, they don't understand basic system design principles
  1 - candidate managed to understand the task but failed to provide any viable hypotheses
  2 - candidate managed to provide more or less viable hypotheses but their design was very weak and not to the point
  3 - candidate managed to provide good hypotheses and their design was on the right track but lacked depth and metrics
  4 - candidate managed to provide good hypotheses and their design was mostly correct backed by good reasoning but lacked depth
  5 - very good hypotheses and the design was correct, backed by good reasoning and with enough depth`

// fillerAnswer pads answer lists when the model returns fewer answers than
// questions so positional alignment holds.
const fillerAnswer = "Not specified in the requirements; assume a reasonable default for this scale."

// Score is the judge's verdict on one report.
type Score struct {
	Score     int    `json:"score"`
	Reasoning string `json:"reasoning"`
}

// Interviewer plays the human side of an interview with a model: it answers
// verification questions from task context, issues the phase-two challenge,
// and judges the final report.
type Interviewer struct {
	client *llm.Client
	logger *zap.Logger
}

// NewInterviewer wraps an LLM client. The client's default model is the
// interviewer/judge model, independent of the candidate model under test.
func NewInterviewer(client *llm.Client, logger *zap.Logger) *Interviewer {
	return &Interviewer{client: client, logger: logger}
}

// AnswerQuestions produces one answer per verification question, drawn from
// the task context. The returned slice is always aligned with questions.
func (iv *Interviewer) AnswerQuestions(ctx context.Context, questions []string, taskContext string) ([]string, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	numbered := make([]string, len(questions))
	for i, q := range questions {
		numbered[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	prompt := fmt.Sprintf(answerPrompt, taskContext, strings.Join(numbered, "\n"))

	var out struct {
		Answers []string `json:"answers"`
	}
	schema := &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Property{
			"answers": {
				Type:        "array",
				Description: "One concise answer per question, in question order",
				Items:       &llm.Property{Type: "string"},
			},
		},
		Required: []string{"answers"},
	}
	if err := iv.client.CompleteJSON(ctx, "eval_answers", prompt, "interviewer_answers", schema, &out); err != nil {
		return nil, fmt.Errorf("answer verification questions: %w", err)
	}

	answers := out.Answers
	if len(answers) > len(questions) {
		answers = answers[:len(questions)]
	}
	for len(answers) < len(questions) {
		answers = append(answers, fillerAnswer)
	}
	return answers, nil
}

// GenerateChallenge builds the phase-two "what if" continuation from the
// second context block.
func (iv *Interviewer) GenerateChallenge(ctx context.Context, taskContext string) (string, error) {
	text, err := iv.client.Complete(ctx, "eval_challenge", fmt.Sprintf(challengePrompt, taskContext))
	if err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("generate challenge: model returned empty text")
	}
	return text, nil
}

// ScoreReport judges the final report against the ideal outcome on the fixed
// 0-5 rubric. When structured decoding fails it falls back to scanning the
// raw completion for a number; either way the score lands in [0, 5].
func (iv *Interviewer) ScoreReport(ctx context.Context, report, idealOutcome string) (Score, error) {
	prompt := fmt.Sprintf(judgePrompt, report, idealOutcome)

	var score Score
	schema := &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Property{
			"score":     {Type: "integer", Description: "Score from 0 to 5"},
			"reasoning": {Type: "string", Description: "Explanation for the score"},
		},
		Required: []string{"score", "reasoning"},
	}
	err := iv.client.CompleteJSON(ctx, "eval_judge", prompt, "report_score", schema, &score)
	if err != nil {
		iv.logger.Warn("Structured judge call failed, retrying unconstrained", zap.Error(err))
		text, cerr := iv.client.Complete(ctx, "eval_judge", prompt)
		if cerr != nil {
			return Score{}, fmt.Errorf("score report: %w", cerr)
		}
		val, ok := util.ParseNumericValue(text)
		if !ok {
			return Score{}, fmt.Errorf("score report: no numeric score in judge output")
		}
		score = Score{Score: int(val), Reasoning: strings.TrimSpace(text)}
	}

	score.Score = clampScore(score.Score)
	return score, nil
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 5 {
		return 5
	}
	return n
}
