package activities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/designdrill/orchestrator/internal/interview"
)

func TestGenerateSolutionExpandsBestHypothesis(t *testing.T) {
	f := newFakeModel(t, textResponse("Use consistent hashing with virtual nodes to spread hot keys.", 33))
	a := newTestActivities(t, f)

	result, err := a.GenerateSolution(context.Background(), GenerateSolutionInput{
		InterviewID: "interview-sol",
		Hypothesis:  "Hot keys overload one cache shard",
		Draft:       "Shard the cache by key hash",
		Questions:   []string{"What is the skew?"},
		Answers:     []string{"Top 1% of keys take 60% of reads"},
		History: []interview.CycleRecord{{
			Hypothesis: "Single primary is the write bottleneck",
			IsValid:    false,
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "Use consistent hashing with virtual nodes to spread hot keys.", result.Solution)
	require.Equal(t, 33, result.TokensUsed)

	prompt := f.request(0).Messages[0].Content
	require.Contains(t, prompt, "Hot keys overload one cache shard")
	require.Contains(t, prompt, "Shard the cache by key hash")
	require.Contains(t, prompt, "Top 1% of keys take 60% of reads")
	require.Contains(t, prompt, "Single primary is the write bottleneck")
}

func TestGenerateSolutionDegradesOnModelError(t *testing.T) {
	f := newFakeModel(t)
	a := newTestActivities(t, f)

	result, err := a.GenerateSolution(context.Background(), GenerateSolutionInput{
		InterviewID: "interview-sol",
		Hypothesis:  "h",
	})
	require.NoError(t, err)
	require.Empty(t, result.Solution)
	require.Zero(t, result.TokensUsed)
}

func TestCriticReviewRefinesSolution(t *testing.T) {
	f := newFakeModel(t, textResponse("Refined: add replica fallback for shard loss.", 21))
	a := newTestActivities(t, f)

	result, err := a.CriticReview(context.Background(), CriticReviewInput{
		InterviewID: "interview-sol",
		Hypothesis:  "Hot keys overload one cache shard",
		Questions:   []string{"What is the skew?"},
		Answers:     []string{"Top 1% of keys take 60% of reads"},
		Solution:    "Use consistent hashing with virtual nodes.",
	})
	require.NoError(t, err)
	require.Equal(t, "Refined: add replica fallback for shard loss.", result.FinalSolution)
	require.Equal(t, 21, result.TokensUsed)
	require.Contains(t, f.request(0).Messages[0].Content, "Use consistent hashing with virtual nodes.")
}

func TestCriticReviewKeepsSolutionOnModelError(t *testing.T) {
	f := newFakeModel(t)
	a := newTestActivities(t, f)

	result, err := a.CriticReview(context.Background(), CriticReviewInput{
		InterviewID: "interview-sol",
		Solution:    "The original solution",
	})
	require.NoError(t, err)
	require.Equal(t, "The original solution", result.FinalSolution)
}

func TestCriticReviewKeepsSolutionOnEmptyCritique(t *testing.T) {
	f := newFakeModel(t, textResponse("", 13))
	a := newTestActivities(t, f)

	result, err := a.CriticReview(context.Background(), CriticReviewInput{
		InterviewID: "interview-sol",
		Solution:    "The original solution",
	})
	require.NoError(t, err)
	require.Equal(t, "The original solution", result.FinalSolution)
	require.Equal(t, 13, result.TokensUsed)
}
