package evaluation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/designdrill/orchestrator/internal/llm"
)

func modelReply(content string) llm.Response {
	return llm.Response{
		ID:      "chatcmpl-eval",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   "gpt-oss:20b",
		Choices: []llm.Choice{
			{
				Index:        0,
				Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
				FinishReason: "stop",
			},
		},
		Usage: llm.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30},
	}
}

func newTestInterviewer(t *testing.T, url string) *Interviewer {
	t.Helper()
	client := llm.New(llm.WithEndpoint(url), llm.WithModel("gpt-oss:20b"))
	return NewInterviewer(client, zaptest.NewLogger(t))
}

func TestAnswerQuestionsDrawsOnContext(t *testing.T) {
	var captured llm.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(modelReply(
			`{"answers":["Fifty million daily actives.","Reads outnumber writes fifty to one."]}`))
	}))
	defer server.Close()

	iv := newTestInterviewer(t, server.URL)
	answers, err := iv.AnswerQuestions(context.Background(),
		[]string{"How many daily active users?", "What is the read/write ratio?"},
		"Photo sharing app, 50M DAU, read heavy.")
	require.NoError(t, err)
	require.Equal(t, []string{
		"Fifty million daily actives.",
		"Reads outnumber writes fifty to one.",
	}, answers)

	prompt := captured.Messages[len(captured.Messages)-1].Content
	require.Contains(t, prompt, "Photo sharing app, 50M DAU, read heavy.")
	require.Contains(t, prompt, "1. How many daily active users?")
	require.Contains(t, prompt, "2. What is the read/write ratio?")
	require.Contains(t, prompt, "do not do the candidate's job")
	require.NotNil(t, captured.ResponseFormat)
	require.Equal(t, "interviewer_answers", captured.ResponseFormat.JSONSchema.Name)
}

func TestAnswerQuestionsRealignsCounts(t *testing.T) {
	cases := []struct {
		name      string
		reply     string
		questions []string
		want      []string
	}{
		{
			name:      "pads short replies",
			reply:     `{"answers":["Only one answer."]}`,
			questions: []string{"q1", "q2", "q3"},
			want:      []string{"Only one answer.", fillerAnswer, fillerAnswer},
		},
		{
			name:      "drops extra replies",
			reply:     `{"answers":["first","second","third"]}`,
			questions: []string{"q1"},
			want:      []string{"first"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(modelReply(tc.reply))
			}))
			defer server.Close()

			iv := newTestInterviewer(t, server.URL)
			answers, err := iv.AnswerQuestions(context.Background(), tc.questions, "ctx")
			require.NoError(t, err)
			require.Equal(t, tc.want, answers)
		})
	}
}

func TestAnswerQuestionsSkipsEmptyList(t *testing.T) {
	iv := newTestInterviewer(t, "http://127.0.0.1:1")
	answers, err := iv.AnswerQuestions(context.Background(), nil, "ctx")
	require.NoError(t, err)
	require.Nil(t, answers)
}

func TestGenerateChallengeTrimsReply(t *testing.T) {
	var captured llm.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(modelReply("  What if traffic grows a hundredfold overnight?\n"))
	}))
	defer server.Close()

	iv := newTestInterviewer(t, server.URL)
	challenge, err := iv.GenerateChallenge(context.Background(), "Second phase: 1B users worldwide.")
	require.NoError(t, err)
	require.Equal(t, "What if traffic grows a hundredfold overnight?", challenge)

	prompt := captured.Messages[len(captured.Messages)-1].Content
	require.Contains(t, prompt, "Second phase: 1B users worldwide.")
	require.Contains(t, prompt, `"What if" challenge`)
	require.Nil(t, captured.ResponseFormat)
}

func TestGenerateChallengeRejectsEmptyReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(modelReply("  \n"))
	}))
	defer server.Close()

	iv := newTestInterviewer(t, server.URL)
	_, err := iv.GenerateChallenge(context.Background(), "ctx")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

func TestScoreReportStructuredVerdict(t *testing.T) {
	var captured llm.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(modelReply(
			`{"reasoning":"Concrete metrics and a clean phase-two pivot.","score":4}`))
	}))
	defer server.Close()

	iv := newTestInterviewer(t, server.URL)
	score, err := iv.ScoreReport(context.Background(), "# Final Report\nShard by user id.", "Sharding with cache.")
	require.NoError(t, err)
	require.Equal(t, 4, score.Score)
	require.Equal(t, "Concrete metrics and a clean phase-two pivot.", score.Reasoning)

	prompt := captured.Messages[len(captured.Messages)-1].Content
	require.Contains(t, prompt, "# Final Report\nShard by user id.")
	require.Contains(t, prompt, "Sharding with cache.")
	require.Contains(t, prompt, "Ideal outcome clues")
	require.Equal(t, "report_score", captured.ResponseFormat.JSONSchema.Name)
}

func TestScoreReportClampsRange(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		want  int
	}{
		{"above", `{"reasoning":"r","score":9}`, 5},
		{"below", `{"reasoning":"r","score":-2}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(modelReply(tc.reply))
			}))
			defer server.Close()

			iv := newTestInterviewer(t, server.URL)
			score, err := iv.ScoreReport(context.Background(), "report", "ideal")
			require.NoError(t, err)
			require.Equal(t, tc.want, score.Score)
		})
	}
}

func TestScoreReportFallsBackToNumericScan(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req llm.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ResponseFormat != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"schema not supported"}`))
			return
		}
		json.NewEncoder(w).Encode(modelReply("Covers the basics, light on depth. The score is 3."))
	}))
	defer server.Close()

	iv := newTestInterviewer(t, server.URL)
	score, err := iv.ScoreReport(context.Background(), "report", "ideal")
	require.NoError(t, err)
	require.Equal(t, 3, score.Score)
	require.Equal(t, "Covers the basics, light on depth. The score is 3.", score.Reasoning)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestScoreReportErrorsWithoutNumber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ResponseFormat != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(modelReply("No verdict from me."))
	}))
	defer server.Close()

	iv := newTestInterviewer(t, server.URL)
	_, err := iv.ScoreReport(context.Background(), "report", "ideal")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no numeric score")
}
