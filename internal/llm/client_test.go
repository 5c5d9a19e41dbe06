package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func completionResponse(content string) Response {
	return Response{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   "gemma3:27b",
		Choices: []Choice{
			{
				Index:        0,
				Message:      Message{Role: RoleAssistant, Content: content},
				FinishReason: "stop",
			},
		},
		Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func TestChatSendsOpenAIPayload(t *testing.T) {
	var captured Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(completionResponse("hello there"))
	}))
	defer server.Close()

	client := New(
		WithEndpoint(server.URL),
		WithAPIKey("test-key"),
		WithModel("gemma3:27b"),
		WithMaxTokens(512),
	)

	resp, err := client.Chat(context.Background(), "generate_hypotheses", &Request{
		Messages: []Message{{Role: RoleUser, Content: "design a url shortener"}},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Text())
	require.Equal(t, 15, resp.Usage.TotalTokens)

	require.Equal(t, "gemma3:27b", captured.Model)
	require.NotNil(t, captured.MaxTokens)
	require.Equal(t, 512, *captured.MaxTokens)
	require.Len(t, captured.Messages, 1)
	require.Equal(t, RoleUser, captured.Messages[0].Role)
}

func TestChatRetriesTransientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(completionResponse("recovered"))
	}))
	defer server.Close()

	client := New(WithEndpoint(server.URL))
	resp, err := client.Chat(context.Background(), "verify_analysis", &Request{
		Messages: []Message{{Role: RoleUser, Content: "check throughput"}},
	})
	require.NoError(t, err)
	require.Equal(t, "recovered", resp.Text())
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestChatFailsFastOnBadRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid request"}`))
	}))
	defer server.Close()

	client := New(WithEndpoint(server.URL))
	_, err := client.Chat(context.Background(), "generate_solution", &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadRequest, statusErr.Status)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	client := New(WithEndpoint("http://127.0.0.1:1"))
	_, err := client.Chat(context.Background(), "critic_review", &Request{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no messages")
}

func TestChatErrorsOnEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{ID: "chatcmpl-empty"})
	}))
	defer server.Close()

	client := New(WithEndpoint(server.URL))
	_, err := client.Chat(context.Background(), "extract_verdicts", &Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty response")
}

func TestCompleteJSON(t *testing.T) {
	var captured Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(completionResponse("```json\n{\"verdict\":\"VALID\",\"confidence\":0.9}\n```"))
	}))
	defer server.Close()

	client := New(WithEndpoint(server.URL))
	var out struct {
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
	}
	schema := &Schema{
		Type: "object",
		Properties: map[string]*Property{
			"verdict":    {Type: "string"},
			"confidence": {Type: "number"},
		},
		Required: []string{"verdict", "confidence"},
	}
	err := client.CompleteJSON(context.Background(), "extract_verdicts", "verdict please", "verdict", schema, &out)
	require.NoError(t, err)
	require.Equal(t, "VALID", out.Verdict)
	require.InDelta(t, 0.9, out.Confidence, 0.001)

	require.NotNil(t, captured.ResponseFormat)
	require.Equal(t, "json_schema", captured.ResponseFormat.Type)
	require.Equal(t, "verdict", captured.ResponseFormat.JSONSchema.Name)
	require.True(t, captured.ResponseFormat.JSONSchema.Strict)
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced json", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  {\"a\":1}\n", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ExtractJSON(tc.in))
		})
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv("OLLAMA_API_KEY", "secret-token")
	client := New()
	require.Equal(t, "secret-token", client.apiKey)

	t.Setenv("OLLAMA_API_KEY", "")
	client = New()
	require.Equal(t, "ollama", client.apiKey)
}
