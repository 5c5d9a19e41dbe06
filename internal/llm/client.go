// Package llm is a thin client for OpenAI-compatible chat completion
// endpoints, tuned for a local Ollama server. It layers rate limiting, a
// circuit breaker, and transient-status retries around plain HTTP so the
// reasoning activities can treat model calls as simple function calls.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/designdrill/orchestrator/internal/circuitbreaker"
	ometrics "github.com/designdrill/orchestrator/internal/metrics"
	"github.com/designdrill/orchestrator/internal/retry"
	"github.com/designdrill/orchestrator/internal/tracing"
)

var (
	DefaultEndpoint  = "http://localhost:11434/v1/chat/completions"
	DefaultModel     = "gemma3:27b"
	DefaultMaxTokens = 4096
)

// Client calls one model endpoint. Construct with New; the zero value is not
// usable.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	transport  *circuitbreaker.HTTPWrapper
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint points the client at a different chat completions URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithAPIKey sets the bearer token. Local Ollama ignores it but the
// OpenAI-compatible API requires one to be present.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithModel sets the default model for requests that don't name one.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithMaxTokens caps completion length for requests that don't set it.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithRateLimit bounds outgoing requests per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithLogger attaches a logger; defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client with Ollama-friendly defaults.
func New(opts ...Option) *Client {
	c := &Client{
		endpoint:  DefaultEndpoint,
		apiKey:    apiKeyFromEnv(),
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Limit(2), 4)
	}
	c.transport = circuitbreaker.NewHTTPWrapper(c.httpClient, "ollama", "llm-client", circuitbreaker.LLMConfig(), c.logger)
	return c
}

func apiKeyFromEnv() string {
	if key := os.Getenv("OLLAMA_API_KEY"); key != "" {
		return key
	}
	return "ollama"
}

// Model returns the client's default model name.
func (c *Client) Model() string {
	return c.model
}

// Chat sends a chat completions request. The node label tags the request in
// logs and metrics with the reasoning step it serves.
func (c *Client) Chat(ctx context.Context, node string, req *Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == nil && c.maxTokens > 0 {
		mt := c.maxTokens
		req.MaxTokens = &mt
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, span := tracing.StartLLMSpan(ctx, node, req.Model)
	defer span.End()

	start := time.Now()
	var result Response
	err = retry.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Content-Type", "application/json")
		tracing.InjectTraceparent(ctx, httpReq)

		resp, err := c.transport.Do(httpReq)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			if resp.StatusCode == http.StatusTooManyRequests {
				c.logger.Warn("Model endpoint rate limit exceeded",
					zap.String("node", node),
					zap.Int("status", resp.StatusCode),
				)
			}
			return &StatusError{Status: resp.StatusCode, Body: string(respBody)}
		}

		result = Response{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		ometrics.RecordLLMRequest(node, "error", elapsed.Seconds(), 0)
		return nil, err
	}
	if len(result.Choices) == 0 {
		ometrics.RecordLLMRequest(node, "error", elapsed.Seconds(), result.Usage.TotalTokens)
		return nil, fmt.Errorf("empty response from model %s", req.Model)
	}

	ometrics.RecordLLMRequest(node, "ok", elapsed.Seconds(), result.Usage.TotalTokens)
	c.logger.Debug("Chat completion finished",
		zap.String("node", node),
		zap.String("model", req.Model),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("duration", elapsed),
	)
	return &result, nil
}

// Complete sends a single user prompt and returns the assistant text.
func (c *Client) Complete(ctx context.Context, node, prompt string) (string, error) {
	resp, err := c.Chat(ctx, node, &Request{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// CompleteJSON sends a single user prompt with constrained decoding against
// schema and unmarshals the response into out.
func (c *Client) CompleteJSON(ctx context.Context, node, prompt, schemaName string, schema *Schema, out interface{}) error {
	resp, err := c.Chat(ctx, node, &Request{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchemaFormat{Name: schemaName, Schema: schema, Strict: true},
		},
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ExtractJSON(resp.Text())), out); err != nil {
		return fmt.Errorf("parse structured response for %s: %w", schemaName, err)
	}
	return nil
}

// ExtractJSON strips the markdown code fences local models sometimes wrap
// around structured output despite constrained decoding.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	return strings.TrimSpace(text)
}
