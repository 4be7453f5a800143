// Package llm wraps chat-completion providers behind a single Complete call.
//
// Every failure is returned as *Error so callers at the planner boundary can
// convert it to a fallback without inspecting provider details.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotConfigured is returned by NoopClient.
var ErrNotConfigured = errors.New("llm: no provider configured")

// Error wraps any failure from an LLM call.
type Error struct {
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Completion is the result of a chat completion.
type Completion struct {
	Content     string
	TokensIn    int
	TokensOut   int
	TokensTotal int
	Model       string
	Duration    time.Duration
}

// Client completes a prompt with supporting context.
type Client interface {
	Complete(ctx context.Context, prompt, contextText string) (Completion, error)
}

// perCallTimeout bounds a single completion call.
const perCallTimeout = 30 * time.Second

// NoopClient fails every call with ErrNotConfigured.
type NoopClient struct{}

// Complete always fails.
func (NoopClient) Complete(context.Context, string, string) (Completion, error) {
	return Completion{}, &Error{Provider: "noop", Op: "complete", Err: ErrNotConfigured}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func messages(prompt, ctxText string) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: prompt}}
	if ctxText != "" {
		msgs = append(msgs, chatMessage{Role: "user", Content: ctxText})
	}
	return msgs
}

// OpenAIClient calls the OpenAI chat completions API in JSON mode.
type OpenAIClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI client. An empty model uses gpt-4o-mini.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		model:      model,
		endpoint:   "https://api.openai.com/v1/chat/completions",
		httpClient: &http.Client{Timeout: perCallTimeout + 5*time.Second},
	}
}

// WithEndpoint overrides the API endpoint (OpenAI-compatible gateways, tests).
func (c *OpenAIClient) WithEndpoint(endpoint string) *OpenAIClient {
	c.endpoint = endpoint
	return c
}

type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Temperature    float64           `json:"temperature"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends prompt as the system message and context as the user message.
func (c *OpenAIClient) Complete(ctx context.Context, prompt, ctxText string) (Completion, error) {
	fail := func(op string, err error) (Completion, error) {
		return Completion{}, &Error{Provider: "openai", Op: op, Err: err}
	}
	if c.apiKey == "" {
		return fail("complete", ErrNotConfigured)
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIRequest{
		Model:          c.model,
		Messages:       messages(prompt, ctxText),
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return fail("marshal", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fail("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail("request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fail("status", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fail("decode", err)
	}
	if len(result.Choices) == 0 {
		return fail("decode", errors.New("no choices in response"))
	}

	model := result.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Content:     result.Choices[0].Message.Content,
		TokensIn:    result.Usage.PromptTokens,
		TokensOut:   result.Usage.CompletionTokens,
		TokensTotal: result.Usage.TotalTokens,
		Model:       model,
		Duration:    time.Since(start),
	}, nil
}

// OllamaClient calls a local Ollama chat model.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates an Ollama client. The model should be a text
// generation model (e.g. qwen2.5:7b).
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: perCallTimeout + 5*time.Second},
	}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Complete sends one non-streaming chat request.
func (c *OllamaClient) Complete(ctx context.Context, prompt, ctxText string) (Completion, error) {
	fail := func(op string, err error) (Completion, error) {
		return Completion{}, &Error{Provider: "ollama", Op: op, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: messages(prompt, ctxText),
		Format:   "json",
	})
	if err != nil {
		return fail("marshal", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fail("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail("request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fail("status", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fail("decode", err)
	}

	model := result.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Content:     result.Message.Content,
		TokensIn:    result.PromptEvalCount,
		TokensOut:   result.EvalCount,
		TokensTotal: result.PromptEvalCount + result.EvalCount,
		Model:       model,
		Duration:    time.Since(start),
	}, nil
}
