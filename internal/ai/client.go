// Package ai wraps the Anthropic API for the pipeline: conversation
// history with tool use, retry with a circuit breaker, and client-side
// rate limiting.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/justmebob123/autonomy-sub000/internal/tools"
)

// Default models. Override with AUTONOMY_MODEL / AUTONOMY_MODEL_FAST.
const (
	ModelSonnet = "claude-sonnet-4-5-20250929"
	ModelHaiku  = "claude-3-5-haiku-20241022"
)

// maxConcurrentRequests bounds in-flight API calls.
const maxConcurrentRequests = 2

// ChatResult is one model turn: text plus any tool calls.
type ChatResult struct {
	Text       string
	ToolCalls  []tools.Call
	StopReason string
}

// Client is the pipeline's Anthropic client. A Client maintains one
// conversation; ResetHistory starts a fresh one for the next task.
type Client struct {
	api     *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	history []anthropic.MessageParam
}

// Config for NewClient. Zero values get production defaults.
type Config struct {
	Model             string
	Retry             RetryConfig
	RequestsPerMinute int
}

// NewClient builds a client. Requires ANTHROPIC_API_KEY.
func NewClient(cfg Config) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	model := cfg.Model
	if model == "" {
		model = ModelSonnet
	}
	if env := os.Getenv("AUTONOMY_MODEL"); env != "" {
		model = env
	}
	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	api := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		api:     &api,
		model:   model,
		retry:   retry,
		breaker: NewCircuitBreaker(5, 2*time.Minute),
		sem:     semaphore.NewWeighted(maxConcurrentRequests),
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
	}, nil
}

// Model returns the model in use.
func (c *Client) Model() string {
	return c.model
}

// ResetHistory discards the conversation, for the next task.
func (c *Client) ResetHistory() {
	c.history = nil
}

// HistoryLen returns the number of messages in the conversation.
func (c *Client) HistoryLen() int {
	return len(c.history)
}

// ChatWithHistory appends the user message, calls the model with the
// given tool set, and returns the turn. Tool calls in the result must
// be answered with PushToolResults before the next ChatWithHistory.
func (c *Client) ChatWithHistory(ctx context.Context, userMessage string, specs []tools.Spec) (*ChatResult, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire request slot: %w", err)
	}
	defer c.sem.Release(1)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	c.history = append(c.history, anthropic.NewUserMessage(
		anthropic.NewTextBlock(userMessage),
	))

	var response *anthropic.Message
	err := retryWithBackoff(ctx, c.retry, c.breaker, "chat", func(attemptCtx context.Context) error {
		resp, apiErr := c.api.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: 8192,
			Messages:  c.history,
			Tools:     toolParams(specs),
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		// Drop the unanswered user message so a retry at the phase
		// level does not double it.
		c.history = c.history[:len(c.history)-1]
		return nil, err
	}

	c.history = append(c.history, response.ToParam())

	result := &ChatResult{StopReason: string(response.StopReason)}
	for _, block := range response.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Text += variant.Text
		case anthropic.ToolUseBlock:
			args, err := parseToolInput(variant.Input)
			if err != nil {
				args = map[string]interface{}{}
			}
			result.ToolCalls = append(result.ToolCalls, tools.Call{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			})
		}
	}
	return result, nil
}

// PushToolResults answers the pending tool calls so the conversation
// stays well-formed for the next turn.
func (c *Client) PushToolResults(results []tools.Result) {
	if len(results) == 0 {
		return
	}
	var blocks []anthropic.ContentBlockParamUnion
	for _, r := range results {
		content := r.Output
		isError := !r.Success
		if isError {
			content = "Error: " + r.Err
		}
		blocks = append(blocks, anthropic.NewToolResultBlock(r.ID, content, isError))
	}
	c.history = append(c.history, anthropic.NewUserMessage(blocks...))
}

// toolParams converts registry specs to SDK tool definitions.
func toolParams(specs []tools.Spec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(specs))
	for i := range specs {
		spec := specs[i]
		tool := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: spec.InputSchema,
				Required:   spec.Required,
			},
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &tool}
	}
	return out
}

// parseToolInput normalizes the SDK's tool input, which may arrive
// already decoded or as raw JSON.
func parseToolInput(input interface{}) (map[string]interface{}, error) {
	switch v := input.(type) {
	case map[string]interface{}:
		return v, nil
	case []byte:
		var m map[string]interface{}
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool input: %w", err)
		}
		return m, nil
	case json.RawMessage:
		var m map[string]interface{}
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool input: %w", err)
		}
		return m, nil
	case nil:
		return map[string]interface{}{}, nil
	default:
		return nil, fmt.Errorf("unexpected tool input type %T", input)
	}
}
