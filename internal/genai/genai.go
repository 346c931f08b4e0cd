// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// Two call styles are offered: chat completions for free-form text and the
// Responses API with a JSON schema for structured output.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// Default model settings.
const (
	DefaultModel               = openai.ChatModelGPT4oMini
	DefaultTemperature         = 0.3
	DefaultMaxTokens           = 1200
	DefaultStructuredMaxTokens = 2000
	// structuredRetryMaxTokens is the budget for the single retry after a truncated structured answer.
	structuredRetryMaxTokens = 4000
)

// Errors returned by the client.
var (
	ErrNoAPIKey          = errors.New("OpenAI API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyOutput       = errors.New("model returned empty output")
)

// chatService is the subset of the chat completions service used by Client.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// responsesService is the subset of the Responses service used by Client.
type responsesService interface {
	New(ctx context.Context, params responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// StructuredRequest describes one schema-constrained generation.
type StructuredRequest struct {
	Name         string
	Description  string
	Schema       map[string]interface{}
	Instructions string
	Input        string
	MaxTokens    int64
}

// ClientInterface is implemented by Client and by test fakes.
type ClientInterface interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateStructuredJSON(ctx context.Context, req StructuredRequest) (string, error)
	Model() string
}

// Client wraps the OpenAI chat completion and responses services.
type Client struct {
	chat        chatService
	responses   responsesService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey overrides the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model used for every call.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature for chat completions.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens sets the completion token budget for chat completions.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode enables writing every call to <stateDir>/debug as JSON.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug logs.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// NewClient initializes a new GenAI client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	slog.Debug("genai.NewClient: creating client", "model", cfg.Model, "debug", cfg.DebugMode)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:        &cli.Chat.Completions,
		responses:   &cli.Responses,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// GeneratePrompt generates a response from a system and a user prompt.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateWithMessages runs a chat completion over the given conversation.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}
	slog.Debug("Client.GenerateWithMessages: calling chat completions", "model", c.model, "messages", len(messages))
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("Client.GenerateWithMessages: chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Client.GenerateWithMessages: no choices returned")
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	c.writeDebugLog("GenerateWithMessages", params, content)
	return content, nil
}

// GenerateStructuredJSON calls the Responses API with a strict JSON schema
// and returns the raw model output text.
func (c *Client) GenerateStructuredJSON(ctx context.Context, req StructuredRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultStructuredMaxTokens
	}
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(maxTokens),
		Instructions:    openai.String(req.Instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(req.Input, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        req.Name,
					Schema:      req.Schema,
					Strict:      openai.Bool(true),
					Description: openai.String(req.Description),
					Type:        "json_schema",
				},
			},
		},
	}
	slog.Debug("Client.GenerateStructuredJSON: calling responses", "model", c.model, "schema", req.Name)
	resp, err := c.responses.New(ctx, params)
	if err != nil {
		slog.Error("Client.GenerateStructuredJSON: responses call failed", "error", err, "schema", req.Name)
		return "", fmt.Errorf("structured generation failed: %w", err)
	}
	out := resp.OutputText()
	c.writeDebugLog("GenerateStructuredJSON", params, out)
	return out, nil
}

// debugEntry is one call written to the debug directory.
type debugEntry struct {
	Timestamp string      `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  string      `json:"response"`
}

func (c *Client) writeDebugLog(method string, params interface{}, response string) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Client.writeDebugLog: failed to create debug dir", "error", err)
		return
	}
	now := time.Now().UTC()
	entry := debugEntry{
		Timestamp: now.Format(time.RFC3339Nano),
		Method:    method,
		Model:     c.model,
		Params:    params,
		Response:  response,
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.writeDebugLog: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		slog.Warn("Client.writeDebugLog: write failed", "error", err)
	}
}
