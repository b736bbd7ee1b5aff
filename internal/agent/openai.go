package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/FeelPulse/repostalker/internal/logger"
	"github.com/FeelPulse/repostalker/internal/tools"
	"github.com/FeelPulse/repostalker/pkg/types"
)

const (
	defaultBaseURL = "https://ai.gateway.lovable.dev/v1"
	defaultTimeout = 60 * time.Second
)

// OpenAIOptions configures the OpenAI-compatible client
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient implements LLM for any OpenAI-compatible chat completions endpoint
type OpenAIClient struct {
	client openai.Client
	log    *logger.Logger
}

// NewOpenAIClient creates a client. Retries are disabled: every Complete is
// exactly one upstream call.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := openai.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	)

	return &OpenAIClient{
		client: client,
		log:    logger.Named("llm"),
	}
}

// Name returns the provider name
func (c *OpenAIClient) Name() string {
	return "openai-compatible"
}

// Complete implements LLM
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages, err := toMessageParams(req.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, upstreamError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response: %w", ErrEmptyResponse)
	}

	msg := resp.Choices[0].Message
	turn := types.ChatTurn{
		Role:    types.RoleAssistant,
		Content: msg.Content,
		Raw:     msg.ToParam(),
	}
	for _, tc := range msg.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}

	c.log.With("model", model).With("tool_calls", len(turn.ToolCalls)).
		Debug("📥 completion in %s", time.Since(start).Round(time.Millisecond))

	return &Completion{
		Message: turn,
		Model:   model,
		Usage: types.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// upstreamError classifies a failed call
func upstreamError(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &UpstreamError{StatusCode: apiErr.StatusCode, Message: msg, Err: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &UpstreamError{Message: ctxErr.Error(), Err: err}
	}
	return &UpstreamError{Message: err.Error(), Err: err}
}

// toMessageParams converts a transcript to openai-go message params.
// Assistant turns that requested tools are replayed from Raw.
func toMessageParams(turns []types.ChatTurn) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for i, t := range turns {
		switch t.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(t.Content))
		case types.RoleUser:
			out = append(out, openai.UserMessage(t.Content))
		case types.RoleAssistant:
			if raw, ok := t.Raw.(openai.ChatCompletionMessageParamUnion); ok {
				out = append(out, raw)
				continue
			}
			if len(t.ToolCalls) > 0 {
				return nil, fmt.Errorf("turn %d: assistant tool calls without provider message", i)
			}
			out = append(out, openai.AssistantMessage(t.Content))
		case types.RoleTool:
			out = append(out, openai.ToolMessage(t.Content, t.ToolCallID))
		default:
			return nil, fmt.Errorf("turn %d: unknown role %q", i, t.Role)
		}
	}
	return out, nil
}

func toToolParams(list []*tools.Tool) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(list))
	for _, t := range list {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  openai.FunctionParameters(t.ParametersSchema()),
		}))
	}
	return out
}
