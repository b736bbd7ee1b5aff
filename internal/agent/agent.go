package agent

import (
	"context"

	"github.com/FeelPulse/repostalker/internal/tools"
	"github.com/FeelPulse/repostalker/pkg/types"
)

// CompletionRequest is one chat-completion call
type CompletionRequest struct {
	Model       string
	Messages    []types.ChatTurn
	Tools       []*tools.Tool
	Temperature *float64 // nil = provider default
}

// Completion is the model's reply to one call. Message is an assistant
// turn; it carries ToolCalls when the model wants tools run.
type Completion struct {
	Message types.ChatTurn
	Model   string
	Usage   types.Usage
}

// LLM is an OpenAI-compatible chat-completion collaborator. Implementations
// make exactly one upstream call per Complete and never retry.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}

// Temperature returns a pointer for CompletionRequest.Temperature
func Temperature(t float64) *float64 {
	return &t
}
