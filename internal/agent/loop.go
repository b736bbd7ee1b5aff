package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FeelPulse/repostalker/internal/logger"
	"github.com/FeelPulse/repostalker/internal/metrics"
	"github.com/FeelPulse/repostalker/internal/telemetry"
	"github.com/FeelPulse/repostalker/internal/tools"
	"github.com/FeelPulse/repostalker/pkg/types"
)

// DefaultMaxIterations is the LLM call ceiling per user turn
const DefaultMaxIterations = 5

// State is a conversation loop state
type State int

const (
	StateBuildingPrompt State = iota
	StateAwaitingModel
	StateDispatchingTools
	StateDone
	StateMaxIterations
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuildingPrompt:
		return "building_prompt"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateDispatchingTools:
		return "dispatching_tools"
	case StateDone:
		return "done"
	case StateMaxIterations:
		return "max_iterations"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the loop stops in this state
func (s State) Terminal() bool {
	return s == StateDone || s == StateMaxIterations || s == StateFailed
}

// Options configures a Loop
type Options struct {
	MaxIterations int                // default 5
	Temperature   *float64           // default for requests that set none
	Emitter       telemetry.Emitter  // default telemetry.Nop
	Metrics       *metrics.Collector // default metrics.Default()
}

// Request is one user turn
type Request struct {
	SystemPrompt string
	History      []types.ChatTurn // prior turns; only user/assistant content is kept
	Message      string
	Model        string
	Registry     *tools.Registry // nil = no tools
	Temperature  *float64

	// Telemetry
	DistinctID string
	SessionID  string
	SpanName   string
	Properties map[string]any
}

// Result describes how a run ended. Run returns it on failure too.
type Result struct {
	Text       string
	State      State
	Iterations int // LLM calls made
	ToolCalls  int
	ToolErrors int
	Usage      types.Usage // summed over all iterations
	Model      string
	TraceID    string
	Transcript []types.ChatTurn
}

// Loop runs the bounded tool-calling conversation. It holds no per-run
// state and is safe for concurrent use.
type Loop struct {
	llm   LLM
	opts  Options
	log   *logger.Logger
	newID func() string
}

// NewLoop creates a loop over llm
func NewLoop(llm LLM, opts Options) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Emitter == nil {
		opts.Emitter = telemetry.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}
	return &Loop{
		llm:   llm,
		opts:  opts,
		log:   logger.Named("agent"),
		newID: uuid.NewString,
	}
}

// MaxIterations returns the configured ceiling
func (l *Loop) MaxIterations() int {
	return l.opts.MaxIterations
}

// BuildTranscript returns the initial transcript: system prompt, filtered
// history, then the new user message
func BuildTranscript(systemPrompt string, history []types.ChatTurn, message string) []types.ChatTurn {
	transcript := make([]types.ChatTurn, 0, len(history)+2)
	transcript = append(transcript, types.ChatTurn{Role: types.RoleSystem, Content: systemPrompt})
	for _, h := range history {
		if h.Role != types.RoleUser && h.Role != types.RoleAssistant {
			continue
		}
		transcript = append(transcript, types.ChatTurn{Role: h.Role, Content: h.Content})
	}
	return append(transcript, types.ChatTurn{Role: types.RoleUser, Content: message})
}

// Run drives one user turn to a terminal state and emits exactly one trace
func (l *Loop) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res := &Result{
		State:   StateBuildingPrompt,
		Model:   req.Model,
		TraceID: l.newID(),
	}
	log := l.log.WithRequestID(res.TraceID)

	temperature := req.Temperature
	if temperature == nil {
		temperature = l.opts.Temperature
	}
	defs := req.Registry.List()

	var transcript []types.ChatTurn
	var runErr error

	for !res.State.Terminal() {
		switch res.State {
		case StateBuildingPrompt:
			transcript = BuildTranscript(req.SystemPrompt, req.History, req.Message)
			res.State = StateAwaitingModel

		case StateAwaitingModel:
			if res.Iterations >= l.opts.MaxIterations {
				runErr = ErrMaxIterations
				res.State = StateMaxIterations
				break
			}
			res.Iterations++

			comp, err := l.llm.Complete(ctx, CompletionRequest{
				Model:       req.Model,
				Messages:    append([]types.ChatTurn(nil), transcript...),
				Tools:       defs,
				Temperature: temperature,
			})
			if err != nil {
				runErr = asUpstream(err)
				res.State = StateFailed
				break
			}

			res.Usage.Add(comp.Usage)
			if comp.Model != "" {
				res.Model = comp.Model
			}

			msg := comp.Message
			msg.Role = types.RoleAssistant
			transcript = append(transcript, msg)

			switch {
			case len(msg.ToolCalls) > 0:
				res.State = StateDispatchingTools
			case strings.TrimSpace(msg.Content) == "":
				runErr = ErrEmptyResponse
				res.State = StateFailed
			default:
				res.Text = msg.Content
				res.State = StateDone
			}

		case StateDispatchingTools:
			calls := transcript[len(transcript)-1].ToolCalls
			log.With("iteration", res.Iterations).Info("🔧 Processing %d tool calls", len(calls))

			for _, call := range calls {
				out := req.Registry.Dispatch(ctx, call)
				res.ToolCalls++
				l.opts.Metrics.IncrementToolCall(call.Name)
				if out.Err != nil {
					res.ToolErrors++
					l.opts.Metrics.IncrementToolError(call.Name)
					log.With("tool", call.Name).Warn("⚠️ %v", out.Err)
				}
				transcript = append(transcript, types.ChatTurn{
					Role:       types.RoleTool,
					Content:    out.Content,
					ToolCallID: call.ID,
				})
			}
			res.State = StateAwaitingModel
		}
	}

	res.Transcript = transcript
	l.opts.Metrics.IncrementOutcome(res.State.String())
	l.emit(req, res, runErr, time.Since(start))

	if runErr != nil {
		log.With("state", res.State).With("iterations", res.Iterations).Error("❌ Conversation failed: %v", runErr)
		return res, runErr
	}
	log.With("iterations", res.Iterations).With("tool_calls", res.ToolCalls).Info("✅ Final response generated")
	return res, nil
}

// asUpstream keeps sentinel errors and wraps anything else as an UpstreamError
func asUpstream(err error) error {
	var up *UpstreamError
	if errors.As(err, &up) || errors.Is(err, ErrEmptyResponse) {
		return err
	}
	return &UpstreamError{Message: err.Error(), Err: err}
}

func (l *Loop) emit(req Request, res *Result, runErr error, latency time.Duration) {
	props := make(map[string]any, len(req.Properties)+1)
	for k, v := range req.Properties {
		props[k] = v
	}
	props["conversation_length"] = len(req.History) + 1

	trace := telemetry.Trace{
		TraceID:      res.TraceID,
		GenerationID: l.newID(),
		SessionID:    req.SessionID,
		DistinctID:   req.DistinctID,
		SpanName:     req.SpanName,
		Model:        res.Model,
		Input:        req.Message,
		Output:       res.Text,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		Latency:      latency,
		Success:      runErr == nil,
		Iterations:   res.Iterations,
		ToolCalls:    res.ToolCalls,
		Timestamp:    time.Now(),
		Properties:   props,
	}
	if runErr != nil {
		trace.Error = runErr.Error()
	}
	l.opts.Emitter.Emit(trace)
}
