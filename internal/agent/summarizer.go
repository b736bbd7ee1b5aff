package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FeelPulse/repostalker/internal/logger"
	"github.com/FeelPulse/repostalker/internal/telemetry"
	"github.com/FeelPulse/repostalker/pkg/types"
)

// ErrNoItems is returned when there is nothing to summarize
var ErrNoItems = errors.New("no items provided")

// SummaryRequest is one summarize-items call
type SummaryRequest struct {
	Items      []types.Item
	Kind       types.ItemKind
	Model      string
	DistinctID string
	SessionID  string
}

// Summarizer produces a short overview of a list of items with one
// tool-free LLM call
type Summarizer struct {
	llm         LLM
	emitter     telemetry.Emitter
	temperature *float64
	log         *logger.Logger
}

// NewSummarizer creates a summarizer. A nil emitter disables traces.
func NewSummarizer(llm LLM, emitter telemetry.Emitter, temperature *float64) *Summarizer {
	if emitter == nil {
		emitter = telemetry.Nop{}
	}
	return &Summarizer{
		llm:         llm,
		emitter:     emitter,
		temperature: temperature,
		log:         logger.Named("summarizer"),
	}
}

// SummarySpanName returns the trace span for a summary of repo's items
func SummarySpanName(kind types.ItemKind, repo types.Repo) string {
	target := "unknown"
	if !repo.IsZero() {
		target = repo.Owner + "_" + repo.Name
	}
	return fmt.Sprintf("repo_%s_summary_%s", kind, target)
}

// Summarize returns the summary text and the token usage of the call
func (s *Summarizer) Summarize(ctx context.Context, req SummaryRequest) (string, types.Usage, error) {
	if len(req.Items) == 0 {
		return "", types.Usage{}, ErrNoItems
	}

	start := time.Now()
	system, user := SummaryPrompts(req.Items, req.Kind)

	repo, _ := types.RepoFromURL(req.Items[0].HTMLURL)

	trace := telemetry.Trace{
		TraceID:      uuid.NewString(),
		GenerationID: uuid.NewString(),
		SessionID:    req.SessionID,
		DistinctID:   req.DistinctID,
		SpanName:     SummarySpanName(req.Kind, repo),
		Model:        req.Model,
		Input:        user,
		Iterations:   1,
		Properties: map[string]any{
			"item_count": len(req.Items),
			"item_type":  req.Kind.Plural(),
		},
	}

	text, usage, err := s.complete(ctx, req.Model, system, user, &trace)

	trace.Latency = time.Since(start)
	trace.Timestamp = time.Now()
	trace.Success = err == nil
	trace.Output = text
	trace.InputTokens = usage.InputTokens
	trace.OutputTokens = usage.OutputTokens
	if err != nil {
		trace.Error = err.Error()
	}
	s.emitter.Emit(trace)

	if err != nil {
		s.log.With("items", len(req.Items)).Error("❌ Summary failed: %v", err)
		return "", usage, err
	}
	s.log.With("items", len(req.Items)).With("tokens", usage.Total()).Info("📝 Summary generated")
	return text, usage, nil
}

func (s *Summarizer) complete(ctx context.Context, model, system, user string, trace *telemetry.Trace) (string, types.Usage, error) {
	comp, err := s.llm.Complete(ctx, CompletionRequest{
		Model: model,
		Messages: []types.ChatTurn{
			{Role: types.RoleSystem, Content: system},
			{Role: types.RoleUser, Content: user},
		},
		Temperature: s.temperature,
	})
	if err != nil {
		return "", types.Usage{}, asUpstream(err)
	}
	if comp.Model != "" {
		trace.Model = comp.Model
	}
	if strings.TrimSpace(comp.Message.Content) == "" {
		return "", comp.Usage, ErrEmptyResponse
	}
	return comp.Message.Content, comp.Usage, nil
}
