package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/FeelPulse/repostalker/internal/agent"
	"github.com/FeelPulse/repostalker/internal/config"
	"github.com/FeelPulse/repostalker/internal/metrics"
	"github.com/FeelPulse/repostalker/internal/ratelimit"
	"github.com/FeelPulse/repostalker/internal/telemetry"
	"github.com/FeelPulse/repostalker/internal/tools"
	"github.com/FeelPulse/repostalker/pkg/types"
)

// ChatWithPRRequest is the chat-with-pr body
type ChatWithPRRequest struct {
	Message      string           `json:"message"`
	Context      string           `json:"context"` // PR or issue description
	Title        string           `json:"title"`
	PRURL        string           `json:"prUrl,omitempty"`
	PRNumber     int              `json:"prNumber,omitempty"`
	RepoFullName string           `json:"repoFullName,omitempty"`
	History      []types.ChatTurn `json:"history"`
	DistinctID   string           `json:"distinctId,omitempty"`
	ChatID       string           `json:"chatId,omitempty"`
	Model        string           `json:"model,omitempty"`
}

// ChatWithRepoRequest is the chat-with-repo body
type ChatWithRepoRequest struct {
	Message    string           `json:"message"`
	Items      []types.Item     `json:"items"`
	Type       string           `json:"type"` // pr | issue
	Summary    string           `json:"summary,omitempty"`
	History    []types.ChatTurn `json:"history"`
	DistinctID string           `json:"distinctId,omitempty"`
	ChatID     string           `json:"chatId,omitempty"`
	Model      string           `json:"model,omitempty"`
}

// ChatResponse is returned by both chat endpoints
type ChatResponse struct {
	Response string `json:"response"`
}

// backend is a snapshot of the collaborators serving one request
type backend struct {
	cfg        *config.Config
	loop       *agent.Loop
	summarizer *agent.Summarizer
	github     GitHub
	metrics    *metrics.Collector
}

// admit runs the checks every LLM-backed request passes before its body is
// read: method, collaborator configuration, then the rate limiter.
func (gw *Gateway) admit(w http.ResponseWriter, r *http.Request, surface string) (*backend, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return nil, false
	}

	gw.mu.RLock()
	b := &backend{
		cfg:        gw.cfg,
		loop:       gw.loop,
		summarizer: gw.summarizer,
		github:     gw.github,
		metrics:    gw.metrics,
	}
	limiter := gw.limiter
	gw.mu.RUnlock()

	if b.loop == nil || b.summarizer == nil {
		gw.writeFailure(w, surface, &agent.ConfigurationError{Field: "LLM API key"})
		return nil, false
	}

	if limiter != nil {
		d := limiter.Check(r.Context(), ratelimit.ClientKey(r))
		if d.Scope == ratelimit.ScopeCanceled {
			// client is gone; nothing to write or count
			return nil, false
		}
		if !d.Allowed {
			b.metrics.IncrementRejection(string(d.Scope))
			gw.writeFailure(w, surface, d.Err())
			return nil, false
		}
	}
	return b, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeFailure maps an error to its status and user-visible message
func (gw *Gateway) writeFailure(w http.ResponseWriter, surface string, err error) {
	var exceeded *ratelimit.ExceededError
	var upstream *agent.UpstreamError
	var cfgErr *agent.ConfigurationError

	switch {
	case errors.As(err, &exceeded):
		status := http.StatusTooManyRequests
		if exceeded.Unavailable() {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, exceeded.Reason)
	case errors.As(err, &upstream) && upstream.RateLimited():
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	case errors.As(err, &upstream) && upstream.PaymentRequired() && surface == SurfaceSummarize:
		writeError(w, http.StatusPaymentRequired, "Payment required. Please add credits to continue.")
	case errors.Is(err, agent.ErrNoItems):
		writeError(w, http.StatusBadRequest, "No items to summarize")
	case errors.As(err, &cfgErr):
		gw.log.With("surface", surface).Error("❌ %v", err)
		writeError(w, http.StatusInternalServerError, "The AI service is not configured. Please try again later.")
	default:
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
	}
}

// record books a finished LLM-backed request in usage and metrics
func (gw *Gateway) record(b *backend, surface, distinctID string, u types.Usage, model string, err error) {
	gw.usage.Record(surface, distinctID, u, model, err != nil)
	b.metrics.AddTokens(u.InputTokens, u.OutputTokens)
}

func distinctOrAnonymous(id string) string {
	if strings.TrimSpace(id) == "" {
		return telemetry.AnonymousID
	}
	return id
}

var itemNumberPattern = regexp.MustCompile(`/(?:pull|issues)/(\d+)`)

// prTarget resolves the repository and number a PR chat is about, from the
// explicit fields first and the PR URL second
func prTarget(req *ChatWithPRRequest) (types.Repo, int, bool) {
	var repo types.Repo
	if req.RepoFullName != "" {
		if r, err := types.ParseRepo(req.RepoFullName); err == nil {
			repo = r
		}
	}
	if repo.IsZero() && req.PRURL != "" {
		repo, _ = types.RepoFromURL(req.PRURL)
	}

	number := req.PRNumber
	if number <= 0 && req.PRURL != "" {
		if m := itemNumberPattern.FindStringSubmatch(req.PRURL); m != nil {
			number, _ = strconv.Atoi(m[1])
		}
	}

	return repo, number, !repo.IsZero() && number > 0
}

func (gw *Gateway) handleChatWithPR(w http.ResponseWriter, r *http.Request) {
	b, ok := gw.admit(w, r, SurfaceChatWithPR)
	if !ok {
		return
	}

	var req ChatWithPRRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	gw.activeRequests.Add(1)
	defer gw.activeRequests.Done()

	distinctID := distinctOrAnonymous(req.DistinctID)
	spanName := "pr_chat"
	props := map[string]any{"pr_title": req.Title}

	var registry *tools.Registry
	if repo, number, ok := prTarget(&req); ok {
		spanName = fmt.Sprintf("pr_chat_%s_%s_%d", repo.Owner, repo.Name, number)
		props["repo"] = repo.String()
		props["pr_number"] = number
		if b.github != nil {
			registry = tools.NewPRRegistry(tools.PRContext{Repo: repo, Number: number, Source: b.github})
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), b.turnTimeout())
	defer cancel()

	model := b.cfg.LLM.ResolveModel(req.Model)
	res, err := b.loop.Run(ctx, agent.Request{
		SystemPrompt: agent.PRChatPrompt(req.Title, req.Context, registry != nil),
		History:      req.History,
		Message:      req.Message,
		Model:        model,
		Temperature:  b.cfg.LLM.PRTemperature,
		Registry:     registry,
		DistinctID:   distinctID,
		SessionID:    req.ChatID,
		SpanName:     spanName,
		Properties:   props,
	})
	gw.record(b, SurfaceChatWithPR, distinctID, res.Usage, res.Model, err)
	if err != nil {
		gw.writeFailure(w, SurfaceChatWithPR, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: res.Text})
}

func (gw *Gateway) handleChatWithRepo(w http.ResponseWriter, r *http.Request) {
	b, ok := gw.admit(w, r, SurfaceChatWithRepo)
	if !ok {
		return
	}

	var req ChatWithRepoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	gw.activeRequests.Add(1)
	defer gw.activeRequests.Done()

	distinctID := distinctOrAnonymous(req.DistinctID)
	kind := types.ParseItemKind(req.Type)

	rc := tools.RepoContext{Items: req.Items, Kind: kind}
	if b.github != nil {
		rc.Fetcher = b.github
	}

	target := "unknown"
	if repo, ok := rc.ResolveRepo(); ok {
		target = repo.Owner + "_" + repo.Name
	}

	ctx, cancel := context.WithTimeout(r.Context(), b.turnTimeout())
	defer cancel()

	model := b.cfg.LLM.ResolveModel(req.Model)
	res, err := b.loop.Run(ctx, agent.Request{
		SystemPrompt: agent.RepoChatPrompt(req.Items, kind, req.Summary),
		History:      req.History,
		Message:      req.Message,
		Model:        model,
		Registry:     tools.NewRepoRegistry(rc),
		DistinctID:   distinctID,
		SessionID:    req.ChatID,
		SpanName:     fmt.Sprintf("repo_%s_chat_%s", kind, target),
		Properties: map[string]any{
			"item_type":  string(kind),
			"item_count": len(req.Items),
		},
	})
	gw.record(b, SurfaceChatWithRepo, distinctID, res.Usage, res.Model, err)
	if err != nil {
		gw.writeFailure(w, SurfaceChatWithRepo, err)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: res.Text})
}
