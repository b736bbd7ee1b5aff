package gateway

import (
	"context"
	"net/http"

	"github.com/FeelPulse/repostalker/internal/agent"
	"github.com/FeelPulse/repostalker/pkg/types"
)

// SummarizeRequest is the summarize-items body
type SummarizeRequest struct {
	Items      []types.Item `json:"items"`
	Type       string       `json:"type"`
	DistinctID string       `json:"distinctId,omitempty"`
	SessionID  string       `json:"sessionId,omitempty"`
	Model      string       `json:"model,omitempty"`
}

// SummarizeResponse is the summarize-items reply
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

func (gw *Gateway) handleSummarize(w http.ResponseWriter, r *http.Request) {
	b, ok := gw.admit(w, r, SurfaceSummarize)
	if !ok {
		return
	}

	var req SummarizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		gw.writeFailure(w, SurfaceSummarize, agent.ErrNoItems)
		return
	}

	gw.activeRequests.Add(1)
	defer gw.activeRequests.Done()

	ctx, cancel := context.WithTimeout(r.Context(), b.turnTimeout())
	defer cancel()

	distinctID := distinctOrAnonymous(req.DistinctID)
	model := b.cfg.LLM.ResolveModel(req.Model)

	summary, usage, err := b.summarizer.Summarize(ctx, agent.SummaryRequest{
		Items:      req.Items,
		Kind:       types.ParseItemKind(req.Type),
		Model:      model,
		DistinctID: distinctID,
		SessionID:  req.SessionID,
	})
	gw.record(b, SurfaceSummarize, distinctID, usage, model, err)
	if err != nil {
		gw.writeFailure(w, SurfaceSummarize, err)
		return
	}

	writeJSON(w, http.StatusOK, SummarizeResponse{Summary: summary})
}
