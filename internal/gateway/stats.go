package gateway

import (
	"net/http"

	"github.com/FeelPulse/repostalker/internal/ratelimit"
)

// RateLimitStatsResponse is the /api/rate-limit/stats payload
type RateLimitStatsResponse struct {
	ClientKey string `json:"clientKey"`
	*ratelimit.Stats
}

func (gw *Gateway) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	gw.mu.RLock()
	limiter := gw.limiter
	gw.mu.RUnlock()
	if limiter == nil {
		writeError(w, http.StatusServiceUnavailable, "Rate limiting is not enabled")
		return
	}

	key := ratelimit.ClientKey(r)
	stats, err := limiter.Stats(r.Context(), key)
	if err != nil {
		gw.log.Error("❌ %v", err)
		writeError(w, http.StatusServiceUnavailable, "Rate limit stats are temporarily unavailable. Please try again later.")
		return
	}

	writeJSON(w, http.StatusOK, RateLimitStatsResponse{ClientKey: key, Stats: stats})
}

func (gw *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, gw.usage.Report())
}
