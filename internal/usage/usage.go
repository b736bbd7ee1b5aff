package usage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FeelPulse/repostalker/pkg/types"
)

// Stats holds token usage for one surface and distinct id, or an aggregate
type Stats struct {
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	TotalTokens  int            `json:"totalTokens"`
	RequestCount int            `json:"requestCount"`
	Failures     int            `json:"failures"`
	ModelsUsed   map[string]int `json:"modelsUsed"`
	FirstRequest time.Time      `json:"firstRequest,omitempty"`
	LastRequest  time.Time      `json:"lastRequest,omitempty"`
}

// String returns a human-readable summary of usage
func (s *Stats) String() string {
	if s.RequestCount == 0 {
		return "📊 No usage recorded yet."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 Tokens: %d (input %d, output %d)", s.TotalTokens, s.InputTokens, s.OutputTokens))
	sb.WriteString(fmt.Sprintf(", requests: %d", s.RequestCount))
	if s.Failures > 0 {
		sb.WriteString(fmt.Sprintf(", failures: %d", s.Failures))
	}
	if !s.FirstRequest.IsZero() {
		sb.WriteString(fmt.Sprintf(", over %s", formatDuration(s.LastRequest.Sub(s.FirstRequest))))
	}
	return sb.String()
}

func (s *Stats) add(o *Stats) {
	s.InputTokens += o.InputTokens
	s.OutputTokens += o.OutputTokens
	s.TotalTokens += o.TotalTokens
	s.RequestCount += o.RequestCount
	s.Failures += o.Failures

	if s.FirstRequest.IsZero() || (!o.FirstRequest.IsZero() && o.FirstRequest.Before(s.FirstRequest)) {
		s.FirstRequest = o.FirstRequest
	}
	if o.LastRequest.After(s.LastRequest) {
		s.LastRequest = o.LastRequest
	}
	for model, count := range o.ModelsUsed {
		s.ModelsUsed[model] += count
	}
}

func (s *Stats) clone() *Stats {
	c := *s
	c.ModelsUsed = make(map[string]int, len(s.ModelsUsed))
	for k, v := range s.ModelsUsed {
		c.ModelsUsed[k] = v
	}
	return &c
}

func newStats() *Stats {
	return &Stats{ModelsUsed: make(map[string]int)}
}

// Tracker aggregates LLM token usage in memory per surface and distinct id.
// Surfaces are the LLM-backed endpoints: chat-with-pr, chat-with-repo and
// summarize-items.
type Tracker struct {
	stats map[string]*Stats
	now   func() time.Time
	mu    sync.RWMutex
}

// NewTracker creates a new usage tracker
func NewTracker() *Tracker {
	return &Tracker{
		stats: make(map[string]*Stats),
		now:   time.Now,
	}
}

// key generates a unique key for surface+distinct id
func key(surface, distinctID string) string {
	if distinctID == "" {
		distinctID = "anonymous"
	}
	return surface + ":" + distinctID
}

// Record records the token usage of one finished request. Failed requests
// still count their tokens.
func (t *Tracker) Record(surface, distinctID string, u types.Usage, model string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := key(surface, distinctID)
	stats, exists := t.stats[k]
	if !exists {
		stats = newStats()
		stats.FirstRequest = now
		t.stats[k] = stats
	}

	stats.InputTokens += u.InputTokens
	stats.OutputTokens += u.OutputTokens
	stats.TotalTokens += u.Total()
	stats.RequestCount++
	stats.LastRequest = now
	if failed {
		stats.Failures++
	}
	if model != "" {
		stats.ModelsUsed[model]++
	}
}

// Get retrieves usage stats for one surface and distinct id
func (t *Tracker) Get(surface, distinctID string) *Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats, exists := t.stats[key(surface, distinctID)]
	if !exists {
		return newStats()
	}
	return stats.clone()
}

// Reset clears usage stats for one surface and distinct id
func (t *Tracker) Reset(surface, distinctID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stats, key(surface, distinctID))
}

// BySurface returns stats aggregated per surface
func (t *Tracker) BySurface() map[string]*Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*Stats)
	for k, stats := range t.stats {
		surface, _, _ := strings.Cut(k, ":")
		agg, ok := result[surface]
		if !ok {
			agg = newStats()
			result[surface] = agg
		}
		agg.add(stats)
	}
	return result
}

// Surfaces returns the surfaces with recorded usage, sorted
func (t *Tracker) Surfaces() []string {
	by := t.BySurface()
	names := make([]string, 0, len(by))
	for name := range by {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DistinctIDs returns the number of distinct ids seen across surfaces
func (t *Tracker) DistinctIDs() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range t.stats {
		_, id, _ := strings.Cut(k, ":")
		seen[id] = struct{}{}
	}
	return len(seen)
}

// GetGlobal returns aggregated stats across all surfaces
func (t *Tracker) GetGlobal() *Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	global := newStats()
	for _, stats := range t.stats {
		global.add(stats)
	}
	return global
}

// Report is the /api/stats payload
type Report struct {
	Global      *Stats            `json:"global"`
	Surfaces    map[string]*Stats `json:"surfaces"`
	DistinctIDs int               `json:"distinctIds"`
}

// Report returns a snapshot for the stats endpoint
func (t *Tracker) Report() Report {
	return Report{
		Global:      t.GetGlobal(),
		Surfaces:    t.BySurface(),
		DistinctIDs: t.DistinctIDs(),
	}
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dh", hours)
}
