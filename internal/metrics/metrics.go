package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Collector holds all metrics
type Collector struct {
	requests    map[string]*atomic.Int64 // by endpoint + status
	rejections  map[string]*atomic.Int64 // by rate-limit scope
	outcomes    map[string]*atomic.Int64 // by terminal loop state
	toolCalls   map[string]*atomic.Int64 // by tool name
	toolErrors  map[string]*atomic.Int64 // by tool name
	tokensInput atomic.Int64
	tokensOut   atomic.Int64
	inFlight    atomic.Int64
	mu          sync.RWMutex
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requests:   make(map[string]*atomic.Int64),
		rejections: make(map[string]*atomic.Int64),
		outcomes:   make(map[string]*atomic.Int64),
		toolCalls:  make(map[string]*atomic.Int64),
		toolErrors: make(map[string]*atomic.Int64),
	}
}

// counter returns the counter for key in m, creating it on first use
func (c *Collector) counter(m map[string]*atomic.Int64, key string) *atomic.Int64 {
	c.mu.RLock()
	ctr, ok := m[key]
	c.mu.RUnlock()
	if ok {
		return ctr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok = m[key]; !ok {
		ctr = &atomic.Int64{}
		m[key] = ctr
	}
	return ctr
}

func (c *Collector) snapshot(m map[string]*atomic.Int64) map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]int64, len(m))
	for k, ctr := range m {
		result[k] = ctr.Load()
	}
	return result
}

func requestKey(endpoint string, status int) string {
	return endpoint + "|" + strconv.Itoa(status)
}

// IncrementRequest counts a finished HTTP request
func (c *Collector) IncrementRequest(endpoint string, status int) {
	c.counter(c.requests, requestKey(endpoint, status)).Add(1)
}

// IncrementRejection counts a rate-limit rejection for scope
func (c *Collector) IncrementRejection(scope string) {
	c.counter(c.rejections, scope).Add(1)
}

// IncrementOutcome counts a conversation that ended in state
func (c *Collector) IncrementOutcome(state string) {
	c.counter(c.outcomes, state).Add(1)
}

// AddTokens adds token usage
func (c *Collector) AddTokens(input, output int) {
	c.tokensInput.Add(int64(input))
	c.tokensOut.Add(int64(output))
}

// IncrementToolCall increments the tool call counter
func (c *Collector) IncrementToolCall(toolName string) {
	c.counter(c.toolCalls, toolName).Add(1)
}

// IncrementToolError increments the tool error counter
func (c *Collector) IncrementToolError(toolName string) {
	c.counter(c.toolErrors, toolName).Add(1)
}

// TrackInFlight marks a request as started; call the returned func when it ends
func (c *Collector) TrackInFlight() func() {
	c.inFlight.Add(1)
	return func() { c.inFlight.Add(-1) }
}

// GetRequests returns request counts by endpoint and status
func (c *Collector) GetRequests(endpoint string, status int) int64 {
	return c.snapshot(c.requests)[requestKey(endpoint, status)]
}

// GetRejections returns rejection counts by scope
func (c *Collector) GetRejections() map[string]int64 {
	return c.snapshot(c.rejections)
}

// GetOutcomes returns loop outcome counts by state
func (c *Collector) GetOutcomes() map[string]int64 {
	return c.snapshot(c.outcomes)
}

// GetTokensTotal returns token counts
func (c *Collector) GetTokensTotal() (input, output int64) {
	return c.tokensInput.Load(), c.tokensOut.Load()
}

// GetInFlight returns the number of requests being served
func (c *Collector) GetInFlight() int64 {
	return c.inFlight.Load()
}

// GetToolCalls returns tool call counts
func (c *Collector) GetToolCalls() map[string]int64 {
	return c.snapshot(c.toolCalls)
}

// GetToolErrors returns tool error counts
func (c *Collector) GetToolErrors() map[string]int64 {
	return c.snapshot(c.toolErrors)
}

// WritePrometheus writes metrics in Prometheus text format
func (c *Collector) WritePrometheus(w io.Writer) {
	// Requests
	fmt.Fprintln(w, "# HELP repostalker_requests_total HTTP requests by endpoint and status")
	fmt.Fprintln(w, "# TYPE repostalker_requests_total counter")
	requests := c.snapshot(c.requests)
	for _, key := range sortedKeys(requests) {
		endpoint, status, _ := strings.Cut(key, "|")
		fmt.Fprintf(w, "repostalker_requests_total{endpoint=%q,status=%q} %d\n", endpoint, status, requests[key])
	}

	fmt.Fprintln(w)

	// Rejections
	fmt.Fprintln(w, "# HELP repostalker_rate_limit_rejections_total Rate-limited requests by scope")
	fmt.Fprintln(w, "# TYPE repostalker_rate_limit_rejections_total counter")
	rejections := c.GetRejections()
	for _, scope := range sortedKeys(rejections) {
		fmt.Fprintf(w, "repostalker_rate_limit_rejections_total{scope=%q} %d\n", scope, rejections[scope])
	}

	fmt.Fprintln(w)

	// Tokens total
	input, output := c.GetTokensTotal()
	fmt.Fprintln(w, "# HELP repostalker_tokens_total Total LLM tokens used")
	fmt.Fprintln(w, "# TYPE repostalker_tokens_total counter")
	fmt.Fprintf(w, "repostalker_tokens_total{type=\"input\"} %d\n", input)
	fmt.Fprintf(w, "repostalker_tokens_total{type=\"output\"} %d\n", output)

	fmt.Fprintln(w)

	// Outcomes
	fmt.Fprintln(w, "# HELP repostalker_conversations_total Conversations by terminal state")
	fmt.Fprintln(w, "# TYPE repostalker_conversations_total counter")
	outcomes := c.GetOutcomes()
	for _, state := range sortedKeys(outcomes) {
		fmt.Fprintf(w, "repostalker_conversations_total{state=%q} %d\n", state, outcomes[state])
	}

	fmt.Fprintln(w)

	// In flight
	fmt.Fprintln(w, "# HELP repostalker_requests_in_flight Requests currently being served")
	fmt.Fprintln(w, "# TYPE repostalker_requests_in_flight gauge")
	fmt.Fprintf(w, "repostalker_requests_in_flight %d\n", c.GetInFlight())

	fmt.Fprintln(w)

	// Tool calls
	fmt.Fprintln(w, "# HELP repostalker_tool_calls_total Tool calls by tool name")
	fmt.Fprintln(w, "# TYPE repostalker_tool_calls_total counter")
	toolCalls := c.GetToolCalls()
	for _, name := range sortedKeys(toolCalls) {
		fmt.Fprintf(w, "repostalker_tool_calls_total{tool=%q} %d\n", name, toolCalls[name])
	}

	fmt.Fprintln(w)

	// Tool errors
	fmt.Fprintln(w, "# HELP repostalker_tool_errors_total Tool errors by tool name")
	fmt.Fprintln(w, "# TYPE repostalker_tool_errors_total counter")
	toolErrors := c.GetToolErrors()
	for _, name := range sortedKeys(toolErrors) {
		fmt.Fprintf(w, "repostalker_tool_errors_total{tool=%q} %d\n", name, toolErrors[name])
	}
}

// sortedKeys returns sorted keys of a map
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Handler returns an HTTP handler for the metrics endpoint
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WritePrometheus(w)
	}
}

// Global collector instance
var defaultCollector = NewCollector()

// Default returns the default metrics collector
func Default() *Collector {
	return defaultCollector
}
