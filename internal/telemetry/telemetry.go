// Package telemetry emits one $ai_generation event per LLM-backed request.
// Emission is fire-and-forget: it never blocks or fails the caller.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/posthog/posthog-go"

	"github.com/FeelPulse/repostalker/internal/logger"
)

// EventName is the PostHog LLM observability event
const EventName = "$ai_generation"

// AnonymousID is used when the client sends no distinct id
const AnonymousID = "anonymous"

// Trace describes one LLM-backed request
type Trace struct {
	TraceID      string
	GenerationID string
	SessionID    string
	DistinctID   string
	SpanName     string
	Model        string
	Input        string
	Output       string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Success      bool
	Error        string
	Iterations   int
	ToolCalls    int
	Timestamp    time.Time
	Properties   map[string]any // surface-specific extras (item_type, pr_title, ...)
}

// EventProperties renders the trace as PostHog $ai_* properties
func (t Trace) EventProperties() posthog.Properties {
	props := posthog.NewProperties().
		Set("$ai_trace_id", t.TraceID).
		Set("$ai_generation_id", t.GenerationID).
		Set("$ai_model", t.Model).
		Set("$ai_input", t.Input).
		Set("$ai_input_tokens", t.InputTokens).
		Set("$ai_output_tokens", t.OutputTokens).
		Set("$ai_total_tokens", t.InputTokens+t.OutputTokens).
		Set("$ai_latency", t.Latency.Seconds()).
		Set("success", t.Success).
		Set("iterations", t.Iterations).
		Set("tool_calls_made", t.ToolCalls)

	if t.Output != "" {
		props.Set("$ai_output", t.Output)
	}
	if t.Error != "" {
		props.Set("$ai_error", t.Error).Set("$ai_is_error", true)
	}
	if t.SpanName != "" {
		props.Set("$ai_span_name", t.SpanName)
	}
	if t.SessionID != "" {
		props.Set("$ai_session_id", t.SessionID)
	}
	for k, v := range t.Properties {
		props.Set(k, v)
	}
	return props
}

// Emitter accepts traces without blocking
type Emitter interface {
	Emit(t Trace)
}

// Nop discards traces
type Nop struct{}

// Emit implements Emitter
func (Nop) Emit(Trace) {}

// Sink is the subset of posthog.Client the emitter uses
type Sink interface {
	Enqueue(msg posthog.Message) error
	Close() error
}

// Config configures the PostHog emitter
type Config struct {
	APIKey    string
	Host      string
	QueueSize int // default 256
}

// PostHogEmitter forwards traces to PostHog from a background worker.
// When the queue is full traces are dropped.
type PostHogEmitter struct {
	sink  Sink
	queue chan Trace
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64

	log *logger.Logger
}

// NewPostHogEmitter creates an emitter backed by the PostHog client
func NewPostHogEmitter(cfg Config) (*PostHogEmitter, error) {
	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{Endpoint: cfg.Host})
	if err != nil {
		return nil, err
	}
	return NewEmitter(client, cfg.QueueSize), nil
}

// NewEmitter creates an emitter over any sink and starts its worker
func NewEmitter(sink Sink, queueSize int) *PostHogEmitter {
	if queueSize <= 0 {
		queueSize = 256
	}
	e := &PostHogEmitter{
		sink:  sink,
		queue: make(chan Trace, queueSize),
		done:  make(chan struct{}),
		log:   logger.Named("telemetry"),
	}
	go e.run()
	return e
}

// Emit queues a trace; it never blocks
func (e *PostHogEmitter) Emit(t Trace) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- t:
	default:
		n := e.dropped.Add(1)
		e.log.With("trace", t.TraceID).Warn("⚠️ Telemetry queue full, dropped event (%d total)", n)
	}
}

func (e *PostHogEmitter) run() {
	defer close(e.done)
	for t := range e.queue {
		e.capture(t)
	}
}

func (e *PostHogEmitter) capture(t Trace) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("❌ Telemetry capture panicked: %v", r)
		}
	}()

	distinctID := t.DistinctID
	if distinctID == "" {
		distinctID = AnonymousID
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	err := e.sink.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      EventName,
		Timestamp:  ts,
		Properties: t.EventProperties(),
	})
	if err != nil {
		e.log.With("trace", t.TraceID).Warn("⚠️ Telemetry capture failed: %v", err)
		return
	}
	e.sent.Add(1)
}

// Dropped returns the number of traces dropped because the queue was full
func (e *PostHogEmitter) Dropped() int64 {
	return e.dropped.Load()
}

// Sent returns the number of traces handed to the sink
func (e *PostHogEmitter) Sent() int64 {
	return e.sent.Load()
}

// Close drains the queue and closes the sink. Later Emit calls are ignored.
func (e *PostHogEmitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
	return e.sink.Close()
}

// Recorder keeps traces in memory
type Recorder struct {
	mu     sync.Mutex
	traces []Trace
}

// Emit implements Emitter
func (r *Recorder) Emit(t Trace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, t)
}

// Traces returns a copy of the recorded traces
func (r *Recorder) Traces() []Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trace(nil), r.traces...)
}
