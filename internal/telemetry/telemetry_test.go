package telemetry

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/posthog/posthog-go"
)

type fakeSink struct {
	mu       sync.Mutex
	messages []posthog.Capture
	err      error
	panicMsg string
	block    chan struct{}
	closed   atomic.Bool
}

func (f *fakeSink) Enqueue(msg posthog.Message) error {
	if f.block != nil {
		<-f.block
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := msg.(posthog.Capture); ok {
		f.messages = append(f.messages, c)
	}
	return f.err
}

func (f *fakeSink) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeSink) captured() []posthog.Capture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]posthog.Capture(nil), f.messages...)
}

func TestEventProperties(t *testing.T) {
	tr := Trace{
		TraceID:      "trace-1",
		GenerationID: "gen-1",
		SessionID:    "session-1",
		SpanName:     "repo_pr_summary_octo_widgets",
		Model:        "google/gemini-2.5-flash",
		Input:        "what changed?",
		Output:       "a lot",
		InputTokens:  100,
		OutputTokens: 20,
		Latency:      1500 * time.Millisecond,
		Success:      true,
		Iterations:   2,
		ToolCalls:    3,
		Properties:   map[string]any{"item_type": "Issues"},
	}

	props := tr.EventProperties()
	checks := map[string]any{
		"$ai_trace_id":      "trace-1",
		"$ai_generation_id": "gen-1",
		"$ai_model":         "google/gemini-2.5-flash",
		"$ai_output":        "a lot",
		"$ai_total_tokens":  120,
		"$ai_latency":       1.5,
		"$ai_span_name":     "repo_pr_summary_octo_widgets",
		"$ai_session_id":    "session-1",
		"tool_calls_made":   3,
		"item_type":         "Issues",
		"success":           true,
	}
	for k, want := range checks {
		if props[k] != want {
			t.Errorf("%s = %v, want %v", k, props[k], want)
		}
	}
	if _, ok := props["$ai_error"]; ok {
		t.Error("successful trace should not carry $ai_error")
	}

	failed := Trace{Error: "AI API error: 500"}.EventProperties()
	if failed["$ai_error"] != "AI API error: 500" || failed["$ai_is_error"] != true {
		t.Errorf("error properties missing: %v", failed)
	}
}

func TestEmitter_DeliversTraces(t *testing.T) {
	sink := &fakeSink{}
	e := NewEmitter(sink, 8)

	e.Emit(Trace{TraceID: "a", DistinctID: "user-1"})
	e.Emit(Trace{TraceID: "b"})
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	msgs := sink.captured()
	if len(msgs) != 2 {
		t.Fatalf("captured %d events, want 2", len(msgs))
	}
	if msgs[0].Event != EventName || msgs[0].DistinctId != "user-1" {
		t.Errorf("unexpected first event: %+v", msgs[0])
	}
	if msgs[1].DistinctId != AnonymousID {
		t.Errorf("missing distinct id should become %q, got %q", AnonymousID, msgs[1].DistinctId)
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("timestamp should be filled in")
	}
	if !sink.closed.Load() {
		t.Error("sink should be closed")
	}
	if e.Sent() != 2 {
		t.Errorf("Sent() = %d, want 2", e.Sent())
	}
}

func TestEmitter_DropsWhenQueueFull(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	e := NewEmitter(sink, 1)

	// first is taken by the blocked worker, second fills the queue
	e.Emit(Trace{TraceID: "1"})
	deadline := time.Now().Add(time.Second)
	for len(e.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	e.Emit(Trace{TraceID: "2"})

	start := time.Now()
	e.Emit(Trace{TraceID: "3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Emit blocked on a full queue")
	}
	if e.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", e.Dropped())
	}

	close(sink.block)
	e.Close()
	if len(sink.captured()) != 2 {
		t.Errorf("captured %d, want 2", len(sink.captured()))
	}
}

func TestEmitter_SwallowsSinkFailures(t *testing.T) {
	sink := &fakeSink{err: errors.New("network down")}
	e := NewEmitter(sink, 4)
	e.Emit(Trace{TraceID: "x"})
	e.Close()
	if e.Sent() != 0 {
		t.Errorf("failed capture counted as sent")
	}

	panicky := &fakeSink{panicMsg: "boom"}
	e2 := NewEmitter(panicky, 4)
	e2.Emit(Trace{TraceID: "y"})
	e2.Emit(Trace{TraceID: "z"})
	if err := e2.Close(); err != nil {
		t.Errorf("Close() after panics = %v", err)
	}
}

func TestEmitter_EmitAfterCloseIsIgnored(t *testing.T) {
	sink := &fakeSink{}
	e := NewEmitter(sink, 4)
	e.Close()
	e.Emit(Trace{TraceID: "late"})
	if err := e.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if len(sink.captured()) != 0 {
		t.Error("trace emitted after Close should be ignored")
	}
}

func TestPostHogEmitter_PostsBatch(t *testing.T) {
	var hits atomic.Int32
	var sawEvent atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), EventName) {
			sawEvent.Store(true)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":1}`))
	}))
	defer server.Close()

	e, err := NewPostHogEmitter(Config{APIKey: "phc_test", Host: server.URL})
	if err != nil {
		t.Fatalf("NewPostHogEmitter() error = %v", err)
	}
	e.Emit(Trace{TraceID: "t1", DistinctID: "user", Model: "m", Success: true})
	e.Close()

	if hits.Load() == 0 || !sawEvent.Load() {
		t.Errorf("expected the event to be posted (hits=%d)", hits.Load())
	}
}

func TestRecorderAndNop(t *testing.T) {
	var emitters []Emitter = []Emitter{Nop{}, &Recorder{}}
	for _, em := range emitters {
		em.Emit(Trace{TraceID: "r"})
	}
	rec := emitters[1].(*Recorder)
	if len(rec.Traces()) != 1 || rec.Traces()[0].TraceID != "r" {
		t.Errorf("Recorder traces = %+v", rec.Traces())
	}
}
