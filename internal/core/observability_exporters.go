package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// OperationStats aggregates the outcomes of one service operation.
type OperationStats struct {
	Success     int64   `json:"success"`
	Failure     int64   `json:"failure"`
	TotalTimeMS float64 `json:"total_time_ms"`
}

// ExpvarMetricsRecorder publishes per-operation aggregates via expvar, for
// deployments that prefer process-local metrics without an external scrape
// target.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  map[string]OperationStats
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder published
// under the supplied name. When name is empty a unique one is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("cipherflow_service_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: make(map[string]OperationStats)}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns a copy of the per-operation aggregates.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationStats, len(r.ops))
	for op, stats := range r.ops {
		out[op] = stats
	}
	return out
}

// Observe records a service operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	stats := r.ops[operation]
	if success {
		stats.Success++
	} else {
		stats.Failure++
	}
	stats.TotalTimeMS += float64(duration) / float64(time.Millisecond)
	r.ops[operation] = stats
	r.mu.Unlock()
}

// TraceEvent is one completed span emitted by JSONTraceTracer. A span failed
// when Err is non-empty.
type TraceEvent struct {
	Op        string    `json:"op"`
	Err       string    `json:"err,omitempty"`
	Begin     time.Time `json:"begin"`
	ElapsedMS float64   `json:"elapsed_ms"`
}

// Failed reports whether the span ended in error.
func (e TraceEvent) Failed() bool { return e.Err != "" }

// JSONTraceTracer serializes completed spans as JSON lines and retains them
// for inspection.
type JSONTraceTracer struct {
	mu     sync.Mutex
	events []TraceEvent
	enc    *json.Encoder
}

// NewJSONTracer constructs a tracer writing spans to w; a nil writer retains
// spans in memory only.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Events returns a copy of all completed spans.
func (t *JSONTraceTracer) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Start implements the Tracer interface.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, op: operation, begin: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer *JSONTraceTracer
	op     string
	begin  time.Time
}

func (s *jsonTraceSpan) End(err error) {
	event := TraceEvent{
		Op:        s.op,
		Begin:     s.begin,
		ElapsedMS: float64(time.Since(s.begin)) / float64(time.Millisecond),
	}
	if err != nil {
		event.Err = err.Error()
	}
	s.tracer.mu.Lock()
	s.tracer.events = append(s.tracer.events, event)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(event)
	}
	s.tracer.mu.Unlock()
}
