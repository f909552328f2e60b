package core

import (
	"context"
	"log"
	"time"
)

// Logger is the minimal logging surface the service depends on.
type Logger interface {
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

// MetricsRecorder aggregates operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a started span.
type TraceSpan interface {
	End(err error)
}

// StdLogger adapts a standard library logger to the Logger interface.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger wraps l; a nil logger falls back to log.Default.
func NewStdLogger(l *log.Logger) StdLogger {
	if l == nil {
		l = log.Default()
	}
	return StdLogger{l: l}
}

// Infof logs at info level.
func (s StdLogger) Infof(format string, args ...any) {
	s.l.Printf("INFO "+format, args...)
}

// Errorf logs at error level.
func (s StdLogger) Errorf(format string, args ...any) {
	s.l.Printf("ERROR "+format, args...)
}

type noopLogger struct{}

func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}
