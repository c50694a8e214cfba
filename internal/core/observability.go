package core

import (
	"context"
	"time"
)

// MetricsRecorder receives the outcome and duration of every project
// operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// WorkspaceObserver is implemented by recorders that also track the size of
// the workspace seen by the last enumeration.
type WorkspaceObserver interface {
	ObserveWorkspace(jobs, corrupt int)
}

// Tracer opens spans around project operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// observe runs fn inside a span and reports its outcome. Failures are logged
// once here so callers only wrap and return.
func (p *Project) observe(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, operation)
	err := fn(ctx)
	span.End(err)
	p.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	if err != nil {
		p.logger.ErrorContext(ctx, "operation failed", "operation", operation, "project", p.cfg.ProjectID, "error", err)
	}
	return err
}
