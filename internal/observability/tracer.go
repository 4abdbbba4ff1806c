// ABOUTME: Tracer capability interface with null-object and slog implementations.
// ABOUTME: Spans record an operation name, duration, and terminal error.

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Tracer starts spans around operations. Implementations must be safe for
// concurrent use.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span records the end of a traced operation.
type Span interface {
	End(err error)
}

// NopTracer is the null-object Tracer; substitute it wherever tracing is
// not configured.
type NopTracer struct{}

func (NopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

type nopSpan struct{}

func (nopSpan) End(error) {}

// LogTracer writes span lifecycles to a slog.Logger at debug level.
type LogTracer struct {
	logger *slog.Logger
}

// NewLogTracer creates a tracer that logs spans to the given logger.
func NewLogTracer(logger *slog.Logger) *LogTracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracer{logger: logger}
}

func (t *LogTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &logSpan{logger: t.logger, name: name, start: time.Now()}
}

type logSpan struct {
	logger *slog.Logger
	name   string
	start  time.Time
}

func (s *logSpan) End(err error) {
	attrs := []any{"span", s.name, "duration", time.Since(s.start)}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Debug("span complete", attrs...)
}
