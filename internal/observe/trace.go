package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Vocalis tracer.
const tracerName = "github.com/andresmejia3/vocalis"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// InitTracing registers a global TracerProvider. When exporter is nil, spans
// are recorded but not exported. The returned function flushes and shuts down
// the provider.
func InitTracing(exporter sdktrace.SpanExporter) func(context.Context) error {
	var opts []sdktrace.TracerProviderOption
	if exporter != nil {
		opts = append(opts, sdktrace.WithSyncer(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// LogExporter writes each finished span to a logger at debug level.
type LogExporter struct {
	log *slog.Logger
}

// NewLogExporter returns an exporter that logs through log (slog.Default when nil).
func NewLogExporter(log *slog.Logger) *LogExporter {
	if log == nil {
		log = slog.Default()
	}
	return &LogExporter{log: log}
}

// ExportSpans implements [sdktrace.SpanExporter].
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []any{
			"span", s.Name(),
			"took", s.EndTime().Sub(s.StartTime()),
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		if s.Status().Description != "" {
			attrs = append(attrs, "status", s.Status().Description)
		}
		e.log.DebugContext(ctx, "span finished", attrs...)
	}
	return nil
}

// Shutdown implements [sdktrace.SpanExporter].
func (e *LogExporter) Shutdown(context.Context) error { return nil }
