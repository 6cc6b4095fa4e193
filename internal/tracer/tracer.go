// Package tracer provides the tracing abstraction used by the connection and
// the eager loader, with an OpenTelemetry adapter.
package tracer

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is an in-flight tracing span.
type Span interface {
	SetAttributes(attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code codes.Code, description string)
	End()
}

// NoopTracer records nothing. It is the default.
type NoopTracer struct{}

// StartSpan returns ctx unchanged with a no-op span.
func (NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, NoopSpan{}
}

// NoopSpan does nothing.
type NoopSpan struct{}

// SetAttributes does nothing.
func (NoopSpan) SetAttributes(_ ...attribute.KeyValue) {}

// RecordError does nothing.
func (NoopSpan) RecordError(_ error) {}

// SetStatus does nothing.
func (NoopSpan) SetStatus(_ codes.Code, _ string) {}

// End does nothing.
func (NoopSpan) End() {}

// OtelTracer adapts an OpenTelemetry trace.Tracer.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer wraps tracer, which must not be nil.
func NewOtelTracer(tracer trace.Tracer) *OtelTracer {
	return &OtelTracer{tracer: tracer}
}

// StartSpan starts an OpenTelemetry span.
func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) SetAttributes(attrs ...attribute.KeyValue) { s.span.SetAttributes(attrs...) }
func (s otelSpan) RecordError(err error)                     { s.span.RecordError(err) }
func (s otelSpan) SetStatus(code codes.Code, desc string)    { s.span.SetStatus(code, desc) }
func (s otelSpan) End()                                      { s.span.End() }

// QueryMetadata describes one executed statement.
type QueryMetadata struct {
	SQL          string
	Duration     time.Duration
	RowsAffected int64
	Rows         int
	Error        error
	Database     string
	Operation    string
}

// AddQueryAttributes records statement attributes following the
// OpenTelemetry database semantic conventions.
func AddQueryAttributes(span Span, meta *QueryMetadata) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", meta.Database),
		attribute.String("db.statement", meta.SQL),
		attribute.String("db.operation", meta.Operation),
		attribute.Float64("db.duration_ms", float64(meta.Duration.Microseconds())/1000.0),
	}
	if meta.RowsAffected > 0 {
		attrs = append(attrs, attribute.Int64("db.rows_affected", meta.RowsAffected))
	}
	if meta.Rows > 0 {
		attrs = append(attrs, attribute.Int("db.rows_returned", meta.Rows))
	}
	span.SetAttributes(attrs...)
	finish(span, meta.Error)
}

// RelationMetadata describes one eager-load step.
type RelationMetadata struct {
	Model    string
	Relation string
	Kind     string
	Parents  int
	Children int
	Error    error
}

// AddRelationAttributes records an eager-load step on span.
func AddRelationAttributes(span Span, meta *RelationMetadata) {
	span.SetAttributes(
		attribute.String("orm.model", meta.Model),
		attribute.String("orm.relation", meta.Relation),
		attribute.String("orm.relation.kind", meta.Kind),
		attribute.Int("orm.parents", meta.Parents),
		attribute.Int("orm.children", meta.Children),
	)
	finish(span, meta.Error)
}

func finish(span Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// DetectOperation returns SELECT, INSERT, UPDATE, DELETE or UNKNOWN.
func DetectOperation(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case strings.HasPrefix(sql, "SELECT"), strings.HasPrefix(sql, "WITH"):
		return "SELECT"
	case strings.HasPrefix(sql, "INSERT"):
		return "INSERT"
	case strings.HasPrefix(sql, "UPDATE"):
		return "UPDATE"
	case strings.HasPrefix(sql, "DELETE"):
		return "DELETE"
	}
	return "UNKNOWN"
}
