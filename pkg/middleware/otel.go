package middleware

import (
	"context"
	"fmt"
	"sync"

	"github.com/vango-dev/lx/pkg/lx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for lx instrumentation.
const defaultTracerName = "github.com/vango-dev/lx"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: the module path).
	TracerName string

	// TracerProvider supplies the tracer. Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// IncludeValues records old and new values on write events.
	// Values may contain sensitive information - disabled by default.
	IncludeValues bool

	// Filter determines which batches to trace.
	// Return true to trace the batch, false to skip.
	// If nil, all batches are traced.
	Filter func(info lx.BatchInfo) bool
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeValues enables recording written values.
func WithIncludeValues(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeValues = include
	}
}

// WithBatchFilter sets a filter function for batches.
func WithBatchFilter(filter func(info lx.BatchInfo) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{TracerName: defaultTracerName}
}

// OpenTelemetry creates middleware that traces batches and writes.
//
// The middleware:
//   - Starts a span per batch, ended after the batch has flushed
//   - Adds a "lx.write" event to the batch span for every write inside it
//   - Wraps writes outside any batch in their own short span
//   - Records derivation and listener failures as error spans
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	lx.DefaultPipeline().Use(middleware.OpenTelemetry(
//	    middleware.WithTracerProvider(tp),
//	))
func OpenTelemetry(opts ...OTelOption) lx.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	t := &tracing{config: config, tracer: tp.Tracer(config.TracerName)}

	return lx.Middleware{
		Name:         "otel",
		WrapWrite:    t.wrapWrite,
		OnBatchStart: t.batchStart,
		OnBatchEnd:   t.batchEnd,
		OnError:      t.reportError,
	}
}

type tracing struct {
	config OTelConfig
	tracer trace.Tracer
	spans  sync.Map // batch id -> trace.Span
}

func (t *tracing) batchStart(info lx.BatchInfo) {
	if t.config.Filter != nil && !t.config.Filter(info) {
		return
	}
	_, span := t.tracer.Start(context.Background(), "lx.batch "+batchLabel(info),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int64("lx.batch.id", int64(info.ID)),
			attribute.String("lx.batch.name", info.Name),
			attribute.Bool("lx.batch.async", info.Async),
		),
	)
	t.spans.Store(info.ID, span)
}

func (t *tracing) batchEnd(info lx.BatchInfo, err error) {
	v, ok := t.spans.LoadAndDelete(info.ID)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.Int("lx.batch.size", info.Size))
	finish(span, err)
}

func (t *tracing) wrapWrite(next lx.WriteFunc) lx.WriteFunc {
	return func(ev *lx.WriteEvent) error {
		if ev.BatchID != 0 {
			if v, ok := t.spans.Load(ev.BatchID); ok {
				err := next(ev)
				attrs := t.writeAttributes(ev)
				if err != nil {
					attrs = append(attrs, attribute.String("lx.error", err.Error()))
				}
				v.(trace.Span).AddEvent("lx.write", trace.WithAttributes(attrs...))
				return err
			}
			return next(ev)
		}

		_, span := t.tracer.Start(context.Background(), "lx.write "+ev.Node.String(),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		err := next(ev)
		span.SetAttributes(t.writeAttributes(ev)...)
		finish(span, err)
		return err
	}
}

func (t *tracing) reportError(ev lx.ErrorEvent) {
	_, span := t.tracer.Start(context.Background(), "lx.error "+ev.Node.String(),
		trace.WithAttributes(nodeAttributes(ev.Node)...),
	)
	if len(ev.Trace) > 0 {
		span.SetAttributes(attribute.String("exception.stacktrace", string(ev.Trace)))
	}
	finish(span, ev.Err)
}

func (t *tracing) writeAttributes(ev *lx.WriteEvent) []attribute.KeyValue {
	attrs := nodeAttributes(ev.Node)
	if t.config.IncludeValues {
		attrs = append(attrs,
			attribute.String("lx.old", fmt.Sprintf("%v", ev.Old)),
			attribute.String("lx.new", fmt.Sprintf("%v", ev.New)),
		)
	}
	return attrs
}

func nodeAttributes(info lx.NodeInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("lx.node.id", int64(info.ID)),
		attribute.String("lx.node.kind", info.Kind.String()),
	}
	if info.Name != "" {
		attrs = append(attrs, attribute.String("lx.node.name", info.Name))
	}
	if info.OwnerID != "" {
		attrs = append(attrs, attribute.String("lx.node.owner", info.OwnerID))
	}
	return attrs
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
