// Package tracing wraps the rest of the filter chain in an OpenTelemetry
// client span and propagates the trace context in request headers.
package tracing

import (
	"context"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/httpfilter/filters"
	"github.com/lsm/httpfilter/filters/correlation"
	"github.com/lsm/httpfilter/filters/retry"
	"github.com/lsm/httpfilter/httpclient"
)

const instrumentationName = "github.com/lsm/httpfilter/filters/tracing"

// Attribute keys.
const (
	AttrHTTPMethod    = "http.request.method"
	AttrHTTPStatus    = "http.response.status_code"
	AttrURLFull       = "url.full"
	AttrServerAddress = "server.address"
	AttrTargetName    = "httpfilter.target"
	AttrCorrelationID = "httpfilter.correlation_id"
	AttrAttempt       = "httpfilter.attempt"
	AttrErrorType     = "error.type"
)

// HeaderCarrier adapts request headers to a propagation.TextMapCarrier.
type HeaderCarrier httpclient.Headers

func (c HeaderCarrier) Get(key string) string { return c[key] }
func (c HeaderCarrier) Set(key, value string) { c[key] = value }
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectTraceContext writes the trace context of ctx into req's headers.
func InjectTraceContext(ctx context.Context, propagator propagation.TextMapPropagator, req *httpclient.Request) {
	if req.Headers == nil {
		req.Headers = httpclient.Headers{}
	}
	propagator.Inject(ctx, HeaderCarrier(req.Headers))
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Option configures a Filter.
type Option func(*Filter)

// WithTracer sets the tracer. The default comes from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(f *Filter) {
		if tracer != nil {
			f.tracer = tracer
		}
	}
}

// WithPropagator sets the propagator. The default is the global one.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(f *Filter) {
		if p != nil {
			f.propagator = p
		}
	}
}

// Filter starts a client span per call, which every later filter and the
// transport run inside of. Rejections mark the span as failed.
type Filter struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// New creates a tracing filter.
func New(opts ...Option) *Filter {
	f := &Filter{
		tracer:     otel.Tracer(instrumentationName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, req.Method),
		attribute.String(AttrURLFull, req.URL()),
		attribute.String(AttrTargetName, filters.Target(req)),
	}
	if u, err := url.Parse(req.URL()); err == nil {
		attrs = append(attrs, attribute.String(AttrServerAddress, u.Hostname()))
	}
	if id, ok := req.Property(correlation.Property).(string); ok {
		attrs = append(attrs, attribute.String(AttrCorrelationID, id))
	}
	if n, ok := req.Property(retry.AttemptProperty).(int); ok {
		attrs = append(attrs, attribute.Int(AttrAttempt, n))
	}

	ctx, span := f.tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	InjectTraceContext(ctx, f.propagator, req)

	resp, err := next.Advance(ctx, req)
	if err != nil {
		if status := httpclient.StatusOf(err); status >= 0 {
			span.SetAttributes(attribute.Int(AttrHTTPStatus, status))
		}
		span.SetAttributes(attribute.String(AttrErrorType, errorType(err)))
		SetSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(AttrHTTPStatus, resp.Status))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func errorType(err error) string {
	switch {
	case httpclient.IsAborted(err):
		return "aborted"
	case httpclient.StatusOf(err) == 0:
		return "network"
	case httpclient.StatusOf(err) > 0:
		return "http"
	default:
		return "filter"
	}
}
