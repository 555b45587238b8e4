package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/lsm/httpfilter/filters/correlation"
	"github.com/lsm/httpfilter/filters/retry"
	"github.com/lsm/httpfilter/httpclient"
)

func newFilter(t *testing.T) (*Filter, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return New(WithTracer(tp.Tracer("test")), WithPropagator(propagation.TraceContext{})), sr
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestFilter_RecordsClientSpanAndInjectsContext(t *testing.T) {
	f, sr := newFilter(t)
	var inner trace.SpanContext
	next := httpclient.ChainFunc(func(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		inner = trace.SpanContextFromContext(ctx)
		return httpclient.NewResponse(req, 201, "Created", nil, nil), nil
	})
	req := httpclient.NewRequest("https://api.example.com/todos", httpclient.WithMethod("POST"))
	if _, err := f.DoFilter(context.Background(), req, next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "HTTP POST" || span.SpanKind() != trace.SpanKindClient {
		t.Errorf("unexpected span %s %v", span.Name(), span.SpanKind())
	}
	if attr(span, AttrHTTPStatus).AsInt64() != 201 || attr(span, AttrServerAddress).AsString() != "api.example.com" {
		t.Errorf("unexpected attributes %v", span.Attributes())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("expected Ok status, got %v", span.Status())
	}
	if inner.SpanID() != span.SpanContext().SpanID() {
		t.Error("expected the rest of the chain to run inside the span")
	}
	tp := req.Headers["traceparent"]
	if !strings.Contains(tp, span.SpanContext().TraceID().String()) {
		t.Errorf("expected traceparent with the span's trace id, got %q", tp)
	}
}

func TestFilter_RejectionMarksSpan(t *testing.T) {
	tests := []struct {
		name     string
		err      func(req *httpclient.Request) error
		wantType string
	}{
		{"http", func(req *httpclient.Request) error {
			return httpclient.Reject(httpclient.NewResponse(req, 503, "", nil, nil), nil)
		}, "http"},
		{"network", func(req *httpclient.Request) error {
			return httpclient.Reject(httpclient.NewResponse(req, 0, "", nil, nil), errors.New("dial"))
		}, "network"},
		{"aborted", func(req *httpclient.Request) error {
			return httpclient.Reject(httpclient.NewResponse(req, 0, "", nil, nil), httpclient.ErrAborted)
		}, "aborted"},
		{"filter", func(*httpclient.Request) error { return errors.New("boom") }, "filter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, sr := newFilter(t)
			next := httpclient.ChainFunc(func(_ context.Context, req *httpclient.Request) (*httpclient.Response, error) {
				return nil, tt.err(req)
			})
			if _, err := f.DoFilter(context.Background(), httpclient.NewRequest("http://x"), next); err == nil {
				t.Fatal("expected error")
			}
			span := sr.Ended()[0]
			if span.Status().Code != codes.Error {
				t.Errorf("expected Error status, got %v", span.Status())
			}
			if got := attr(span, AttrErrorType).AsString(); got != tt.wantType {
				t.Errorf("expected error type %s, got %s", tt.wantType, got)
			}
		})
	}
}

func TestFilter_RecordsCorrelationAndAttempt(t *testing.T) {
	f, sr := newFilter(t)
	req := httpclient.NewRequest("https://api.example.com/todos")
	req.SetProperty(correlation.Property, "corr-42")
	req.SetProperty(retry.AttemptProperty, 2)
	next := httpclient.ChainFunc(func(_ context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		return httpclient.NewResponse(req, 200, "OK", nil, nil), nil
	})
	if _, err := f.DoFilter(context.Background(), req, next); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	span := sr.Ended()[0]
	if got := attr(span, AttrCorrelationID).AsString(); got != "corr-42" {
		t.Errorf("expected correlation id corr-42, got %q", got)
	}
	if got := attr(span, AttrAttempt).AsInt64(); got != 2 {
		t.Errorf("expected attempt 2, got %d", got)
	}
}
