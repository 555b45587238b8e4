// Package correlation makes sure every outgoing request carries a
// correlation ID.
package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/lsm/httpfilter/httpclient"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"
	HeaderTraceparent   = "Traceparent"

	// Property is the request and response property holding the ID.
	Property = "correlation.id"
)

// ID is a correlation ID and where it came from.
type ID struct {
	Value  string
	Source string
}

type ctxKey struct{}

// WithID returns a context carrying id. The filter prefers it over anything
// found on the request.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID stored by WithID.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// ExtractOrGenerate extracts the correlation ID from headers or generates a
// new UUID. Header names match case-insensitively.
// Priority: header > X-Correlation-ID > X-Request-ID > traceparent > new UUID
func ExtractOrGenerate(headers httpclient.Headers, header string) ID {
	for _, name := range []string{header, HeaderCorrelationID, HeaderRequestID} {
		if id := lookup(headers, name); id != "" {
			return ID{Value: id, Source: name}
		}
	}
	if tp := lookup(headers, HeaderTraceparent); tp != "" {
		if traceID := extractTraceID(tp); traceID != "" {
			return ID{Value: traceID, Source: HeaderTraceparent}
		}
	}
	return ID{Value: uuid.New().String(), Source: "generated"}
}

func lookup(headers httpclient.Headers, name string) string {
	if name == "" {
		return ""
	}
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// extractTraceID parses W3C traceparent format: version-traceid-parentid-flags
func extractTraceID(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) >= 2 && len(parts[1]) == 32 {
		return parts[1]
	}
	return ""
}

// Filter stamps the correlation ID on the request header, and records it as
// a property of the request and of the response (or rejection).
type Filter struct {
	header string
}

// New creates a correlation filter writing header (default X-Correlation-ID).
func New(header string) *Filter {
	if header == "" {
		header = HeaderCorrelationID
	}
	return &Filter{header: header}
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	id, ok := FromContext(ctx)
	if !ok {
		id = ExtractOrGenerate(req.Headers, f.header).Value
	}
	req.AddHeader(f.header, id)
	req.SetProperty(Property, id)

	resp, err := next.Advance(WithID(ctx, id), req)
	if resp != nil {
		resp.SetProperty(Property, id)
	}
	if failed, ok := httpclient.AsResponse(err); ok {
		failed.SetProperty(Property, id)
	}
	return resp, err
}
