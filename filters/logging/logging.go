// Package logging writes one structured log record per call, tagged with
// the active trace and span IDs.
package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/lsm/httpfilter/httpclient"
	"github.com/lsm/httpfilter/internal/observability"
)

// Filter logs completed calls at Info and rejections at Warn. Request and
// response bodies are added at httpclient.LevelTrace.
type Filter struct {
	log *observability.TraceLogger
}

// New creates a logging filter. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{log: observability.NewTraceLogger(logger.With("filter", "logging"))}
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	if f.log.Enabled(ctx, httpclient.LevelTrace) {
		f.log.Log(ctx, httpclient.LevelTrace, "request body", "url", req.URL(), "body", render(req.Body))
	}

	start := time.Now()
	resp, err := next.Advance(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		attrs := []any{"method", req.Method, "url", req.URL(), "duration", elapsed, "error", err}
		if status := httpclient.StatusOf(err); status >= 0 {
			attrs = append(attrs, "status", status)
		}
		f.log.Warn(ctx, "request failed", attrs...)
		return nil, err
	}

	f.log.Info(ctx, "request completed",
		"method", req.Method,
		"url", req.URL(),
		"status", resp.Status,
		"duration", elapsed,
	)
	if f.log.Enabled(ctx, httpclient.LevelTrace) {
		f.log.Log(ctx, httpclient.LevelTrace, "response body", "url", req.URL(), "body", render(resp.Body))
	}
	return resp, nil
}

func render(body any) string {
	switch b := body.(type) {
	case nil:
		return ""
	case string:
		return b
	case []byte:
		return string(b)
	}
	if httpclient.IsAbsent(body) {
		return "<absent>"
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "<unprintable>"
	}
	return string(data)
}
