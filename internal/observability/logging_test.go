package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lsm/httpfilter/httpclient"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-component", slog.LevelInfo)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	logger.Info("test message", "key", "value")
}

func TestReplaceLevel_Trace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: httpclient.LevelTrace, ReplaceAttr: replaceLevel}))
	logger.Log(context.Background(), httpclient.LevelTrace, "applying filter")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec["level"] != "TRACE" {
		t.Errorf("expected TRACE level label, got %v", rec["level"])
	}
}

func TestTraceLogger_AddsSpanContext(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTraceLogger(slog.New(slog.NewJSONHandler(&buf, nil))).With("filter", "logging")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "call")
	defer span.End()

	tl.Info(ctx, "request sent")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() || rec["filter"] != "logging" {
		t.Errorf("expected trace_id and filter attributes, got %v", rec)
	}

	buf.Reset()
	tl.Debug(ctx, "hidden")
	if buf.Len() != 0 {
		t.Errorf("expected debug to be filtered at info level, got %s", buf.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", httpclient.LevelTrace},
		{"TRACE", httpclient.LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.expected {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		flagLevel string
		envLevel  string
		expected  slog.Level
	}{
		{"flag takes precedence", "debug", "error", slog.LevelDebug},
		{"env used when flag empty", "", "warn", slog.LevelWarn},
		{"env trace", "", "trace", httpclient.LevelTrace},
		{"default when both empty", "", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HTTPFILTER_LOG_LEVEL", tt.envLevel)
			got := GetLogLevel(tt.flagLevel)
			if got != tt.expected {
				t.Errorf("GetLogLevel(%q) = %v, want %v (env=%q)", tt.flagLevel, got, tt.expected, tt.envLevel)
			}
		})
	}
}
