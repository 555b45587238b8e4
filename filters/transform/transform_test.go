package transform

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/lsm/httpfilter/httpclient"
)

func respond(body any) httpclient.FilterChain {
	return httpclient.ChainFunc(func(_ context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		return httpclient.NewResponse(req, 200, "OK", httpclient.Headers{"X-Total": "2"}, body), nil
	})
}

func echoBody(_ context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return httpclient.NewResponse(req, 200, "OK", nil, req.Body), nil
}

func TestNew_InvalidExpression(t *testing.T) {
	if _, err := New(Response, ">>>invalid<<<"); err == nil {
		t.Fatal("expected error for invalid expression")
	}
	if _, err := New("sideways", "body"); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}

func TestFilter_ResponseShaping(t *testing.T) {
	f, err := New(Response, `{"id": body.id, "title": body.title.upperAscii(), "status": status, "total": int(headers["X-Total"])}`)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	body := map[string]any{"id": 1.0, "title": "delectus", "extra": "dropped"}
	resp, err := f.DoFilter(context.Background(), httpclient.NewRequest("http://x"), respond(body))
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	out := resp.Body.(map[string]any)
	if out["id"] != 1.0 || out["title"] != "DELECTUS" || out["status"] != int64(200) || out["total"] != int64(2) {
		t.Errorf("unexpected output %v", out)
	}
	if _, exists := out["extra"]; exists {
		t.Error("expected 'extra' field to be absent")
	}
}

func TestFilter_RequestPhase(t *testing.T) {
	f, err := New(Request, `{"payload": body, "method": request.method}`)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	req := httpclient.NewRequest("http://x", httpclient.WithMethod("POST"), httpclient.WithBody(map[string]any{"a": 1}))
	resp, err := f.DoFilter(context.Background(), req, httpclient.ChainFunc(echoBody))
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	out := resp.Body.(map[string]any)
	if out["method"] != "POST" || out["payload"].(map[string]any)["a"] != int64(1) {
		t.Errorf("unexpected output %v", out)
	}
}

func TestFilter_AbsentBodyIsNull(t *testing.T) {
	f, _ := New(Response, `body == null ? "empty" : "full"`)
	resp, err := f.DoFilter(context.Background(), httpclient.NewRequest("http://x"), respond(httpclient.Absent))
	if err != nil || resp.Body != "empty" {
		t.Errorf("expected empty, got %v %v", resp, err)
	}
}

func TestFilter_EvalErrorRejects(t *testing.T) {
	f, _ := New(Response, `body.missing.deeper`)
	_, err := f.DoFilter(context.Background(), httpclient.NewRequest("http://x"), respond(map[string]any{}))
	if httpclient.StatusOf(err) != 200 {
		t.Fatalf("expected a rejection carrying the original response, got %v", err)
	}

	f, _ = New(Request, `body.missing`)
	called := false
	next := httpclient.ChainFunc(func(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		called = true
		return echoBody(ctx, req)
	})
	_, err = f.DoFilter(context.Background(), httpclient.NewRequest("http://x", httpclient.WithBody(map[string]any{})), next)
	if httpclient.StatusOf(err) != 0 || called {
		t.Fatalf("expected a status 0 rejection before sending, got %v (called=%v)", err, called)
	}
}

func TestFilter_MaxOutputSize(t *testing.T) {
	f, _ := New(Response, `body`, WithMaxOutputBytes(5))
	if _, err := f.DoFilter(context.Background(), httpclient.NewRequest("http://x"), respond("far too long")); err == nil {
		t.Fatal("expected output size error")
	}
}

func TestFilter_CostLimit(t *testing.T) {
	expr := `[1, 2, 3, 4, 5, 6, 7, 8].map(x, [1, 2, 3, 4, 5, 6, 7, 8].map(y, x * y))`
	f, err := New(Response, expr, WithCostLimit(10))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	_, err = f.DoFilter(context.Background(), httpclient.NewRequest("http://x"), respond(nil))
	if err == nil || !strings.Contains(err.Error(), "cost") {
		t.Fatalf("expected a cost limit rejection, got %v", err)
	}

	f, _ = New(Response, expr)
	if _, err := f.DoFilter(context.Background(), httpclient.NewRequest("http://x"), respond(nil)); err != nil {
		t.Fatalf("expected the default limit to allow it, got %v", err)
	}
}

func TestFilter_ContextCancelled(t *testing.T) {
	f, _ := New(Request, `body`, WithTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.DoFilter(ctx, httpclient.NewRequest("http://x"), httpclient.ChainFunc(echoBody)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
