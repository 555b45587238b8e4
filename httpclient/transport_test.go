package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Method", r.Method)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestExecute_JSONRoundTrip(t *testing.T) {
	server := echoServer(t)
	req := NewRequest(server.URL, WithMethod("POST"), WithBody(map[string]any{
		"userId": 1,
		"title":  "Where should I go",
	}))
	resp, err := Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, ok := resp.Body.(map[string]any)
	if !ok {
		t.Fatalf("expected structured body, got %T", resp.Body)
	}
	if body["title"] != "Where should I go" || body["userId"] != 1.0 {
		t.Errorf("unexpected body %v", body)
	}
	if resp.Status != 200 || resp.StatusText != "OK" {
		t.Errorf("unexpected status %d %q", resp.Status, resp.StatusText)
	}
	if resp.Headers["X-Method"] != "POST" {
		t.Errorf("expected flattened response headers, got %v", resp.Headers)
	}
	if req.ReadyState() != Done {
		t.Errorf("expected ready state done, got %v", req.ReadyState())
	}
}

func TestExecute_InvalidJSONIsAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	resp, err := Execute(context.Background(), NewRequest(server.URL))
	if err != nil {
		t.Fatalf("expected the call to resolve on status alone, got %v", err)
	}
	if !IsAbsent(resp.Body) {
		t.Errorf("expected Absent body, got %v", resp.Body)
	}
}

func TestExecute_AbortedRequestNeverSent(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	req := NewRequest(server.URL)
	req.Abort()
	_, err := Execute(context.Background(), req)
	resp, ok := AsResponse(err)
	if !ok {
		t.Fatalf("expected response-shaped rejection, got %v", err)
	}
	if resp.Status != 0 || len(resp.Headers) != 0 || !IsAbsent(resp.Body) {
		t.Errorf("unexpected cancellation response %+v", resp)
	}
	if req.ReadyState() != Done {
		t.Errorf("expected ready state done, got %v", req.ReadyState())
	}
	if !IsAborted(err) {
		t.Errorf("expected IsAborted, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("expected no network call, got %d", hits.Load())
	}
}

func TestExecute_ErrorStatusRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"missing"}`))
	}))
	defer server.Close()

	_, err := Execute(context.Background(), NewRequest(server.URL))
	resp, ok := AsResponse(err)
	if !ok {
		t.Fatalf("expected response-shaped rejection, got %v", err)
	}
	if resp.Status != 404 || resp.StatusText != "Not Found" {
		t.Errorf("unexpected status %d %q", resp.Status, resp.StatusText)
	}
	if resp.Body.(map[string]any)["error"] != "missing" {
		t.Errorf("expected parsed error body, got %v", resp.Body)
	}
}

func TestExecute_RequestHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	req := NewRequest(server.URL, WithHeaders(Headers{"X-Custom": "test-value"}))
	if _, err := Execute(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Get("Accept") != "application/json" {
		t.Errorf("expected Accept application/json, got %q", got.Get("Accept"))
	}
	if got.Get("Content-Type") != DefaultContentType {
		t.Errorf("expected default content type, got %q", got.Get("Content-Type"))
	}
	if got.Get("X-Custom") != "test-value" {
		t.Errorf("expected custom header, got %q", got.Get("X-Custom"))
	}
}

func TestExecute_TextAndBinaryModes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=iso-8859-1")
		_, _ = w.Write([]byte{'c', 'a', 'f', 0xe9})
	}))
	defer server.Close()

	resp, err := Execute(context.Background(), NewRequest(server.URL, WithResponseType(ResponseText)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "café" {
		t.Errorf("expected charset decoded text, got %q", resp.Body)
	}

	resp, err = Execute(context.Background(), NewRequest(server.URL, WithResponseType(ResponseBinary)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(resp.Body.([]byte), []byte{'c', 'a', 'f', 0xe9}) {
		t.Errorf("expected raw bytes, got %v", resp.Body)
	}
}

func TestExecute_Decompression(t *testing.T) {
	payload := []byte(`{"compressed":true}`)
	tests := []struct {
		encoding string
		compress func(io.Writer) io.WriteCloser
	}{
		{encoding: "gzip", compress: func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }},
		{encoding: "br", compress: func(w io.Writer) io.WriteCloser { return brotli.NewWriter(w) }},
	}
	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			var acceptEncoding string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				acceptEncoding = r.Header.Get("Accept-Encoding")
				w.Header().Set("Content-Encoding", tt.encoding)
				cw := tt.compress(w)
				_, _ = cw.Write(payload)
				_ = cw.Close()
			}))
			defer server.Close()

			resp, err := Execute(context.Background(), NewRequest(server.URL))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Body.(map[string]any)["compressed"] != true {
				t.Errorf("expected decoded body, got %v", resp.Body)
			}
			if acceptEncoding != "gzip, deflate, br" {
				t.Errorf("unexpected Accept-Encoding %q", acceptEncoding)
			}
		})
	}
}

func TestExecute_MaxBodySize(t *testing.T) {
	plain := bytes.Repeat([]byte("a"), 10000)
	var zipped bytes.Buffer
	zw := gzip.NewWriter(&zipped)
	_, _ = zw.Write(bytes.Repeat([]byte("a"), 1<<20))
	_ = zw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
		max      int64
		wantErr  bool
	}{
		{name: "within limit", body: plain, max: 10000},
		{name: "over limit", body: plain, max: 100, wantErr: true},
		{name: "compressed expands over limit", encoding: "gzip", body: zipped.Bytes(), max: 4096, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write(tt.body)
			}))
			defer server.Close()

			transport := NewTransport(TransportOptions{MaxBodySize: tt.max})
			resp, err := transport(context.Background(), NewRequest(server.URL, WithResponseType(ResponseText)))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got := len(resp.Body.(string)); got != len(tt.body) {
					t.Errorf("expected %d bytes, got %d", len(tt.body), got)
				}
				return
			}
			if !errors.Is(err, ErrBodyTooLarge) {
				t.Fatalf("expected ErrBodyTooLarge, got %v", err)
			}
			if StatusOf(err) != http.StatusOK {
				t.Errorf("expected the real status 200, got %d", StatusOf(err))
			}
		})
	}
}

func TestExecute_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	req := NewRequest(server.URL, WithTimeout(20*time.Millisecond))
	_, err := Execute(context.Background(), req)
	if StatusOf(err) != 0 {
		t.Fatalf("expected status 0 rejection, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded cause, got %v", err)
	}
}

func TestExecute_ContextCancelled(t *testing.T) {
	server := echoServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Execute(ctx, NewRequest(server.URL))
	if StatusOf(err) != 0 || !errors.Is(err, context.Canceled) {
		t.Errorf("expected status 0 cancellation, got %v", err)
	}
}

func TestExecute_UploadProgress(t *testing.T) {
	server := echoServer(t)
	var started bool
	var lastSent, lastTotal int64
	req := NewRequest(server.URL,
		WithMethod("PUT"),
		WithContentType("text/plain"),
		WithResponseType(ResponseText),
		WithBody("0123456789"),
		WithUpload(&UploadHooks{
			OnLoadStart: func() { started = true },
			OnProgress:  func(sent, total int64) { lastSent, lastTotal = sent, total },
		}),
	)
	resp, err := Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "0123456789" {
		t.Errorf("unexpected echo %v", resp.Body)
	}
	if !started || lastSent != 10 || lastTotal != 10 {
		t.Errorf("expected progress to reach 10/10, started=%v sent=%d total=%d", started, lastSent, lastTotal)
	}
}

func TestExecute_FormBody(t *testing.T) {
	server := echoServer(t)
	req := NewRequest(server.URL,
		WithMethod("POST"),
		WithContentType("application/x-www-form-urlencoded"),
		WithResponseType(ResponseText),
		WithBody(url.Values{"name": {"auDD"}}),
	)
	resp, err := Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "name=auDD" {
		t.Errorf("expected form encoding, got %v", resp.Body)
	}
}

func TestExecute_UnsupportedBody(t *testing.T) {
	req := NewRequest("http://127.0.0.1:1", WithContentType("text/plain"), WithBody(struct{ A int }{1}))
	_, err := Execute(context.Background(), req)
	if !errors.Is(err, ErrUnsupportedBody) || StatusOf(err) != 0 {
		t.Errorf("expected ErrUnsupportedBody status 0 rejection, got %v", err)
	}
}

func TestExecute_Credentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			_, _ = w.Write([]byte(`"` + c.Value + `"`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte(`"none"`))
	}))
	defer server.Close()

	transport := NewTransport(TransportOptions{})
	ctx := context.Background()

	if _, err := transport(ctx, NewRequest(server.URL, WithCredentials(true))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := transport(ctx, NewRequest(server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "none" {
		t.Errorf("expected no cookie without credentials, got %v", resp.Body)
	}
	resp, err = transport(ctx, NewRequest(server.URL, WithCredentials(true)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body != "abc" {
		t.Errorf("expected stored cookie to be sent, got %v", resp.Body)
	}
}

func TestExecute_ThroughClient(t *testing.T) {
	server := echoServer(t)
	c := New()
	c.AddFilter(FilterFunc(func(ctx context.Context, req *Request, next FilterChain) (*Response, error) {
		req.Body.(map[string]any)["stamped"] = true
		resp, err := next.Advance(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.SetProperty("seen", true), nil
	}), "stamp", nil)

	resp, err := CallForResponse[map[string]any](context.Background(), c,
		NewRequest(server.URL, WithMethod("POST"), WithBody(map[string]any{"a": "b"})))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Body["stamped"] != true || resp.Body["a"] != "b" {
		t.Errorf("unexpected body %v", resp.Body)
	}
	if resp.Property("seen") != true {
		t.Error("expected response annotation")
	}
}
