package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Transport performs the network exchange at the end of a chain. It resolves
// with a Response for statuses 200-399 and rejects with a *ResponseError
// otherwise, including status 0 when nothing reached the network.
type Transport func(ctx context.Context, req *Request) (*Response, error)

// DefaultMaxBodySize caps how much of a response body is read.
const DefaultMaxBodySize int64 = 64 << 20

// TransportOptions configures NewTransport.
type TransportOptions struct {
	// Client performs the exchange. Defaults to an otelhttp instrumented client.
	// Its Jar is not used; cookies go through Jar below.
	Client *http.Client
	// Jar stores cookies for requests with WithCredentials set.
	// Defaults to an in-memory jar.
	Jar http.CookieJar
	// MaxBodySize caps the decoded response body. A longer body rejects with
	// ErrBodyTooLarge. Defaults to DefaultMaxBodySize.
	MaxBodySize int64
	// CharsetDetectDisabled keeps text bodies as received instead of decoding them to UTF-8.
	CharsetDetectDisabled bool
	Logger                *slog.Logger
}

type httpTransport struct {
	client                *http.Client
	jar                   http.CookieJar
	maxBodySize           int64
	charsetDetectDisabled bool
	logger                *slog.Logger
}

// NewTransport returns a Transport backed by net/http.
func NewTransport(opts TransportOptions) Transport {
	t := &httpTransport{
		client:                opts.Client,
		jar:                   opts.Jar,
		maxBodySize:           opts.MaxBodySize,
		charsetDetectDisabled: opts.CharsetDetectDisabled,
		logger:                opts.Logger,
	}
	if t.client == nil {
		t.client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if t.jar == nil {
		// cookiejar.New only fails on a bad public suffix list; none is given.
		t.jar, _ = cookiejar.New(nil)
	}
	if t.maxBodySize <= 0 {
		t.maxBodySize = DefaultMaxBodySize
	}
	if t.logger == nil {
		t.logger = discardLogger
	}
	return t.roundTrip
}

var defaultTransport = sync.OnceValue(func() Transport {
	return NewTransport(TransportOptions{})
})

// Execute is the default Transport.
func Execute(ctx context.Context, req *Request) (*Response, error) {
	return defaultTransport()(ctx, req)
}

func (t *httpTransport) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.Aborted() {
		req.SetReadyState(Done)
		return nil, Reject(NewResponse(req, 0, "", nil, Absent), ErrAborted)
	}

	var traceMessage string
	if t.logger.Enabled(ctx, LevelTrace) {
		traceMessage = describe(req)
	}

	body, length, err := encodeBody(req)
	if err != nil {
		req.SetReadyState(Done)
		return nil, Reject(NewResponse(req, 0, "", nil, Absent), err)
	}
	if body != nil && req.Upload != nil {
		body = &progressReader{r: body, total: length, hooks: req.Upload}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL(), body)
	if err != nil {
		req.SetReadyState(Done)
		return nil, Reject(NewResponse(req, 0, "", nil, Absent), fmt.Errorf("create request: %w", err))
	}
	if body != nil && length >= 0 {
		httpReq.ContentLength = length
	}
	t.prepareHeaders(httpReq, req)

	req.SetReadyState(Opened)
	start := time.Now()
	res, err := t.client.Do(httpReq)
	if err != nil {
		req.SetReadyState(Done)
		t.logger.Log(ctx, LevelTrace, "0 "+traceMessage, "error", err)
		return nil, Reject(NewResponse(req, 0, "", nil, Absent), err)
	}
	defer func() { _ = res.Body.Close() }()

	req.SetReadyState(HeadersReceived)
	if req.WithCredentials {
		t.jar.SetCookies(res.Request.URL, res.Cookies())
	}
	headers := flattenHeaders(res.Header)
	text := statusText(res)

	req.SetReadyState(Loading)
	raw, err := t.readBody(res)
	req.SetReadyState(Done)
	t.logger.Log(ctx, LevelTrace, strconv.Itoa(res.StatusCode)+" "+traceMessage,
		"latency_ms", time.Since(start).Milliseconds())
	if err != nil {
		return nil, Reject(NewResponse(req, res.StatusCode, text, headers, Absent), fmt.Errorf("read body: %w", err))
	}

	resp := NewResponse(req, res.StatusCode, text, headers, t.interpret(ctx, req, res, raw))
	if !resp.Succeeded() {
		return nil, Reject(resp, nil)
	}
	return resp, nil
}

func (t *httpTransport) prepareHeaders(httpReq *http.Request, req *Request) {
	if req.ResponseType == ResponseJSON {
		httpReq.Header.Set("Accept", "application/json")
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}
	if req.WithCredentials {
		for _, c := range t.jar.Cookies(httpReq.URL) {
			httpReq.AddCookie(c)
		}
	}
}

// encodeBody turns the request body into a reader. The length is -1 when unknown.
func encodeBody(req *Request) (io.Reader, int64, error) {
	var data []byte
	switch b := req.Body.(type) {
	case nil:
		return nil, 0, nil
	case string:
		data = []byte(b)
	case []byte:
		data = b
	case url.Values:
		data = []byte(b.Encode())
	case io.Reader:
		if l, ok := b.(interface{ Len() int }); ok {
			return b, int64(l.Len()), nil
		}
		return b, -1, nil
	default:
		if !isJSONContentType(req.ContentType) {
			return nil, 0, fmt.Errorf("%w: %T with content type %q", ErrUnsupportedBody, b, req.ContentType)
		}
		var err error
		if data, err = json.Marshal(b); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrUnsupportedBody, err)
		}
	}
	if len(data) == 0 {
		return nil, 0, nil
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func flattenHeaders(h http.Header) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func statusText(res *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return text
}

// describe renders "METHOD URL --> body" for trace output.
func describe(req *Request) string {
	msg := req.Method + " " + req.URL()
	switch b := req.Body.(type) {
	case nil, []byte, io.Reader:
	case string:
		if b != "" {
			msg += " --> " + b
		}
	case url.Values:
		msg += " --> " + b.Encode()
	default:
		if data, err := json.Marshal(b); err == nil {
			msg += " --> " + string(data)
		}
	}
	return msg
}

type progressReader struct {
	r       io.Reader
	sent    int64
	total   int64
	started bool
	hooks   *UploadHooks
}

func (p *progressReader) Read(b []byte) (int, error) {
	if !p.started {
		p.started = true
		if p.hooks.OnLoadStart != nil {
			p.hooks.OnLoadStart()
		}
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.hooks.OnProgress != nil {
			p.hooks.OnProgress(p.sent, p.total)
		}
	}
	return n, err
}
