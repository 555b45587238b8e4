package httpclient

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults applied by NewRequest.
const (
	DefaultMethod      = "GET"
	DefaultContentType = "application/json; charset=UTF-8"
	DefaultTimeout     = 30 * time.Second
)

// Headers is a flat header map. Multi-valued headers are joined with ", ".
type Headers map[string]string

// ResponseType selects how the transport interprets the response body.
type ResponseType string

const (
	ResponseText   ResponseType = "text"
	ResponseJSON   ResponseType = "json"
	ResponseBinary ResponseType = "binary"
)

// ReadyState is the lifecycle stage of a request as it moves through the transport.
type ReadyState int32

const (
	Unsent ReadyState = iota
	Opened
	HeadersReceived
	Loading
	Done
)

func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "unsent"
	case Opened:
		return "opened"
	case HeadersReceived:
		return "headers-received"
	case Loading:
		return "loading"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// UploadHooks are called by the transport while the request body is being sent.
type UploadHooks struct {
	OnLoadStart func()
	// OnProgress receives the bytes sent so far and the total, or -1 when unknown.
	OnProgress func(sent, total int64)
}

// Request describes one outbound call. The same *Request is handed to every
// filter and to the transport, so changes made by a filter are seen downstream.
type Request struct {
	url string

	Method          string
	ContentType     string
	ResponseType    ResponseType
	WithCredentials bool
	// Body is nil, a string, []byte, io.Reader, url.Values or a structured value.
	Body    any
	Headers Headers
	// Timeout bounds the transport round trip. Zero disables it.
	Timeout time.Duration
	Upload  *UploadHooks

	readyState atomic.Int32
	aborted    atomic.Bool

	mu         sync.RWMutex
	properties map[string]any
}

// RequestOption sets a field of a Request.
type RequestOption func(*Request)

// WithMethod sets the HTTP method.
func WithMethod(method string) RequestOption {
	return func(r *Request) {
		if method != "" {
			r.Method = method
		}
	}
}

// WithContentType sets the request content type.
func WithContentType(contentType string) RequestOption {
	return func(r *Request) {
		if contentType != "" {
			r.ContentType = contentType
		}
	}
}

// WithResponseType sets how the response body is interpreted.
func WithResponseType(rt ResponseType) RequestOption {
	return func(r *Request) {
		if rt != "" {
			r.ResponseType = rt
		}
	}
}

// WithCredentials enables cookie handling for the request.
func WithCredentials(enabled bool) RequestOption {
	return func(r *Request) { r.WithCredentials = enabled }
}

// WithBody sets the request body.
func WithBody(body any) RequestOption {
	return func(r *Request) { r.Body = body }
}

// WithHeaders replaces the request headers.
func WithHeaders(headers Headers) RequestOption {
	return func(r *Request) {
		if headers != nil {
			r.Headers = headers
		}
	}
}

// WithTimeout sets the transport timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *Request) {
		if d > 0 {
			r.Timeout = d
		}
	}
}

// WithUpload installs upload progress hooks.
func WithUpload(hooks *UploadHooks) RequestOption {
	return func(r *Request) { r.Upload = hooks }
}

// NewRequest returns a Request for url with defaults applied, then opts.
func NewRequest(url string, opts ...RequestOption) *Request {
	r := &Request{
		url:          url,
		Method:       DefaultMethod,
		ContentType:  DefaultContentType,
		ResponseType: ResponseJSON,
		Headers:      Headers{},
		Timeout:      DefaultTimeout,
		properties:   make(map[string]any),
	}
	return r.Set(opts...)
}

// Set applies opts to r and returns it.
func (r *Request) Set(opts ...RequestOption) *Request {
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// URL returns the target URL. It cannot change after construction.
func (r *Request) URL() string {
	return r.url
}

// AddHeader sets a single header.
func (r *Request) AddHeader(name, value string) *Request {
	if r.Headers == nil {
		r.Headers = Headers{}
	}
	r.Headers[name] = value
	return r
}

// ReadyState returns the current lifecycle stage.
func (r *Request) ReadyState() ReadyState {
	return ReadyState(r.readyState.Load())
}

// SetReadyState records transport progress.
func (r *Request) SetReadyState(s ReadyState) {
	r.readyState.Store(int32(s))
}

// Abort flags the request as cancelled. The transport checks the flag right
// before sending; an exchange already on the wire is not interrupted by it.
func (r *Request) Abort() {
	r.aborted.Store(true)
}

// Aborted reports whether Abort was called.
func (r *Request) Aborted() bool {
	return r.aborted.Load()
}

// SetProperty stores a value in the request side channel.
func (r *Request) SetProperty(key string, value any) *Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.properties == nil {
		r.properties = make(map[string]any)
	}
	r.properties[key] = value
	return r
}

// Property returns a side channel value, or nil.
func (r *Request) Property(key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.properties[key]
}

// Properties returns a copy of the side channel.
func (r *Request) Properties() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.properties)
}
