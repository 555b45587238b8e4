package httpclient

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent is the body of a response whose content could not be decoded, such as
// a JSON response that does not parse. Check for it with IsAbsent.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent sentinel.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// Response is the reply to a Request. Request, Status, StatusText, Headers and
// Body are fixed once built; only properties may be added afterwards.
type Response struct {
	Request    *Request
	Status     int
	StatusText string
	Headers    Headers
	Body       any

	mu         sync.RWMutex
	properties map[string]any
}

// NewResponse builds a Response for req.
func NewResponse(req *Request, status int, statusText string, headers Headers, body any) *Response {
	if headers == nil {
		headers = Headers{}
	}
	return &Response{
		Request:    req,
		Status:     status,
		StatusText: statusText,
		Headers:    headers,
		Body:       body,
		properties: make(map[string]any),
	}
}

// WithBody returns a copy of r carrying body. Properties are copied.
func (r *Response) WithBody(body any) *Response {
	out := NewResponse(r.Request, r.Status, r.StatusText, r.Headers, body)
	out.properties = r.Properties()
	if out.properties == nil {
		out.properties = make(map[string]any)
	}
	return out
}

// SetProperty annotates the response.
func (r *Response) SetProperty(key string, value any) *Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.properties == nil {
		r.properties = make(map[string]any)
	}
	r.properties[key] = value
	return r
}

// Property returns an annotation, or nil.
func (r *Response) Property(key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.properties[key]
}

// Properties returns a copy of the annotations.
func (r *Response) Properties() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.properties)
}

// Succeeded reports whether the status is in the 200-399 range.
func (r *Response) Succeeded() bool {
	return r.Status >= 200 && r.Status < 400
}

// ResponseError is how a failed call is reported: the failure is itself a
// Response, so error handling can inspect status, headers and body the same
// way success handling does. Err holds the transport cause when there is one.
type ResponseError struct {
	Response *Response
	Err      error
}

func (e *ResponseError) Error() string {
	if e.Response == nil {
		return fmt.Sprintf("http: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("http status %d: %v", e.Response.Status, e.Err)
	}
	if e.Response.StatusText != "" {
		return fmt.Sprintf("http status %d %s", e.Response.Status, e.Response.StatusText)
	}
	return fmt.Sprintf("http status %d", e.Response.Status)
}

func (e *ResponseError) Unwrap() error { return e.Err }

// Reject wraps resp as a failure.
func Reject(resp *Response, cause error) error {
	return &ResponseError{Response: resp, Err: cause}
}

// AsResponse returns the Response carried by err, if any.
func AsResponse(err error) (*Response, bool) {
	var re *ResponseError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response, true
	}
	return nil, false
}

// StatusOf returns the response status carried by err, or -1.
func StatusOf(err error) int {
	if resp, ok := AsResponse(err); ok {
		return resp.Status
	}
	return -1
}
