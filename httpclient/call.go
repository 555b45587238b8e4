package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
)

// TypedResponse is a Response whose body has been converted to T.
// The untyped body is still reachable as Response.Body.
type TypedResponse[T any] struct {
	*Response
	Body T
}

// CallForResponse calls c and converts the response body to T.
func CallForResponse[T any](ctx context.Context, c *Client, req *Request) (*TypedResponse[T], error) {
	resp, err := c.CallForResponse(ctx, req)
	if err != nil {
		return nil, err
	}
	body, err := Decode[T](resp.Body)
	if err != nil {
		return nil, err
	}
	return &TypedResponse[T]{Response: resp, Body: body}, nil
}

// Call calls c and returns the body converted to T.
func Call[T any](ctx context.Context, c *Client, req *Request) (T, error) {
	resp, err := CallForResponse[T](ctx, c, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return resp.Body, nil
}

// Decode converts a response body to T. Values already of type T are returned
// as is, text and bytes convert between each other, anything else goes through
// a JSON re-encode. Nil and Absent bodies give the zero value.
func Decode[T any](body any) (T, error) {
	var out T
	if body == nil || IsAbsent(body) {
		return out, nil
	}
	if v, ok := body.(T); ok {
		return v, nil
	}

	switch dst := any(&out).(type) {
	case *string:
		switch b := body.(type) {
		case []byte:
			*dst = string(b)
			return out, nil
		}
	case *[]byte:
		switch b := body.(type) {
		case string:
			*dst = []byte(b)
			return out, nil
		}
	}

	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return out, fmt.Errorf("decode body: %w", err)
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode body into %T: %w", out, err)
	}
	return out, nil
}
