// Package transform rewrites request or response bodies with a CEL
// expression.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/lsm/httpfilter/gate"
	"github.com/lsm/httpfilter/httpclient"
)

const (
	defaultTimeout        = 5 * time.Second
	defaultMaxOutputBytes = 1 << 20 // 1MB
	defaultCostLimit      = 1_000_000
	interruptCheckEvery   = 100
)

// Phase selects which body is rewritten.
type Phase string

const (
	Request  Phase = "request"
	Response Phase = "response"
)

// Option configures a Filter.
type Option func(*Filter)

// WithTimeout sets the maximum execution time for a single evaluation.
func WithTimeout(d time.Duration) Option {
	return func(f *Filter) {
		f.timeout = d
	}
}

// WithMaxOutputBytes caps the JSON size of the produced body.
func WithMaxOutputBytes(n int) Option {
	return func(f *Filter) {
		f.maxOutputBytes = n
	}
}

// WithCostLimit caps the CEL runtime cost of a single evaluation.
func WithCostLimit(limit uint64) Option {
	return func(f *Filter) {
		f.costLimit = limit
	}
}

// Filter evaluates a CEL expression whose result replaces a body. The
// expression sees body (the current body, Absent as null), request (as in
// gate.Expr) and, in the response phase, status and headers.
type Filter struct {
	phase          Phase
	program        cel.Program
	timeout        time.Duration
	maxOutputBytes int
	costLimit      uint64
}

// New compiles expression for phase.
func New(phase Phase, expression string, opts ...Option) (*Filter, error) {
	if phase != Request && phase != Response {
		return nil, fmt.Errorf("unknown transform phase %q", phase)
	}
	env, err := cel.NewEnv(
		cel.Variable("body", cel.DynType),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("status", cel.IntType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		ext.Strings(),
		ext.Encoders(),
		ext.Math(),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}

	f := &Filter{
		phase:          phase,
		timeout:        defaultTimeout,
		maxOutputBytes: defaultMaxOutputBytes,
		costLimit:      defaultCostLimit,
	}
	for _, opt := range opts {
		opt(f)
	}

	// The interrupt check lets a timed out evaluation stop instead of running on.
	f.program, err = env.Program(ast, cel.CostLimit(f.costLimit), cel.InterruptCheckFrequency(interruptCheckEvery))
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	return f, nil
}

// DoFilter implements httpclient.Filter. A failed evaluation rejects the
// call: in the request phase before anything is sent (status 0), in the
// response phase with the original response attached.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	if f.phase == Request {
		body, err := f.eval(ctx, map[string]any{
			"body":    plain(req.Body),
			"request": gate.RequestVars(req),
			"status":  0,
			"headers": map[string]string{},
		})
		if err != nil {
			return nil, httpclient.Reject(httpclient.NewResponse(req, 0, "", nil, httpclient.Absent), err)
		}
		req.Body = body
		return next.Advance(ctx, req)
	}

	resp, err := next.Advance(ctx, req)
	if err != nil {
		return nil, err
	}
	body, err := f.eval(ctx, map[string]any{
		"body":    plain(resp.Body),
		"request": gate.RequestVars(req),
		"status":  resp.Status,
		"headers": headerVars(resp.Headers),
	})
	if err != nil {
		return nil, httpclient.Reject(resp, err)
	}
	return resp.WithBody(body), nil
}

func headerVars(h httpclient.Headers) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func plain(body any) any {
	switch b := body.(type) {
	case []byte:
		return string(b)
	}
	if httpclient.IsAbsent(body) {
		return nil
	}
	return body
}

func (f *Filter) eval(ctx context.Context, activation map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		val any
		err error
	}
	ch := make(chan result, 1)

	go func() {
		out, _, err := f.program.ContextEval(ctx, activation)
		if err != nil {
			ch <- result{err: fmt.Errorf("cel eval: %w", err)}
			return
		}
		ch <- result{val: toNative(out)}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("transform timeout: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		output, err := json.Marshal(r.val)
		if err != nil {
			return nil, fmt.Errorf("marshal output: %w", err)
		}
		if len(output) > f.maxOutputBytes {
			return nil, fmt.Errorf("output size %d exceeds max %d bytes", len(output), f.maxOutputBytes)
		}
		return r.val, nil
	}
}

// toNative recursively converts CEL values to plain Go values.
func toNative(val any) any {
	switch v := val.(type) {
	case traits.Mapper:
		it := v.Iterator()
		m := make(map[string]any)
		for it.HasNext() == types.True {
			key := it.Next()
			m[fmt.Sprint(key.Value())] = toNative(v.Get(key))
		}
		return m
	case traits.Lister:
		it := v.Iterator()
		list := []any{}
		for it.HasNext() == types.True {
			list = append(list, toNative(it.Next()))
		}
		return list
	case types.Int:
		return int64(v)
	case types.Uint:
		return uint64(v)
	case types.Double:
		return float64(v)
	case types.String:
		return string(v)
	case types.Bool:
		return bool(v)
	case types.Null:
		return nil
	case interface{ Value() any }:
		return v.Value()
	default:
		return val
	}
}
