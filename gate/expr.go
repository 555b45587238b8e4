package gate

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"

	"github.com/lsm/httpfilter/httpclient"
)

const defaultCostLimit = 10_000

// ExprOption configures an Expr gate.
type ExprOption func(*ExprGate)

// WithLogger sets where evaluation failures are reported.
func WithLogger(logger *slog.Logger) ExprOption {
	return func(g *ExprGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// ExprGate evaluates a CEL expression against the request. The expression
// sees a single variable, request, with the fields method, url, scheme, host,
// path, query, contentType, responseType, withCredentials, headers and
// properties. It must yield a bool; anything else, or an evaluation error,
// disables the filter for that request.
type ExprGate struct {
	expression string
	program    cel.Program
	logger     *slog.Logger
	warnOnce   sync.Once
}

// Expr compiles expression into a gate.
func Expr(expression string, opts ...ExprOption) (*ExprGate, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
		ext.Encoders(),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	if !ast.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("cel gate %q must evaluate to bool, got %s", expression, ast.OutputType())
	}

	prg, err := env.Program(ast, cel.CostLimit(defaultCostLimit))
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	g := &ExprGate{
		expression: expression,
		program:    prg,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// MustExpr is Expr that panics on a bad expression.
func MustExpr(expression string, opts ...ExprOption) *ExprGate {
	g, err := Expr(expression, opts...)
	if err != nil {
		panic(err)
	}
	return g
}

// String returns the source expression.
func (g *ExprGate) String() string {
	return g.expression
}

// Enabled implements httpclient.FilterConfig.
func (g *ExprGate) Enabled(req *httpclient.Request) bool {
	out, _, err := g.program.Eval(map[string]any{"request": RequestVars(req)})
	if err != nil {
		g.warnOnce.Do(func() {
			g.logger.Warn("filter gate evaluation failed, filter disabled",
				"expression", g.expression,
				"error", err,
			)
		})
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// RequestVars flattens req into the map CEL expressions see as request.
func RequestVars(req *httpclient.Request) map[string]any {
	vars := map[string]any{
		"method":          req.Method,
		"url":             req.URL(),
		"scheme":          "",
		"host":            "",
		"path":            "",
		"query":           map[string]any{},
		"contentType":     req.ContentType,
		"responseType":    string(req.ResponseType),
		"withCredentials": req.WithCredentials,
	}
	if u, err := url.Parse(req.URL()); err == nil {
		vars["scheme"] = u.Scheme
		vars["host"] = u.Hostname()
		vars["path"] = u.Path
		query := make(map[string]any, len(u.Query()))
		for k, v := range u.Query() {
			query[k] = v[0]
		}
		vars["query"] = query
	}

	headers := make(map[string]any, len(req.Headers))
	for k, v := range req.Headers {
		headers[k] = v
	}
	vars["headers"] = headers

	props := make(map[string]any)
	for k, v := range req.Properties() {
		switch v.(type) {
		case string, bool, int, int64, float64, uint, uint64:
			props[k] = v
		default:
			props[k] = fmt.Sprint(v)
		}
	}
	vars["properties"] = props
	return vars
}
