package httpclient

import "context"

// FilterChain is the remainder of a pipeline as seen by a filter.
type FilterChain interface {
	// Advance runs the next applicable filter, or the terminal transport when
	// none is left.
	Advance(ctx context.Context, req *Request) (*Response, error)
}

// Filter is a middleware unit. It may change req, call next.Advance zero, one
// or several times, and inspect or replace the response it gets back.
// Returning without calling next short-circuits the pipeline.
type Filter interface {
	DoFilter(ctx context.Context, req *Request, next FilterChain) (*Response, error)
}

// FilterFunc adapts an ordinary function to a Filter.
type FilterFunc func(ctx context.Context, req *Request, next FilterChain) (*Response, error)

// DoFilter calls f.
func (f FilterFunc) DoFilter(ctx context.Context, req *Request, next FilterChain) (*Response, error) {
	return f(ctx, req, next)
}

// FilterConfig decides whether a filter applies to a request.
type FilterConfig interface {
	Enabled(req *Request) bool
}

// ConfigFunc adapts a predicate to a FilterConfig.
type ConfigFunc func(req *Request) bool

// Enabled calls f.
func (f ConfigFunc) Enabled(req *Request) bool { return f(req) }

// ChainFunc adapts a function to a FilterChain.
type ChainFunc func(ctx context.Context, req *Request) (*Response, error)

// Advance calls f.
func (f ChainFunc) Advance(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// InstalledFilter binds a filter to its trace name and optional gate.
// It is compared by identity when removed from a sequence.
type InstalledFilter struct {
	filter Filter
	name   string
	config FilterConfig
}

// NewInstalledFilter returns an entry for filter. config may be nil, in which
// case the filter applies to every request.
func NewInstalledFilter(filter Filter, name string, config FilterConfig) *InstalledFilter {
	return &InstalledFilter{filter: filter, name: name, config: config}
}

// Filter returns the wrapped filter.
func (f *InstalledFilter) Filter() Filter { return f.filter }

// Name returns the name used in trace output.
func (f *InstalledFilter) Name() string { return f.name }

// Config returns the gate, or nil.
func (f *InstalledFilter) Config() FilterConfig { return f.config }

// Applies reports whether the entry accepts req.
func (f *InstalledFilter) Applies(req *Request) bool {
	return f.config == nil || f.config.Enabled(req)
}
