package httpclient

import (
	"context"
	"log/slog"
)

// FilterCollection groups filters into a single Filter. When it runs, its own
// filters are applied (each subject to its gate) before the outer chain resumes.
// Collections nest to any depth.
type FilterCollection struct {
	filters filterList
	logger  *slog.Logger
}

// NewFilterCollection returns a collection holding filters in order.
func NewFilterCollection(filters ...*InstalledFilter) *FilterCollection {
	fc := &FilterCollection{logger: discardLogger}
	for _, f := range filters {
		fc.filters.add(f)
	}
	return fc
}

// SetLogger sets the trace sink used for the nested chain.
func (fc *FilterCollection) SetLogger(logger *slog.Logger) {
	if logger != nil {
		fc.logger = logger
	}
}

// AddFilter appends a filter to the collection.
func (fc *FilterCollection) AddFilter(filter Filter, name string, config FilterConfig) *Registration {
	return fc.filters.add(NewInstalledFilter(filter, name, config))
}

// Len returns the number of filters in the collection.
func (fc *FilterCollection) Len() int {
	return fc.filters.len()
}

// DoFilter runs the collection's filters, then continues with outer.
func (fc *FilterCollection) DoFilter(ctx context.Context, req *Request, outer FilterChain) (*Response, error) {
	return NewChain(fc.filters.snapshot(), 0, outer.Advance, WithChainLogger(fc.logger)).Advance(ctx, req)
}
