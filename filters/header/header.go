// Package header adds static headers to requests.
package header

import (
	"context"
	"maps"
	"strings"

	"github.com/lsm/httpfilter/httpclient"
)

// Filter sets Headers on each request. Headers the request already carries
// (compared case-insensitively) are kept unless Override is set.
type Filter struct {
	Headers  httpclient.Headers
	Override bool
}

// New creates a header filter.
func New(headers httpclient.Headers, override bool) *Filter {
	return &Filter{Headers: maps.Clone(headers), Override: override}
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	for name, value := range f.Headers {
		existing, ok := find(req.Headers, name)
		switch {
		case !ok:
			req.AddHeader(name, value)
		case f.Override:
			delete(req.Headers, existing)
			req.AddHeader(name, value)
		}
	}
	return next.Advance(ctx, req)
}

func find(headers httpclient.Headers, name string) (string, bool) {
	if _, ok := headers[name]; ok {
		return name, true
	}
	for k := range headers {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}
