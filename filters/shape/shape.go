// Package shape selects parts of JSON response bodies and patches JSON
// request bodies by path, using gjson/sjson path syntax.
package shape

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/lsm/httpfilter/httpclient"
)

func toJSON(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	}
	if httpclient.IsAbsent(body) {
		return nil, nil
	}
	return json.Marshal(body)
}

// SelectFilter replaces a successful response body with the value at a gjson
// path. A path that matches nothing yields Absent.
type SelectFilter struct {
	path string
}

// Select creates a SelectFilter for path, e.g. "data.items.#.id".
func Select(path string) (*SelectFilter, error) {
	if path == "" {
		return nil, fmt.Errorf("shape: select path is required")
	}
	return &SelectFilter{path: path}, nil
}

// DoFilter implements httpclient.Filter.
func (f *SelectFilter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	resp, err := next.Advance(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := toJSON(resp.Body)
	if err != nil {
		return nil, httpclient.Reject(resp, fmt.Errorf("shape: %w", err))
	}
	if !gjson.ValidBytes(raw) {
		return resp.WithBody(httpclient.Absent), nil
	}
	result := gjson.GetBytes(raw, f.path)
	if !result.Exists() {
		return resp.WithBody(httpclient.Absent), nil
	}
	return resp.WithBody(result.Value()), nil
}

// PatchFilter sets values at sjson paths in the request body before it is
// sent, and removes paths listed in Delete. A missing body starts as {}.
type PatchFilter struct {
	set    map[string]any
	order  []string
	delete []string
}

// Patch creates a PatchFilter. Paths are applied in lexical order so that
// the result does not depend on map iteration.
func Patch(set map[string]any, deletePaths ...string) *PatchFilter {
	order := make([]string, 0, len(set))
	for p := range set {
		order = append(order, p)
	}
	sort.Strings(order)
	return &PatchFilter{set: set, order: order, delete: deletePaths}
}

// DoFilter implements httpclient.Filter.
func (f *PatchFilter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	patched, err := f.apply(req.Body)
	if err != nil {
		return nil, httpclient.Reject(httpclient.NewResponse(req, 0, "", nil, httpclient.Absent), err)
	}
	req.Body = patched
	return next.Advance(ctx, req)
}

func (f *PatchFilter) apply(body any) (any, error) {
	raw, err := toJSON(body)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("shape: request body is not JSON")
	}
	for _, p := range f.order {
		if raw, err = sjson.SetBytes(raw, p, f.set[p]); err != nil {
			return nil, fmt.Errorf("shape: set %s: %w", p, err)
		}
	}
	for _, p := range f.delete {
		if raw, err = sjson.DeleteBytes(raw, p); err != nil {
			return nil, fmt.Errorf("shape: delete %s: %w", p, err)
		}
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	return out, nil
}
