// Package httpclient is an HTTP client whose calls pass through an ordered,
// conditionally gated chain of filters before reaching the network.
//
// A filter receives the request and the rest of the chain. It can change the
// request, decide not to continue, continue once or several times, and post
// process what comes back. Failures are reported as *ResponseError values
// carrying a Response, so error paths look like success paths.
package httpclient

import (
	"context"
	"log/slog"
	"slices"
)

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the terminal transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithLogger sets the trace sink for filter dispatch.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client owns an ordered filter sequence and runs it for each call.
// It is safe for concurrent use.
type Client struct {
	filters   filterList
	transport Transport
	logger    *slog.Logger
}

// New returns a Client with no filters.
func New(opts ...Option) *Client {
	c := &Client{
		transport: Execute,
		logger:    discardLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddFilter appends filter to the sequence. A nil config applies it to every
// request. The returned Registration removes exactly this entry.
func (c *Client) AddFilter(filter Filter, name string, config FilterConfig) *Registration {
	return c.filters.add(NewInstalledFilter(filter, name, config))
}

// Filters returns a copy of the installed filters in order.
func (c *Client) Filters() []*InstalledFilter {
	return slices.Clone(c.filters.snapshot())
}

// Chain returns a chain over the current sequence, starting at the first filter.
// Filters added or removed later do not affect it.
func (c *Client) Chain() *Chain {
	return NewChain(c.filters.snapshot(), 0, c.transport, WithChainLogger(c.logger))
}

// CallForResponse runs req through the filters and the transport.
func (c *Client) CallForResponse(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL() == "" {
		return nil, ErrNoURL
	}
	return c.Chain().Advance(ctx, req)
}

// Call is CallForResponse returning only the body.
func (c *Client) Call(ctx context.Context, req *Request) (any, error) {
	resp, err := c.CallForResponse(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
