package httpclient

import (
	"context"
	"log/slog"
)

// LevelTrace is the slog level used for per-filter and per-exchange trace output.
const LevelTrace = slog.Level(-8)

var discardLogger = slog.New(slog.DiscardHandler)

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChainLogger sets the trace sink. A nil logger discards.
func WithChainLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Chain walks filters[from:], skipping entries whose gate rejects the request,
// and ends in terminal. A Chain is immutable: Advance can be called any number
// of times and each call starts from the same position.
type Chain struct {
	filters  []*InstalledFilter
	from     int
	terminal Transport
	logger   *slog.Logger
}

// NewChain returns a Chain over filters starting at from. A nil terminal means
// the default transport, Execute.
func NewChain(filters []*InstalledFilter, from int, terminal Transport, opts ...ChainOption) *Chain {
	if terminal == nil {
		terminal = Execute
	}
	c := &Chain{
		filters:  filters,
		from:     from,
		terminal: terminal,
		logger:   discardLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Advance dispatches req to the next accepting filter, handing it a Chain
// positioned just after itself, or calls the terminal when the sequence is
// exhausted. Errors pass through untouched.
func (c *Chain) Advance(ctx context.Context, req *Request) (*Response, error) {
	index := c.from
	for index < len(c.filters) && !c.filters[index].Applies(req) {
		index++
	}
	if index >= len(c.filters) {
		return c.terminal(ctx, req)
	}

	entry := c.filters[index]
	c.logger.Log(ctx, LevelTrace, "applying filter", "filter", entry.name)

	next := &Chain{
		filters:  c.filters,
		from:     index + 1,
		terminal: c.terminal,
		logger:   c.logger,
	}
	return entry.filter.DoFilter(ctx, req, next)
}
