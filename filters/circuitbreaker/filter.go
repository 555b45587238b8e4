package circuitbreaker

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/lsm/httpfilter/filters"
	"github.com/lsm/httpfilter/filters/metrics"
	"github.com/lsm/httpfilter/httpclient"
)

// Filter keeps one Breaker per target (see filters.Target). While a target's
// breaker is open, calls are rejected with a synthetic 503 without reaching
// the rest of the chain. Status 0 (unless aborted) and 5xx count as failures.
type Filter struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []BreakerOption
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger reports state transitions to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics publishes breaker state per target.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// WithBreakerOptions applies opts to every breaker the filter creates.
func WithBreakerOptions(opts ...BreakerOption) Option {
	return func(f *Filter) { f.opts = append(f.opts, opts...) }
}

// New creates a circuit breaking filter.
func New(cfg Config, opts ...Option) *Filter {
	f := &Filter{
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Breaker returns the breaker for target, creating it on first use.
func (f *Filter) Breaker(target string) *Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[target]; ok {
		return b
	}
	opts := append([]BreakerOption{OnStateChange(func(from, to State) {
		f.logger.Info("circuit state changed", "target", target, "from", from.String(), "to", to.String())
		f.metrics.SetCircuitState(target, int(to))
	})}, f.opts...)
	b := NewBreaker(f.cfg, opts...)
	f.breakers[target] = b
	return b
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	b := f.Breaker(filters.Target(req))
	if err := b.Allow(); err != nil {
		retryAfter := int(math.Ceil(b.RetryAfter().Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		resp := httpclient.NewResponse(req, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable),
			httpclient.Headers{"Retry-After": strconv.Itoa(retryAfter)}, httpclient.Absent)
		return nil, httpclient.Reject(resp, err)
	}

	resp, err := next.Advance(ctx, req)
	switch {
	case err == nil:
		b.RecordSuccess()
	case isFailure(req, err):
		b.RecordFailure()
	default:
		b.RecordSuccess()
	}
	return resp, err
}

func isFailure(req *httpclient.Request, err error) bool {
	status := httpclient.StatusOf(err)
	if status == 0 {
		return !req.Aborted()
	}
	return status >= 500
}
