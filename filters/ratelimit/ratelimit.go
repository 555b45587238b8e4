// Package ratelimit throttles calls per target with token buckets.
package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/lsm/httpfilter/filters"
	"github.com/lsm/httpfilter/filters/metrics"
	"github.com/lsm/httpfilter/httpclient"
)

// ErrRateLimited is the cause attached to synthetic 429 rejections.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter provides per-target rate limiting using token bucket algorithm.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLimiter creates a new Limiter with no targets configured.
func NewLimiter() *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

// Set configures rate limiting for a target.
// A zero rps means no rate limit for that target.
func (l *Limiter) Set(target string, rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rps <= 0 {
		delete(l.limiters, target)
		return
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	l.limiters[target] = rate.NewLimiter(rate.Limit(rps), burst)
}

func (l *Limiter) get(target string) (*rate.Limiter, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lim, ok := l.limiters[target]
	return lim, ok
}

// Allow reports whether a request for the given target is allowed.
// Returns true if no rate limit is configured for the target.
func (l *Limiter) Allow(target string) bool {
	lim, ok := l.get(target)
	if !ok {
		return true
	}
	return lim.Allow()
}

// Wait blocks until target has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, target string) error {
	lim, ok := l.get(target)
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}

// Mode selects what happens when a target is over its limit.
type Mode string

const (
	// Reject answers with a synthetic 429 without calling the rest of the chain.
	Reject Mode = "reject"
	// Wait blocks until a token is available.
	Wait Mode = "wait"
)

// Filter applies a Limiter to every call, keyed by filters.Target.
type Filter struct {
	limiter *Limiter
	mode    Mode
	metrics *metrics.Metrics
}

// Option configures a Filter.
type Option func(*Filter)

// WithMode sets the over-limit behaviour. The default is Reject.
func WithMode(mode Mode) Option {
	return func(f *Filter) {
		if mode != "" {
			f.mode = mode
		}
	}
}

// WithMetrics counts rejected calls.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// New creates a rate limiting filter over limiter.
func New(limiter *Limiter, opts ...Option) *Filter {
	f := &Filter{limiter: limiter, mode: Reject}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	target := filters.Target(req)
	if f.mode == Wait {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return nil, httpclient.Reject(httpclient.NewResponse(req, 0, "", nil, httpclient.Absent), err)
		}
		return next.Advance(ctx, req)
	}
	if !f.limiter.Allow(target) {
		f.metrics.RecordRateLimited(target)
		resp := httpclient.NewResponse(req, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests),
			httpclient.Headers{"Retry-After": "1"}, httpclient.Absent)
		return nil, httpclient.Reject(resp, ErrRateLimited)
	}
	return next.Advance(ctx, req)
}
