// Package retry re-runs the rest of the filter chain when a call fails with a
// transient status.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lsm/httpfilter/filters"
	"github.com/lsm/httpfilter/filters/metrics"
	"github.com/lsm/httpfilter/httpclient"
)

// AttemptProperty is the request property holding the current attempt (1-based).
const AttemptProperty = "retry.attempt"

// Config holds retry configuration.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Jitter          float64 // ±jitter fraction (e.g., 0.2 = ±20%)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Jitter:          0.2,
	}
}

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as permanent (non-retryable).
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent returns true if the error is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Do executes fn with retry logic. It stops retrying when:
// - fn returns nil (success)
// - fn returns a PermanentError
// - MaxAttempts is exhausted
// - ctx is cancelled
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt < cfg.MaxAttempts-1 {
			backoff := calcBackoff(attempt, cfg)
			if hint := retryAfter(lastErr, cfg.MaxInterval); hint > 0 {
				backoff = hint
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func calcBackoff(attempt int, cfg Config) time.Duration {
	backoff := float64(cfg.InitialInterval) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxInterval) {
		backoff = float64(cfg.MaxInterval)
	}
	if cfg.Jitter > 0 {
		jitter := backoff * cfg.Jitter
		backoff = backoff - jitter + rand.Float64()*2*jitter
	}
	return time.Duration(backoff)
}

// retryAfter honours a Retry-After header given in seconds, capped at max.
func retryAfter(err error, max time.Duration) time.Duration {
	resp, ok := httpclient.AsResponse(err)
	if !ok || resp.Status != http.StatusTooManyRequests {
		return 0
	}
	v := resp.Headers["Retry-After"]
	if v == "" {
		v = resp.Headers["retry-after"]
	}
	secs, perr := strconv.Atoi(v)
	if perr != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if max > 0 && d > max {
		d = max
	}
	return d
}

// Retryable reports whether a rejection should be retried: network failures
// (status 0) on requests that were not aborted, 429 and 5xx. Failures that
// would repeat on every attempt, such as an unencodable body or a malformed
// URL, are permanent.
func Retryable(req *httpclient.Request, err error) bool {
	if req.Aborted() || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if permanent(err) {
		return false
	}
	status := httpclient.StatusOf(err)
	switch {
	case status == 0:
		return true
	case status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

func permanent(err error) bool {
	if errors.Is(err, httpclient.ErrUnsupportedBody) || errors.Is(err, httpclient.ErrNoURL) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Op == "parse"
}

// Filter re-invokes the continuation on transient failures.
type Filter struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger retries are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMetrics counts retries per target.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Filter) { f.metrics = m }
}

// New creates a retry filter.
func New(cfg Config, opts ...Option) *Filter {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	f := &Filter{cfg: cfg, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	var resp *httpclient.Response
	err := Do(ctx, f.cfg, func(attempt int) error {
		req.SetProperty(AttemptProperty, attempt+1)
		var callErr error
		resp, callErr = next.Advance(ctx, req)
		if callErr == nil {
			return nil
		}
		if !Retryable(req, callErr) {
			return Permanent(callErr)
		}
		if attempt < f.cfg.MaxAttempts-1 {
			f.metrics.RecordRetry(filters.Target(req), attempt+1)
			f.logger.Debug("retrying request",
				"url", req.URL(),
				"attempt", attempt+1,
				"status", httpclient.StatusOf(callErr),
				"error", callErr,
			)
		}
		return callErr
	})
	if err == nil {
		return resp, nil
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return nil, pe.Err
	}
	return nil, err
}
