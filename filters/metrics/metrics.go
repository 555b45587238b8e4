// Package metrics records Prometheus metrics for calls made through a filter
// chain.
package metrics

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lsm/httpfilter/httpclient"
)

// Metrics holds the client's Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	CircuitState     *prometheus.GaugeVec
	RetriesTotal     *prometheus.CounterVec
	AuthRefreshTotal *prometheus.CounterVec
	RateLimitedTotal *prometheus.CounterVec
	// Per-filter metrics
	FilterInvocations *prometheus.CounterVec
	FilterDuration    *prometheus.HistogramVec
	FilterErrors      *prometheus.CounterVec
}

// NewMetrics registers and returns the client metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "httpfilter_requests_total",
			Help: "Total calls made through the filter chain.",
		}, []string{"host", "method", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httpfilter_request_duration_seconds",
			Help:    "Call duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host", "method"}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "httpfilter_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"target"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "httpfilter_retries_total",
			Help: "Total retries per target.",
		}, []string{"target", "attempt"}),
		AuthRefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "httpfilter_auth_refresh_total",
			Help: "Total auth credential refreshes.",
		}, []string{"target", "status"}),
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "httpfilter_rate_limited_total",
			Help: "Total requests rejected by rate limiting.",
		}, []string{"target"}),
		FilterInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "httpfilter_filter_invocations_total",
			Help: "Total filter invocations.",
		}, []string{"filter", "success"}),
		FilterDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "httpfilter_filter_duration_seconds",
			Help:    "Time spent in a filter and everything after it, in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"filter"}),
		FilterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "httpfilter_filter_errors_total",
			Help: "Total filter rejections.",
		}, []string{"filter"}),
	}
}

// RecordFilterInvocation records metrics for a filter invocation.
func (m *Metrics) RecordFilterInvocation(filter string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	m.FilterInvocations.WithLabelValues(filter, strconv.FormatBool(success)).Inc()
	m.FilterDuration.WithLabelValues(filter).Observe(durationSeconds)
	if !success {
		m.FilterErrors.WithLabelValues(filter).Inc()
	}
}

// RecordRetry counts a retry of target.
func (m *Metrics) RecordRetry(target string, attempt int) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(target, strconv.Itoa(attempt)).Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(target string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(target).Inc()
}

// SetCircuitState publishes the breaker state of target.
func (m *Metrics) SetCircuitState(target string, state int) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(target).Set(float64(state))
}

// RecordAuthRefresh counts a credential refresh.
func (m *Metrics) RecordAuthRefresh(target string, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.AuthRefreshTotal.WithLabelValues(target, status).Inc()
}

// Filter counts calls and observes their duration. Rejections are counted
// under their status; faults without a response under "error".
type Filter struct {
	m *Metrics
}

// New creates the metrics filter.
func New(m *Metrics) *Filter {
	return &Filter{m: m}
}

// DoFilter implements httpclient.Filter.
func (f *Filter) DoFilter(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
	start := time.Now()
	resp, err := next.Advance(ctx, req)
	if f.m == nil {
		return resp, err
	}

	host := hostOf(req)
	status := "error"
	switch {
	case err == nil && resp != nil:
		status = strconv.Itoa(resp.Status)
	case err != nil:
		if s := httpclient.StatusOf(err); s >= 0 {
			status = strconv.Itoa(s)
		}
	}
	f.m.RequestsTotal.WithLabelValues(host, req.Method, status).Inc()
	f.m.RequestDuration.WithLabelValues(host, req.Method).Observe(time.Since(start).Seconds())
	return resp, err
}

// Instrument wraps filter so each invocation is recorded under name.
func Instrument(name string, filter httpclient.Filter, m *Metrics) httpclient.Filter {
	if m == nil {
		return filter
	}
	return httpclient.FilterFunc(func(ctx context.Context, req *httpclient.Request, next httpclient.FilterChain) (*httpclient.Response, error) {
		start := time.Now()
		resp, err := filter.DoFilter(ctx, req, next)
		m.RecordFilterInvocation(name, err == nil, time.Since(start).Seconds())
		return resp, err
	})
}

func hostOf(req *httpclient.Request) string {
	u, err := url.Parse(req.URL())
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
