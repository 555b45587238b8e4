package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lsm/httpfilter/filters"
	"github.com/lsm/httpfilter/filters/metrics"
	"github.com/lsm/httpfilter/httpclient"
)

func TestLimiter_Allow_NoConfig(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 100; i++ {
		if !l.Allow("unknown") {
			t.Fatal("expected allow for unconfigured target")
		}
	}
}

func TestLimiter_Allow_Configured(t *testing.T) {
	l := NewLimiter()
	l.Set("svc", 1, 1) // 1 req/sec, burst 1

	if !l.Allow("svc") {
		t.Fatal("expected first request to be allowed")
	}
	if l.Allow("svc") {
		t.Fatal("expected second request to be rate limited")
	}
}

func TestLimiter_ZeroRPS_RemovesLimit(t *testing.T) {
	l := NewLimiter()
	l.Set("svc", 1, 1)
	l.Set("svc", 0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow("svc") {
			t.Fatal("expected allow for zero rps target")
		}
	}
}

func TestLimiter_Wait(t *testing.T) {
	l := NewLimiter()
	l.Set("svc", 1, 1)
	l.Allow("svc")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "svc"); err == nil {
		t.Fatal("expected wait to fail before a token is available")
	}
	if err := l.Wait(context.Background(), "other"); err != nil {
		t.Fatalf("expected no wait for an unconfigured target, got %v", err)
	}
}

func ok(_ context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	return httpclient.NewResponse(req, 200, "OK", nil, "ok"), nil
}

func TestFilter_RejectsWithSynthetic429(t *testing.T) {
	l := NewLimiter()
	l.Set("api.example.com", 1, 1)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	f := New(l, WithMetrics(m))

	req := httpclient.NewRequest("https://api.example.com/v1")
	if _, err := f.DoFilter(context.Background(), req, httpclient.ChainFunc(ok)); err != nil {
		t.Fatalf("expected first call to pass, got %v", err)
	}

	calls := 0
	next := httpclient.ChainFunc(func(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
		calls++
		return ok(ctx, req)
	})
	_, err := f.DoFilter(context.Background(), req, next)
	if httpclient.StatusOf(err) != 429 {
		t.Fatalf("expected 429 rejection, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited cause, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected the chain to be short-circuited, got %d calls", calls)
	}
	if got := testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("api.example.com")); got != 1 {
		t.Errorf("expected 1 rate limited, got %v", got)
	}
}

func TestFilter_KeyedByTargetProperty(t *testing.T) {
	l := NewLimiter()
	l.Set("billing", 1, 1)
	f := New(l)

	billing := httpclient.NewRequest("https://a.example.com").SetProperty(filters.TargetProperty, "billing")
	f.DoFilter(context.Background(), billing, httpclient.ChainFunc(ok))
	if _, err := f.DoFilter(context.Background(), billing, httpclient.ChainFunc(ok)); err == nil {
		t.Fatal("expected billing to be limited")
	}
	other := httpclient.NewRequest("https://a.example.com")
	if _, err := f.DoFilter(context.Background(), other, httpclient.ChainFunc(ok)); err != nil {
		t.Fatalf("expected host target to be unlimited, got %v", err)
	}
}

func TestFilter_WaitModeHonoursContext(t *testing.T) {
	l := NewLimiter()
	l.Set("svc", 1, 1)
	l.Allow("svc")
	f := New(l, WithMode(Wait))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req := httpclient.NewRequest("http://x").SetProperty(filters.TargetProperty, "svc")
	_, err := f.DoFilter(ctx, req, httpclient.ChainFunc(ok))
	if httpclient.StatusOf(err) != 0 {
		t.Fatalf("expected status 0 rejection, got %v", err)
	}
}
