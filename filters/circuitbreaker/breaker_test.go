package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func trip(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Allow()
		b.RecordFailure()
	}
}

func TestBreaker_StartsClosedAndAllows(t *testing.T) {
	b := NewBreaker(DefaultConfig())
	if b.State() != Closed {
		t.Fatalf("expected Closed, got %s", b.State())
	}
	for i := 0; i < 10; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: time.Hour})
	trip(b, 2)
	if b.State() != Closed {
		t.Fatalf("expected Closed below threshold, got %s", b.State())
	}
	trip(b, 1)
	if b.State() != Open {
		t.Fatalf("expected Open at threshold, got %s", b.State())
	}
	if err := b.Allow(); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_HalfOpenLifecycle(t *testing.T) {
	tests := []struct {
		name    string
		outcome func(b *Breaker)
		want    State
	}{
		{"success closes", func(b *Breaker) { b.RecordSuccess(); _ = b.Allow(); b.RecordSuccess() }, Closed},
		{"failure reopens", func(b *Breaker) { b.RecordFailure() }, Open},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Now()}
			b := NewBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 5 * time.Second, HalfOpenProbes: 1},
				WithClock(clock.Now))
			trip(b, 1)

			clock.Advance(4 * time.Second)
			if err := b.Allow(); err != ErrCircuitOpen {
				t.Fatalf("expected ErrCircuitOpen before timeout, got %v", err)
			}
			if got := b.RetryAfter(); got != time.Second {
				t.Errorf("expected 1s until probe, got %v", got)
			}

			clock.Advance(2 * time.Second)
			if err := b.Allow(); err != nil {
				t.Fatalf("expected a probe after timeout, got %v", err)
			}
			if b.State() != HalfOpen {
				t.Fatalf("expected HalfOpen, got %s", b.State())
			}
			if err := b.Allow(); err != ErrCircuitOpen {
				t.Fatalf("expected probes to be capped, got %v", err)
			}

			tt.outcome(b)
			if b.State() != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, b.State())
			}
		})
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, ResetTimeout: 10 * time.Second})
	trip(b, 2)
	if failures, _ := b.Counts(); failures != 2 {
		t.Fatalf("expected 2 failures, got %d", failures)
	}
	b.RecordSuccess()
	if failures, _ := b.Counts(); failures != 0 {
		t.Fatalf("expected 0 failures after success, got %d", failures)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var seen []string
	clock := &fakeClock{now: time.Now()}
	b := NewBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, ResetTimeout: time.Second},
		WithClock(clock.Now),
		OnStateChange(func(from, to State) { seen = append(seen, from.String()+">"+to.String()) }))
	trip(b, 1)
	clock.Advance(time.Second)
	_ = b.Allow()
	b.RecordSuccess()

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("expected %v, got %v", want, seen)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{HalfOpen, "half-open"},
		{Open, "open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := NewBreaker(Config{FailureThreshold: 100, SuccessThreshold: 100, ResetTimeout: 10 * time.Second})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Allow()
				b.RecordFailure()
				b.RecordSuccess()
				_ = b.State()
				_, _ = b.Counts()
			}
		}()
	}
	wg.Wait()
}
