package circuit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.Execute(context.Background(), func(ctx context.Context) error { return errBoom })
	}
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New(Config{Clock: newFakeClock()})
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED, got %s", b.State())
	}

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Errorf("expected success through closed breaker, got %v", err)
	}
	if counts := b.CountsSnapshot(); counts.TotalSuccesses != 1 {
		t.Errorf("expected 1 success, got %+v", counts)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Clock: newFakeClock()})

	failN(b, 4)
	if b.State() != StateClosed {
		t.Fatalf("expected still CLOSED after 4 failures, got %s", b.State())
	}

	failN(b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN after 5 consecutive failures, got %s", b.State())
	}

	// Open breaker fails fast without running fn
	ran := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if ran {
		t.Error("open breaker must not invoke fn")
	}
}

func TestBreakerSuccessResetsConsecutiveFailures(t *testing.T) {
	b := New(Config{Clock: newFakeClock()})

	failN(b, 4)
	b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	failN(b, 4)

	if b.State() != StateClosed {
		t.Errorf("expected CLOSED, interleaved success must reset the streak, got %s", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := New(Config{
		Timeout: 30 * time.Second,
		Clock:   clock,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	failN(b, 5)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	clock.Advance(31 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after timeout, got %s", b.State())
	}

	// A successful probe closes the breaker
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED after successful probe, got %s", b.State())
	}

	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{Timeout: 30 * time.Second, Clock: clock})

	failN(b, 5)
	clock.Advance(31 * time.Second)

	failN(b, 1)
	if b.State() != StateOpen {
		t.Errorf("expected failed probe to reopen, got %s", b.State())
	}
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{MaxRequests: 1, Timeout: 30 * time.Second, Clock: clock})

	failN(b, 5)
	clock.Advance(31 * time.Second)

	// Hold the single probe slot
	release := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		probeDone <- b.Execute(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()

	// Wait until the probe occupies the slot
	deadline := time.Now().Add(time.Second)
	for b.CountsSnapshot().Requests == 0 {
		if time.Now().After(deadline) {
			t.Fatal("probe never started")
		}
		time.Sleep(time.Millisecond)
	}

	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected second concurrent probe rejected, got %v", err)
	}

	close(release)
	if err := <-probeDone; err != nil {
		t.Errorf("probe failed: %v", err)
	}
}

func TestBreakerIntervalResetsClosedCounts(t *testing.T) {
	clock := newFakeClock()
	b := New(Config{Interval: time.Minute, Clock: clock})

	failN(b, 4)
	clock.Advance(2 * time.Minute)
	failN(b, 4)

	if b.State() != StateClosed {
		t.Errorf("expected counting window reset to keep breaker CLOSED, got %s", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b := New(Config{Clock: newFakeClock()})

	failN(b, 5)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("expected CLOSED after reset, got %s", b.State())
	}
	if counts := b.CountsSnapshot(); counts != (Counts{}) {
		t.Errorf("expected cleared counts, got %+v", counts)
	}
}
