package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(cfg Config) (*Breaker, *clock) {
	b := New(cfg)
	c := &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	b.now = c.now
	return b, c
}

func fail(context.Context) error { return errBoom }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("one failure should not open the circuit")
	}
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open circuit must fail fast, err=%v called=%v", err, called)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.t = clk.t.Add(time.Minute)

	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("trial call should run: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("successful trial should close, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.t = clk.t.Add(time.Minute)

	if err := b.Do(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("trial call should run and fail: %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("failed trial should reopen, got %s", b.State())
	}
	if err := b.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail fast after reopen, got %v", err)
	}
}

func TestBreaker_HalfOpenAllowsLimitedTrials(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	clk.t = clk.t.Add(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second trial should be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial failed: %v", err)
	}
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	errCaller := errors.New("bad request")
	b, _ := newTestBreaker(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errCaller) },
	})

	_ = b.Do(context.Background(), func(context.Context) error { return errCaller })
	if b.State() != StateClosed {
		t.Fatalf("caller errors must not open the circuit")
	}
}

func TestBreaker_EnforcesTimeout(t *testing.T) {
	b, _ := newTestBreaker(Config{Timeout: 10 * time.Millisecond})

	err := b.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
