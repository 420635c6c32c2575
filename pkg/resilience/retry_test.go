package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/oarkflow/errors"
)

func TestExponentialBackoffDoubles(t *testing.T) {
	p := Policy{MaxAttempts: 21, BaseDelay: 10 * time.Second, Backoff: Exponential}
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}
	for i, expected := range want {
		if got := p.Delay(i); got != expected {
			t.Fatalf("delay(%d) = %v, want %v", i, got, expected)
		}
	}
}

func TestDoStopsOnFirstSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, Backoff: Constant}
	calls := 0
	err := p.Do(context.Background(), nil, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoReturnsLastErrorOnExhaustion(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, Backoff: Constant}
	calls := 0
	err := p.Do(context.Background(), nil, "test", func() error {
		calls++
		return errors.New("still broken")
	})
	if err == nil {
		t.Fatalf("expected error after exhaustion")
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 100, BaseDelay: time.Hour, Backoff: Constant}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := p.Do(ctx, nil, "test", func() error {
		return errors.New("down")
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("cancellation did not interrupt the backoff sleep")
	}
}
