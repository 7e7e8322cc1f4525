package backoff_test

import (
	"errors"
	"testing"
	"time"

	"github.com/loomery/backlog/backoff"
)

// zeroJitter pins the jitter term to 0 so delays are exact.
func zeroJitter() float64 { return 0 }

func TestExponentialJitter_BaseDoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponentialJitter(time.Second, 25, backoff.WithJitterFunc(zeroJitter))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{4, 8 * time.Second},  // 1 * 2^3
		{7, 64 * time.Second}, // 1 * 2^6
	}
	for _, tt := range tests {
		got, err := e.DelayFor(tt.attempt)
		if err != nil {
			t.Fatalf("DelayFor(%d): %v", tt.attempt, err)
		}
		if got != tt.want {
			t.Errorf("DelayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialJitter_JitterBounds(t *testing.T) {
	// Maximum jitter adds exactly 10% of the base component.
	e := backoff.NewExponentialJitter(10*time.Second, 25,
		backoff.WithJitterFunc(func() float64 { return 0.999999 }))

	got, err := e.DelayFor(1)
	if err != nil {
		t.Fatalf("DelayFor(1): %v", err)
	}
	if got < 10*time.Second || got >= 11*time.Second {
		t.Errorf("DelayFor(1) = %v, want within [10s, 11s)", got)
	}
}

func TestExponentialJitter_DefaultJitterStaysInRange(t *testing.T) {
	e := backoff.NewExponentialJitter(time.Second, 25)

	for i := 0; i < 100; i++ {
		got, err := e.DelayFor(3)
		if err != nil {
			t.Fatalf("DelayFor(3): %v", err)
		}
		if got < 4*time.Second || got >= 4*time.Second+400*time.Millisecond {
			t.Errorf("DelayFor(3) = %v, want within [4s, 4.4s)", got)
		}
	}
}

func TestExponentialJitter_HardCeiling(t *testing.T) {
	e := backoff.NewExponentialJitter(time.Second, 5, backoff.WithJitterFunc(zeroJitter))

	if _, err := e.DelayFor(4); err != nil {
		t.Fatalf("DelayFor(4): unexpected error %v", err)
	}
	if _, err := e.DelayFor(5); !errors.Is(err, backoff.ErrAttemptsExhausted) {
		t.Fatalf("DelayFor(5): expected ErrAttemptsExhausted, got %v", err)
	}
	if _, err := e.DelayFor(500); !errors.Is(err, backoff.ErrAttemptsExhausted) {
		t.Fatalf("DelayFor(500): expected ErrAttemptsExhausted, got %v", err)
	}
}

func TestExponentialJitter_ClampsAttemptBelowOne(t *testing.T) {
	e := backoff.NewExponentialJitter(time.Second, 25, backoff.WithJitterFunc(zeroJitter))

	got, err := e.DelayFor(0)
	if err != nil {
		t.Fatalf("DelayFor(0): %v", err)
	}
	if got != time.Second {
		t.Errorf("DelayFor(0) = %v, want %v", got, time.Second)
	}
}
