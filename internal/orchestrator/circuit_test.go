package orchestrator

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	b := newBreaker(3, time.Minute)

	for range 3 {
		if err := b.allow(); err != nil {
			t.Fatalf("allow() before threshold = %v", err)
		}
		b.recordFailure()
	}

	if err := b.allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("allow() after threshold = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	b := newBreaker(3, time.Minute)

	b.recordFailure()
	b.recordFailure()
	b.recordSuccess()
	b.recordFailure()
	b.recordFailure()

	if err := b.allow(); err != nil {
		t.Errorf("allow() = %v, success should have reset the failure count", err)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	b := newBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.recordFailure()
	if err := b.allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("allow() while open = %v", err)
	}

	// After the cooldown a single probe is admitted.
	now = now.Add(2 * time.Minute)
	if err := b.allow(); err != nil {
		t.Fatalf("probe allow() = %v", err)
	}
	// A second caller during the probe is refused.
	if err := b.allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent probe allow() = %v, want ErrCircuitOpen", err)
	}

	// Probe success closes the circuit.
	b.recordSuccess()
	if err := b.allow(); err != nil {
		t.Errorf("allow() after probe success = %v", err)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b := newBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.recordFailure()
	now = now.Add(2 * time.Minute)
	if err := b.allow(); err != nil {
		t.Fatalf("probe allow() = %v", err)
	}
	b.recordFailure()

	if err := b.allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("allow() after failed probe = %v, want ErrCircuitOpen", err)
	}
}
