package circuitbreaker

import (
	"testing"
	"time"
)

func TestAllow_UnknownSourceAllowed(t *testing.T) {
	cb := New(3, time.Minute)
	if err := cb.Allow("warehouse"); err != nil {
		t.Fatalf("expected fresh data source to be allowed, got %v", err)
	}
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	cb := New(3, time.Minute)

	cb.RecordFailure("warehouse")
	cb.RecordFailure("warehouse")
	if err := cb.Allow("warehouse"); err != nil {
		t.Fatalf("expected circuit closed below threshold, got %v", err)
	}

	cb.RecordFailure("warehouse")
	if err := cb.Allow("warehouse"); err != ErrCircuitOpen {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestSourcesAreIndependent(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure("warehouse")
	if err := cb.Allow("warehouse"); err != ErrCircuitOpen {
		t.Fatalf("expected warehouse open, got %v", err)
	}
	if err := cb.Allow("reporting"); err != nil {
		t.Fatalf("expected reporting unaffected, got %v", err)
	}
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	cb := New(1, 10*time.Millisecond)

	cb.RecordFailure("warehouse")
	if err := cb.Allow("warehouse"); err != ErrCircuitOpen {
		t.Fatalf("expected open immediately, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)

	// First call after cooldown is the probe.
	if err := cb.Allow("warehouse"); err != nil {
		t.Fatalf("expected probe allowed after cooldown, got %v", err)
	}
	// Second call while the probe is out stays rejected.
	if err := cb.Allow("warehouse"); err != ErrCircuitOpen {
		t.Fatalf("expected half-open to reject concurrent calls, got %v", err)
	}
}

func TestSuccessClosesCircuit(t *testing.T) {
	cb := New(1, 10*time.Millisecond)

	cb.RecordFailure("warehouse")
	time.Sleep(15 * time.Millisecond)
	if err := cb.Allow("warehouse"); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}

	cb.RecordSuccess("warehouse")
	if err := cb.Allow("warehouse"); err != nil {
		t.Fatalf("expected circuit closed after success, got %v", err)
	}
}

func TestFailedProbeReopens(t *testing.T) {
	cb := New(1, 10*time.Millisecond)

	cb.RecordFailure("warehouse")
	time.Sleep(15 * time.Millisecond)
	if err := cb.Allow("warehouse"); err != nil {
		t.Fatalf("expected probe allowed, got %v", err)
	}

	cb.RecordFailure("warehouse")
	if err := cb.Allow("warehouse"); err != ErrCircuitOpen {
		t.Fatalf("expected circuit reopened after failed probe, got %v", err)
	}
}
