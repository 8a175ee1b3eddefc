package haulmer

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)
	failing := func() error { return errors.New("provider down") }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(failing); err == nil {
			t.Fatal("expected failure to propagate")
		}
	}

	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)
	failing := func() error { return errors.New("provider down") }

	cb.Execute(failing)
	cb.Execute(failing)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two more failures must not open the breaker: the counter was reset.
	cb.Execute(failing)
	cb.Execute(failing)
	if err := cb.Execute(func() error { return nil }); errors.Is(err, ErrCircuitOpen) {
		t.Fatal("breaker opened despite interleaved success")
	}
}

func TestCircuitBreaker_HalfOpenProbeClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.Execute(func() error { return errors.New("provider down") })
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open breaker, got %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// Cooldown elapsed: one probe goes through and closes the breaker.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected closed breaker, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenProbeReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.Execute(func() error { return errors.New("provider down") })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return errors.New("still down") }); errors.Is(err, ErrCircuitOpen) {
		t.Fatal("probe should have reached the provider")
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected breaker to re-open after failed probe, got %v", err)
	}
}
