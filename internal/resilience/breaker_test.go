package resilience

import (
	"errors"
	"testing"
	"time"
)

var errWrite = errors.New("write failed")

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(Config{Name: "ledger"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	b := NewBreaker(Config{Name: "ledger", MaxFailures: 3})
	called := false
	if err := b.Execute(func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(Config{Name: "ledger", MaxFailures: 3, ResetTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errWrite })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	// Open breaker short-circuits without calling fn.
	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn was called while the breaker was open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(Config{Name: "ledger", MaxFailures: 3, ResetTimeout: time.Hour})

	_ = b.Execute(func() error { return errWrite })
	_ = b.Execute(func() error { return errWrite })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errWrite })
	_ = b.Execute(func() error { return errWrite })

	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed (success interleaved)", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker(Config{
		Name:         "ledger",
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = b.Execute(func() error { return errWrite })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(5 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", b.State())
	}

	// Enough successful probes close the breaker again.
	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after probes", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(Config{
		Name:         "ledger",
		MaxFailures:  1,
		ResetTimeout: time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = b.Execute(func() error { return errWrite })
	time.Sleep(5 * time.Millisecond)

	_ = b.Execute(func() error { return errWrite })
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open after half-open failure", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(Config{Name: "ledger", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = b.Execute(func() error { return errWrite })
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after Reset", b.State())
	}
}
