package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errRemote = errors.New("remote failure")

func TestBreakerStartsClosed(t *testing.T) {
	b := New(DefaultConfig())

	if b.State() != StateClosed {
		t.Errorf("Initial state should be closed, got %v", b.State())
	}
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := New(&Config{
		MaxFailures:      3,
		Cooldown:         time.Second,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errRemote })
	}

	if b.State() != StateOpen {
		t.Fatalf("Breaker should be open after 3 failures, got %v", b.State())
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Open breaker should return ErrOpen, got %v", err)
	}
	if called {
		t.Error("Open breaker must not run the call")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(&Config{
		MaxFailures:      3,
		Cooldown:         time.Second,
		HalfOpenMaxCalls: 1,
	})

	_ = b.Execute(func() error { return errRemote })
	_ = b.Execute(func() error { return errRemote })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errRemote })
	_ = b.Execute(func() error { return errRemote })

	if b.State() != StateClosed {
		t.Errorf("Interleaved success should keep the breaker closed, got %v", b.State())
	}
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := New(&Config{
		MaxFailures:      1,
		Cooldown:         10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	_ = b.Execute(func() error { return errRemote })
	if b.State() != StateOpen {
		t.Fatalf("Breaker should be open, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// The probe call is admitted and its success closes the breaker
	err := b.Execute(func() error { return nil })
	if err != nil {
		t.Fatalf("Probe call should run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Successful probe should close the breaker, got %v", b.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := New(&Config{
		MaxFailures:      1,
		Cooldown:         10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	_ = b.Execute(func() error { return errRemote })
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(func() error { return errRemote })
	if b.State() != StateOpen {
		t.Errorf("Failed probe should reopen the breaker, got %v", b.State())
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(&Config{
		MaxFailures:      1,
		Cooldown:         time.Second,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = b.Execute(func() error { return errRemote })
	b.Reset()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), transitions)
	}
	for i, tr := range want {
		if transitions[i] != tr {
			t.Errorf("Transition %d: expected %s, got %s", i, tr, transitions[i])
		}
	}
}

func TestHostSetIsolatesHosts(t *testing.T) {
	hs := NewHostSet(&Config{
		MaxFailures:      1,
		Cooldown:         time.Minute,
		HalfOpenMaxCalls: 1,
	})

	_ = hs.For("billing.internal").Execute(func() error { return errRemote })

	if hs.For("billing.internal").State() != StateOpen {
		t.Error("Failing host should have an open breaker")
	}
	if hs.For("catalog.internal").State() != StateClosed {
		t.Error("Other hosts must be unaffected")
	}
}

func TestHostSetReturnsSameBreaker(t *testing.T) {
	hs := NewHostSet(nil)

	if hs.For("a") != hs.For("a") {
		t.Error("For should return the same breaker per host")
	}
}
