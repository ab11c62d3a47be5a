package retry

import (
	"testing"
	"time"
)

func TestExponentialBackoff_Growth(t *testing.T) {
	s := NewExponentialBackoff(1*time.Second, 1*time.Minute, false)

	if d := s.NextDelay(1); d != 1*time.Second {
		t.Errorf("Expected 1s for attempt 1, got %v", d)
	}
	if d := s.NextDelay(2); d != 2*time.Second {
		t.Errorf("Expected 2s for attempt 2, got %v", d)
	}
	if d := s.NextDelay(4); d != 8*time.Second {
		t.Errorf("Expected 8s for attempt 4, got %v", d)
	}
}

func TestExponentialBackoff_Cap(t *testing.T) {
	s := NewExponentialBackoff(1*time.Second, 10*time.Second, false)

	if d := s.NextDelay(10); d != 10*time.Second {
		t.Errorf("Expected cap at 10s, got %v", d)
	}
}

func TestExponentialBackoff_JitterBounds(t *testing.T) {
	s := NewExponentialBackoff(4*time.Second, 1*time.Minute, true)

	for i := 0; i < 100; i++ {
		d := s.NextDelay(1)
		if d < 3*time.Second || d > 5*time.Second {
			t.Fatalf("Jittered delay %v outside ±25%% of 4s", d)
		}
	}
}

func TestExponentialBackoff_AttemptFloor(t *testing.T) {
	s := NewExponentialBackoff(1*time.Second, 1*time.Minute, false)
	if d := s.NextDelay(0); d != 1*time.Second {
		t.Errorf("Expected attempt floor at 1, got %v", d)
	}
}

func TestFixedDelay(t *testing.T) {
	s := NewFixedDelay(5*time.Second, false)
	if d := s.NextDelay(7); d != 5*time.Second {
		t.Errorf("Expected 5s, got %v", d)
	}
}

func TestNoDelay(t *testing.T) {
	if d := (NoDelay{}).NextDelay(3); d != 0 {
		t.Errorf("Expected 0, got %v", d)
	}
}
