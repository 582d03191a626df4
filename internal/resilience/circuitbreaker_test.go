package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func TestNewBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.coolOff != 30*time.Second {
		t.Errorf("coolOff = %v, want 30s", b.coolOff)
	}
	if b.probeMax != 3 {
		t.Errorf("probeMax = %d, want 3", b.probeMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreakerClosedAllowsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 3,
		CoolOff:     time.Hour, // stays open for the whole test
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errTest })
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 3})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return nil })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success resets the counter)", b.State())
	}

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	if b.State() != StateClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestBreakerProbesAfterCoolOff(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		CoolOff:     10 * time.Millisecond,
		ProbeMax:    2,
	})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after cool-off", b.State())
	}
}

func TestBreakerClosesAfterSuccessfulProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		CoolOff:     10 * time.Millisecond,
		ProbeMax:    2,
	})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", b.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		CoolOff:     10 * time.Millisecond,
		ProbeMax:    3,
	})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })

	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(func() error { return errTest }); err == nil {
		t.Fatal("expected error from failing probe")
	}

	// Open again; lastFailure was just refreshed so State reports open.
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", s)
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		CoolOff:     time.Hour,
	})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return errTest })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestBreakerStateChangeHook(t *testing.T) {
	type change struct{ from, to State }
	var changes []change
	b := NewBreaker(BreakerConfig{
		Name:        "hooked",
		MaxFailures: 1,
		CoolOff:     time.Hour,
		OnStateChange: func(name string, from, to State) {
			if name != "hooked" {
				t.Errorf("hook name = %q", name)
			}
			changes = append(changes, change{from, to})
		},
	})

	_ = b.Execute(func() error { return errTest })
	b.Reset()

	want := []change{{StateClosed, StateOpen}, {StateOpen, StateClosed}}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
