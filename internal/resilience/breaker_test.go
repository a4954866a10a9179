package resilience

import (
	"errors"
	"testing"
	"time"
)

var errSink = errors.New("sink unavailable")

func fail() error { return errSink }
func ok() error   { return nil }

// newTestBreaker returns a breaker on a manual clock.
func newTestBreaker(maxFailures int) (*Breaker, func(time.Duration)) {
	now := time.Unix(1_700_000_000, 0)
	b := NewBreaker("events", maxFailures, time.Second)
	b.now = func() time.Time { return now }
	return b, func(d time.Duration) { now = now.Add(d) }
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	tests := []struct {
		name     string
		calls    []func() error
		wantOpen bool
	}{
		{"all succeed", []func() error{ok, ok, ok}, false},
		{"below limit", []func() error{fail, fail}, false},
		{"at limit", []func() error{fail, fail, fail}, true},
		{"success resets count", []func() error{fail, fail, ok, fail, fail}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(3)
			for _, fn := range tt.calls {
				_ = b.Execute(fn)
			}
			if b.Open() != tt.wantOpen {
				t.Errorf("Open() = %v, want %v", b.Open(), tt.wantOpen)
			}
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b, _ := newTestBreaker(1)
	_ = b.Execute(fail)

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while the circuit is open")
	}
	if got := b.Rejected(); got != 1 {
		t.Errorf("Rejected() = %d, want 1", got)
	}
}

func TestBreakerProbeClosesCircuit(t *testing.T) {
	b, advance := newTestBreaker(2)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	advance(2 * time.Second)
	if b.Open() {
		t.Fatal("breaker should admit a probe after the timeout")
	}
	if err := b.Execute(ok); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if b.state != stateClosed {
		t.Fatalf("state = %d after successful probe, want closed", b.state)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, advance := newTestBreaker(2)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	advance(2 * time.Second)
	if err := b.Execute(fail); !errors.Is(err, errSink) {
		t.Fatalf("probe error = %v, want the sink error", err)
	}
	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after failed probe, got %v", err)
	}
}

func TestBreakerSingleProbe(t *testing.T) {
	b, advance := newTestBreaker(1)
	_ = b.Execute(fail)
	advance(2 * time.Second)

	var inner error
	err := b.Execute(func() error {
		// An event published while the probe is in flight is rejected.
		inner = b.Execute(ok)
		return nil
	})
	if err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if !errors.Is(inner, ErrCircuitOpen) {
		t.Errorf("concurrent call during probe = %v, want ErrCircuitOpen", inner)
	}
	if err := b.Execute(ok); err != nil {
		t.Errorf("closed breaker rejected call: %v", err)
	}
}
