package logstream

import (
	"errors"
	"testing"
)

func TestGateCap(t *testing.T) {
	g := NewGate(5)

	for i := 0; i < 5; i++ {
		if err := g.Acquire(); err != nil {
			t.Fatalf("Acquire() %d error = %v", i+1, err)
		}
	}
	if g.Active() != 5 {
		t.Errorf("Active() = %d, want 5", g.Active())
	}

	// The N+1th request fails immediately without queueing.
	if err := g.Acquire(); !errors.Is(err, ErrTooManyStreams) {
		t.Errorf("Acquire() over cap = %v, want ErrTooManyStreams", err)
	}
	if g.Active() != 5 {
		t.Errorf("Active() after rejected acquire = %d, want 5", g.Active())
	}

	g.Release()
	if err := g.Acquire(); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestGateReleaseClamps(t *testing.T) {
	g := NewGate(2)
	g.Release()
	if g.Active() != 0 {
		t.Errorf("Active() = %d, want 0 after spurious release", g.Active())
	}
}

func TestGateDefaultMax(t *testing.T) {
	g := NewGate(0)
	for i := 0; i < DefaultMaxStreams; i++ {
		if err := g.Acquire(); err != nil {
			t.Fatalf("Acquire() %d error = %v", i+1, err)
		}
	}
	if err := g.Acquire(); !errors.Is(err, ErrTooManyStreams) {
		t.Errorf("Acquire() = %v, want ErrTooManyStreams at default cap", err)
	}
}
