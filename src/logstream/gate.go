package logstream

import (
	"errors"
	"sync"
)

// DefaultMaxStreams is the process-wide cap on simultaneously active log
// stream sessions.
const DefaultMaxStreams = 5

var ErrTooManyStreams = errors.New("too many concurrent log streams")

// Gate is the admission counter for live log streams. It never queues:
// acquisition either succeeds immediately or fails with ErrTooManyStreams,
// and the caller decides whether to retry later. The counter lives for the
// process lifetime and starts at zero on every restart.
type Gate struct {
	mu     sync.Mutex
	active int
	max    int
}

func NewGate(max int) *Gate {
	if max <= 0 {
		max = DefaultMaxStreams
	}
	return &Gate{max: max}
}

// Acquire claims one stream slot, or fails with ErrTooManyStreams.
func (g *Gate) Acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active >= g.max {
		return ErrTooManyStreams
	}
	g.active++
	return nil
}

// Release returns a slot. Releasing below zero is a programming error and is
// clamped rather than propagated.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
}

// Active returns the number of currently held slots.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
