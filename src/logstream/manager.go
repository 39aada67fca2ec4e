package logstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"buildops/src/logger"
)

var ErrUnknownTarget = errors.New("no active log stream for target")

// Manager owns all live log stream sessions and the process-wide concurrency
// gate. At most one session per target service is active at a time; starting
// a second one for the same target stops its predecessor first.
type Manager struct {
	gate        *Gate
	source      LogSource
	log         logger.Logger
	capacity    int
	idleTimeout time.Duration
	backoffBase time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager streaming from source, with maxStreams
// concurrent sessions and per-session ring buffers of the given capacity.
// Zero values select the defaults.
func NewManager(source LogSource, maxStreams, capacity int, log logger.Logger) *Manager {
	return &Manager{
		gate:        NewGate(maxStreams),
		source:      source,
		log:         log,
		capacity:    capacity,
		idleTimeout: ConnectTimeout,
		backoffBase: streamBackoffBase,
		sessions:    make(map[string]*Session),
	}
}

// Start begins streaming logs for a target service. Lines are pushed into the
// session's ring buffer and handed to onLine in order; the terminal failure,
// if any, reaches onError exactly once. Fails with ErrTooManyStreams when the
// gate is full.
func (m *Manager) Start(target string, onLine func(LogLine), onError func(error)) (*Session, error) {
	if target == "" {
		return nil, fmt.Errorf("target service is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// One session per target: replace any existing one. Its gate slot is
	// released synchronously by Stop, so the slot accounting stays exact.
	if existing, ok := m.sessions[target]; ok {
		existing.Stop()
		delete(m.sessions, target)
	}

	if err := m.gate.Acquire(); err != nil {
		return nil, err
	}

	s := newSession(target, m.source, m.gate, m.capacity, m.idleTimeout, m.backoffBase, m.log)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	m.sessions[target] = s

	m.log.Info("starting log stream for %s (%d/%d slots in use)", target, m.gate.Active(), m.gate.max)
	go s.run(ctx, onLine, onError)
	return s, nil
}

// Stop ends the stream for a target. Returns ErrUnknownTarget if no session
// exists; stopping an already-stopped session through its handle is a no-op.
func (m *Manager) Stop(target string) error {
	m.mu.Lock()
	s, ok := m.sessions[target]
	if ok {
		delete(m.sessions, target)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	s.Stop()
	return nil
}

// Get returns the live session for a target, if any.
func (m *Manager) Get(target string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[target]
	return s, ok
}

// ActiveStreams returns the number of held stream slots.
func (m *Manager) ActiveStreams() int {
	return m.gate.Active()
}

// StopAll stops every session. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for target, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, target)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
