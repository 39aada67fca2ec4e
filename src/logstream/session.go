package logstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"buildops/src/logger"
	"buildops/src/transient"
)

const (
	// streamAttempts is the connection retry budget per failure streak.
	streamAttempts = 3

	// streamBackoffBase doubles per retry: 0.5s, 1s, 2s.
	streamBackoffBase = 500 * time.Millisecond

	maxLineBytes = 1 << 20
)

// Session is one live log stream bound to one target service. It owns its
// ring buffer and the underlying HTTP stream; lines fan out to the buffer and
// the onLine callback from a single goroutine, so sequence numbers observed
// by the callback are strictly increasing.
type Session struct {
	Target    string
	StartedAt time.Time

	buffer      *RingBuffer
	gate        *Gate
	source      LogSource
	log         logger.Logger
	idleTimeout time.Duration
	backoffBase time.Duration

	cancel      context.CancelFunc
	done        chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once
	errOnce     sync.Once

	mu     sync.Mutex
	active bool
}

func newSession(target string, source LogSource, gate *Gate, capacity int, idleTimeout, backoffBase time.Duration, log logger.Logger) *Session {
	if idleTimeout <= 0 {
		idleTimeout = ConnectTimeout
	}
	if backoffBase <= 0 {
		backoffBase = streamBackoffBase
	}
	return &Session{
		Target:      target,
		StartedAt:   time.Now(),
		buffer:      NewRingBuffer(capacity),
		gate:        gate,
		source:      source,
		log:         log,
		idleTimeout: idleTimeout,
		backoffBase: backoffBase,
		done:        make(chan struct{}),
	}
}

// Buffer returns the session's ring buffer for read access.
func (s *Session) Buffer() *RingBuffer {
	return s.buffer
}

// Active reports whether the session still holds a stream slot.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Stop ends the session: the read loop terminates at its next read, the
// stream slot is released, and the buffer is cleared. Idempotent, and safe to
// call from any goroutine. Stopping is not an error, so onError does not fire.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
	})
	s.release()
}

// Done is closed when the session's read loop has fully terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// release returns the gate slot exactly once and clears the buffer.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		s.gate.Release()
		s.buffer.Clear()
	})
}

// run is the session's single producing goroutine. The retry budget covers a
// streak of consecutive failures; it refills once a connection delivers at
// least one line.
func (s *Session) run(ctx context.Context, onLine func(LogLine), onError func(error)) {
	defer close(s.done)
	defer s.release()

	// Stop may have already run and released the slot; in that case the
	// session must never report itself active.
	s.mu.Lock()
	s.active = ctx.Err() == nil
	s.mu.Unlock()

	attempt := 1
	for {
		if ctx.Err() != nil {
			return
		}

		rc, err := s.source.Open(ctx, s.Target)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !s.retryAfter(ctx, attempt, err, onError) {
				return
			}
			attempt++
			continue
		}

		delivered, err := s.consume(ctx, rc, onLine)
		if ctx.Err() != nil {
			return
		}
		if delivered {
			attempt = 1
		}
		if !s.retryAfter(ctx, attempt, err, onError) {
			return
		}
		attempt++
	}
}

// retryAfter decides whether the loop continues after err. It sleeps the
// backoff for retryable errors with budget left; otherwise it reports the
// failure (exactly once per session) and stops the loop.
func (s *Session) retryAfter(ctx context.Context, attempt int, err error, onError func(error)) bool {
	if transient.IsTransient(err) && attempt < streamAttempts {
		delay := s.backoffBase << (attempt - 1)
		s.log.Debug("log stream for %s failed (attempt %d/%d), retrying in %s: %v",
			s.Target, attempt, streamAttempts, delay, err)
		select {
		case <-time.After(delay):
			return true
		case <-ctx.Done():
			return false
		}
	}

	s.fail(onError, err)
	return false
}

// consume reads the stream line by line until it ends or the context is
// cancelled. Blank lines are discarded. The idle watchdog closes the stream
// if no data arrives within the idle timeout, surfacing as a transient read
// error.
func (s *Session) consume(ctx context.Context, rc io.ReadCloser, onLine func(LogLine)) (delivered bool, err error) {
	defer rc.Close()

	watchdog := time.AfterFunc(s.idleTimeout, func() { rc.Close() })
	defer watchdog.Stop()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			rc.Close()
		case <-finished:
		}
	}()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		watchdog.Reset(s.idleTimeout)
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		line := s.buffer.Append(text)
		delivered = true
		if onLine != nil {
			onLine(line)
		}
	}

	if ctx.Err() != nil {
		return delivered, nil
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return delivered, transient.Wrap(fmt.Errorf("log stream read failed: %w", scanErr))
	}
	// Clean EOF: the server closed the stream. Reconnect.
	return delivered, transient.Wrap(errors.New("log stream closed by server"))
}

// fail delivers the terminal error exactly once.
func (s *Session) fail(onError func(error), err error) {
	s.errOnce.Do(func() {
		s.log.Error("log stream for %s terminated: %v", s.Target, err)
		if onError != nil {
			onError(err)
		}
	})
}
