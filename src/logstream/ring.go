// Package logstream consumes long-lived, line-delimited HTTP log streams for
// deployed services, bounded by a process-wide concurrency gate and buffered
// in fixed-capacity ring buffers.
package logstream

import (
	"sync"
	"time"
)

// DefaultCapacity is the ring buffer size used when none is configured.
const DefaultCapacity = 1000

// LogLine is one line received from a service log stream. Immutable once
// created; Seq is monotonic per session, starting at 1.
type LogLine struct {
	Seq        uint64    `json:"seq"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// RingBuffer keeps the most recent lines of one stream session. Once the
// buffer reaches capacity, appending evicts the oldest line. All access goes
// through the buffer's own mutex; buffers are never shared across sessions.
type RingBuffer struct {
	mu       sync.Mutex
	lines    []LogLine
	capacity int
	nextSeq  uint64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RingBuffer{
		lines:    make([]LogLine, 0, capacity),
		capacity: capacity,
		nextSeq:  1,
	}
}

// Append stores a new line, assigning it the next sequence number, and
// returns it. Oldest-first eviction keeps the length at or below capacity.
func (b *RingBuffer) Append(text string) LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := LogLine{Seq: b.nextSeq, Text: text, ReceivedAt: time.Now()}
	b.nextSeq++

	if len(b.lines) == b.capacity {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
	} else {
		b.lines = append(b.lines, line)
	}
	return line
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *RingBuffer) Lines() []LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogLine, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Clear drops all buffered lines. Sequence numbering continues; it does not
// restart for the lifetime of the buffer.
func (b *RingBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = b.lines[:0]
}
