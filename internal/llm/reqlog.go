package llm

import (
	"sync"
	"time"
)

// RequestEntry records one external call for debugging.
type RequestEntry struct {
	Time        time.Time
	Mode        Mode
	PromptChars int
	Duration    time.Duration
	Attempts    int
	Status      string // ok, empty, malformed, exhausted, rate_limited, canceled
}

// RequestLog is a bounded-capacity ring buffer of recent external calls.
// It is injected into the caller layer rather than held as process-wide
// state, so tests and concurrent sessions can own their own logs.
type RequestLog struct {
	mu      sync.Mutex
	entries []RequestEntry
	next    int
	full    bool
}

// NewRequestLog creates a log that retains the last capacity entries.
func NewRequestLog(capacity int) *RequestLog {
	if capacity <= 0 {
		capacity = 64
	}
	return &RequestLog{entries: make([]RequestEntry, capacity)}
}

// Append records one call, evicting the oldest entry when full.
func (l *RequestLog) Append(e RequestEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Snapshot returns retained entries, oldest first.
func (l *RequestLog) Snapshot() []RequestEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]RequestEntry, l.next)
		copy(out, l.entries[:l.next])
		return out
	}
	out := make([]RequestEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Len returns the number of retained entries.
func (l *RequestLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}
