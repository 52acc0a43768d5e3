package core

import (
	"sync"
	"time"
)

// CommandRecord captures one executed command for post-mortem analysis
type CommandRecord struct {
	Time     time.Time
	Verb     string // matched prefix
	Frame    string
	Duration time.Duration
	Err      error
}

// History is a ring of the most recently executed commands. Recording never
// blocks the worker for longer than a mutex hand-off.
type History struct {
	mu   sync.Mutex
	ring []CommandRecord
	head int // next write position
	n    int
}

// NewHistory creates a ring keeping size records
func NewHistory(size int) *History {
	return &History{ring: make([]CommandRecord, size)}
}

// Record stores r, overwriting the oldest record when full
func (h *History) Record(r CommandRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ring[h.head] = r
	h.head = (h.head + 1) % len(h.ring)
	if h.n < len(h.ring) {
		h.n++
	}
}

// Records returns the kept records, oldest first
func (h *History) Records() []CommandRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]CommandRecord, 0, h.n)
	start := (h.head - h.n + len(h.ring)) % len(h.ring)
	for i := 0; i < h.n; i++ {
		out = append(out, h.ring[(start+i)%len(h.ring)])
	}
	return out
}

// Clear empties the ring
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.ring {
		h.ring[i] = CommandRecord{}
	}
	h.head = 0
	h.n = 0
}
