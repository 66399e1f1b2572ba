package logging

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRingSize is the number of diagnostic entries retained.
const DefaultRingSize = 200

// Entry is a single diagnostic record.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Message   string    `json:"msg"`
	Detail    string    `json:"detail,omitempty"`
}

// Ring is a bounded, append-only diagnostics buffer. The oldest entries
// are dropped once the capacity is reached.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewRing creates a diagnostics ring with the given capacity.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = DefaultRingSize
	}
	return &Ring{max: max}
}

// Add appends a diagnostic entry, formatting args as key=value pairs.
func (r *Ring) Add(msg string, args ...any) {
	e := Entry{
		Timestamp: time.Now(),
		Message:   msg,
	}
	if len(args) > 0 {
		detail := ""
		for i := 0; i+1 < len(args); i += 2 {
			if detail != "" {
				detail += " "
			}
			detail += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
		e.Detail = detail
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
