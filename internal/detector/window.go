package detector

import "time"

// windowEntry is one retained word-count observation.
type windowEntry struct {
	at    time.Time
	words int
}

// Window is the sliding word-count window behind the sustained-speed
// rule. It retains observations from the last span and derives a
// words-per-minute rate against the oldest retained entry. The window is
// reset on session start and never shared across sessions.
type Window struct {
	span    time.Duration
	entries []windowEntry
}

// NewWindow creates a window retaining observations for span.
func NewWindow(span time.Duration) *Window {
	return &Window{span: span}
}

// Add records an observation and drops entries older than the span.
func (w *Window) Add(at time.Time, words int) {
	w.entries = append(w.entries, windowEntry{at: at, words: words})

	cutoff := at.Add(-w.span)
	trim := 0
	for trim < len(w.entries) && w.entries[trim].at.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		w.entries = w.entries[trim:]
	}
}

// Rate returns the words-per-minute rate across the window. It reports
// ok=false when the window spans less than minSpan or the word delta is
// not positive, so deletions and short bursts never produce a rate.
func (w *Window) Rate(now time.Time, words int, minSpan time.Duration) (float64, bool) {
	if len(w.entries) < 2 {
		return 0, false
	}

	oldest := w.entries[0]
	elapsed := now.Sub(oldest.at)
	if elapsed <= minSpan {
		return 0, false
	}

	delta := words - oldest.words
	if delta <= 0 {
		return 0, false
	}

	return float64(delta) / float64(elapsed.Milliseconds()) * 60000, true
}

// Reset clears the window.
func (w *Window) Reset() {
	w.entries = nil
}

// Len returns the number of retained observations.
func (w *Window) Len() int {
	return len(w.entries)
}
