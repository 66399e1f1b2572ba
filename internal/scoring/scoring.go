// Package scoring maps detected anomalies to trust-score penalties.
//
// The human score starts at 100 per session, never increases, and is
// floored at 0. Setting the anomaly latch, decrementing the score and
// appending the penalty and edit records happen together within the
// single-threaded tick, so the same anomaly type can never penalize a
// session twice.
package scoring

import (
	"time"

	"github.com/willchan-117/human-verifier/internal/detector"
	"github.com/willchan-117/human-verifier/internal/session"
)

// Config holds penalty magnitudes.
type Config struct {
	// LargePasteMax caps the large-paste penalty.
	LargePasteMax int
	// SpeedSpikeMax caps the speed-spike penalty.
	SpeedSpikeMax int
	// SustainedSpeed is the flat sustained-speed penalty.
	SustainedSpeed int
	// LogRepeats appends edit-log entries for repeat occurrences of an
	// already-latched anomaly without re-penalizing.
	LogRepeats bool
}

// DefaultConfig returns the standard penalty configuration.
func DefaultConfig() Config {
	return Config{
		LargePasteMax:  50,
		SpeedSpikeMax:  30,
		SustainedSpeed: 20,
		LogRepeats:     false,
	}
}

// Engine applies penalties to sessions.
type Engine struct {
	cfg Config
}

// New creates a scoring engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Apply processes one detected anomaly against the session. It returns
// true when a penalty was applied. A latched anomaly type applies no
// penalty; with LogRepeats enabled it still appends an edit-log entry.
func (e *Engine) Apply(s *session.Session, a detector.Anomaly, now time.Time) bool {
	if s.Ended() {
		return false
	}

	if s.Flags.Has(a.Type) {
		if e.cfg.LogRepeats {
			s.Edits = append(s.Edits, editEntry(a, now))
		}
		return false
	}

	penalty := e.Penalty(a)

	s.Flags.Set(a.Type)
	s.HumanScore = max(0, s.HumanScore-penalty)
	s.Penalties = append(s.Penalties, session.PenaltyRecord{
		Type:      a.Type,
		Magnitude: a.Magnitude,
		Penalty:   penalty,
	})
	s.Edits = append(s.Edits, editEntry(a, now))

	return true
}

// Penalty computes the deduction for an anomaly without applying it.
func (e *Engine) Penalty(a detector.Anomaly) int {
	switch a.Type {
	case session.LargePaste:
		return min(e.cfg.LargePasteMax, a.Magnitude*e.cfg.LargePasteMax/100)
	case session.SpeedSpike:
		return min(e.cfg.SpeedSpikeMax, a.Magnitude*e.cfg.SpeedSpikeMax/50)
	case session.SustainedSpeed:
		return e.cfg.SustainedSpeed
	}
	return 0
}

func editEntry(a detector.Anomaly, now time.Time) session.EditEntry {
	entry := session.EditEntry{
		Timestamp: now.UTC().Format(time.RFC3339),
		WordCount: a.WordCount,
		Flag:      a.Type,
	}
	if a.Type == session.SustainedSpeed {
		entry.WPM = a.Magnitude
	} else {
		entry.WordsAdded = a.Magnitude
	}
	return entry
}
