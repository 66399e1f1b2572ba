// Package session defines the monitored editing session: its event log,
// anomaly flags, penalties and trust score.
//
// A Session is created when monitored activity is first detected, mutated
// only by the monitor's single-threaded tick while Active, and sealed once
// ended. Ended sessions live in the append-only Archive that the export
// step reads but never mutates.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEnded is returned when a sealed session is mutated.
var ErrEnded = errors.New("session: already ended")

// InitialScore is the trust score a session starts with.
const InitialScore = 100

// Sample is a timestamped character-count observation.
type Sample struct {
	// T is the observation time in unix milliseconds.
	T int64 `json:"t"`
	// C is the observed character count.
	C int `json:"c"`
}

// AnomalyType identifies a class of suspicious editing pattern.
type AnomalyType string

// Anomaly types.
const (
	LargePaste     AnomalyType = "largePaste"
	SpeedSpike     AnomalyType = "speedSpike"
	SustainedSpeed AnomalyType = "sustainedSpeed"
)

// Flags is the one-shot anomaly latch set. A flag never reverts to false
// within a session.
type Flags struct {
	LargePaste     bool `json:"largePaste"`
	SpeedSpike     bool `json:"speedSpike"`
	SustainedSpeed bool `json:"sustainedSpeed"`
}

// Has reports whether the flag for the given anomaly type is set.
func (f Flags) Has(t AnomalyType) bool {
	switch t {
	case LargePaste:
		return f.LargePaste
	case SpeedSpike:
		return f.SpeedSpike
	case SustainedSpeed:
		return f.SustainedSpeed
	}
	return false
}

// Set latches the flag for the given anomaly type.
func (f *Flags) Set(t AnomalyType) {
	switch t {
	case LargePaste:
		f.LargePaste = true
	case SpeedSpike:
		f.SpeedSpike = true
	case SustainedSpeed:
		f.SustainedSpeed = true
	}
}

// Any reports whether any flag is set.
func (f Flags) Any() bool {
	return f.LargePaste || f.SpeedSpike || f.SustainedSpeed
}

// PenaltyRecord records a score deduction for one anomaly occurrence.
type PenaltyRecord struct {
	Type AnomalyType `json:"type"`
	// Magnitude is the measured size of the anomaly: words added for
	// pastes and spikes, rounded WPM for sustained speed.
	Magnitude int `json:"magnitude"`
	// Penalty is the score deduction that was applied.
	Penalty int `json:"penalty"`
}

// EditEntry is a human-readable anomaly log record.
type EditEntry struct {
	Timestamp  string      `json:"timestamp"`
	WordCount  int         `json:"wordCount"`
	WordsAdded int         `json:"wordsAdded,omitempty"`
	WPM        int         `json:"wpm,omitempty"`
	Flag       AnomalyType `json:"flag"`
}

// Session is one contiguous monitored editing period.
type Session struct {
	ID string `json:"id"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitempty"`

	InitialWordCount int `json:"initialWordCount"`
	FinalWordCount   int `json:"finalWordCount"`

	// CharactersTyped is the latest observed character length of the
	// document, not a delta sum.
	CharactersTyped int `json:"charactersTyped"`

	Events     []Sample        `json:"events"`
	Flags      Flags           `json:"flags"`
	HumanScore int             `json:"humanScore"`
	Edits      []EditEntry     `json:"edits"`
	Penalties  []PenaltyRecord `json:"penalties"`

	ended bool
}

// New creates an Active session. The initial sample records zero
// characters relative to session start.
func New(start time.Time, initialWordCount int) *Session {
	return &Session{
		ID:               uuid.NewString(),
		StartTime:        start,
		InitialWordCount: initialWordCount,
		HumanScore:       InitialScore,
		Events:           []Sample{{T: start.UnixMilli(), C: 0}},
		Edits:            []EditEntry{},
		Penalties:        []PenaltyRecord{},
	}
}

// Append records a sample. Samples arrive in timer-fire order, which is
// wall-clock order; the log never reorders.
func (s *Session) Append(sample Sample) error {
	if s.ended {
		return ErrEnded
	}
	s.Events = append(s.Events, sample)
	s.CharactersTyped = sample.C
	return nil
}

// End seals the session. Further mutation returns ErrEnded.
func (s *Session) End(end time.Time, finalWordCount, finalCharCount int) error {
	if s.ended {
		return ErrEnded
	}
	s.Events = append(s.Events, Sample{T: end.UnixMilli(), C: finalCharCount})
	s.EndTime = end
	s.FinalWordCount = finalWordCount
	s.CharactersTyped = finalCharCount
	s.ended = true
	return nil
}

// Ended reports whether the session has been sealed.
func (s *Session) Ended() bool {
	return s.ended
}

// Duration returns the active time of the session. For a still-active
// session it measures up to now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := s.EndTime
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartTime)
}

// Seal marks a session loaded from storage as ended without mutating its
// recorded fields.
func (s *Session) Seal() {
	s.ended = true
}

// Archive is the append-only sequence of ended sessions.
type Archive struct {
	Sessions []*Session `json:"sessions"`
}

// Append adds an ended session to the archive.
func (a *Archive) Append(s *Session) error {
	if !s.ended {
		return errors.New("session: cannot archive an active session")
	}
	a.Sessions = append(a.Sessions, s)
	return nil
}

// Len returns the number of archived sessions.
func (a *Archive) Len() int {
	return len(a.Sessions)
}

// TotalActiveTime sums end−start across archived sessions.
func (a *Archive) TotalActiveTime() time.Duration {
	var total time.Duration
	for _, s := range a.Sessions {
		total += s.EndTime.Sub(s.StartTime)
	}
	return total
}

// TotalCharactersTyped sums the final character counts of archived
// sessions.
func (a *Archive) TotalCharactersTyped() int {
	total := 0
	for _, s := range a.Sessions {
		total += s.CharactersTyped
	}
	return total
}

// FlagCounts counts sessions with each flag set.
func (a *Archive) FlagCounts() (largePaste, speedSpike, sustainedSpeed int) {
	for _, s := range a.Sessions {
		if s.Flags.LargePaste {
			largePaste++
		}
		if s.Flags.SpeedSpike {
			speedSpike++
		}
		if s.Flags.SustainedSpeed {
			sustainedSpeed++
		}
	}
	return
}
