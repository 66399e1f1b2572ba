// Package detector classifies suspicious editing patterns from word-count
// observations.
//
// Each anomaly class is a Rule evaluated independently against the latest
// observation, the session's latch flags and the sliding speed window. A
// rule fires at most once per evaluation, and a latched rule stays silent,
// so a given anomaly type activates at most once per session. Detection
// never returns an error to the tick loop: the worst case is a flag that
// fails to fire.
package detector

import (
	"math"
	"time"

	"github.com/willchan-117/human-verifier/internal/session"
)

// Observation is one sampling tick's view of the document.
type Observation struct {
	// Now is the tick time.
	Now time.Time
	// WordCount is the current document word count.
	WordCount int
	// TickDelta is words added since the previous tick. Negative on
	// deletions.
	TickDelta int
	// TotalDelta is words added since session start. Negative when the
	// document shrank below its initial size.
	TotalDelta int
}

// Anomaly is a detected suspicious pattern.
type Anomaly struct {
	Type session.AnomalyType
	// Magnitude is words added for pastes and spikes, rounded WPM for
	// sustained speed.
	Magnitude int
	// WordCount is the document word count at detection time.
	WordCount int
}

// Rule evaluates one anomaly class. It returns nil when the rule does not
// fire. Rules must treat a set latch as a standing no-fire condition.
type Rule interface {
	// Name is the rule's anomaly type.
	Name() session.AnomalyType

	// Evaluate inspects the observation and returns an anomaly when the
	// rule's condition is first met.
	Evaluate(obs Observation, flags session.Flags, win *Window) *Anomaly
}

// Config holds detection thresholds.
type Config struct {
	LargePasteWords  int
	SpeedSpikeWords  int
	SustainedWPM     float64
	SustainedMinSpan time.Duration
	WindowSpan       time.Duration
	MagnitudeCap     int
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		LargePasteWords:  50,
		SpeedSpikeWords:  20,
		SustainedWPM:     120,
		SustainedMinSpan: 10 * time.Second,
		WindowSpan:       60 * time.Second,
		MagnitudeCap:     10000,
	}
}

// Detector runs all anomaly rules against each new observation.
type Detector struct {
	rules []Rule
}

// New creates a detector with the three standard rules.
func New(cfg Config) *Detector {
	return &Detector{
		rules: []Rule{
			&largePasteRule{threshold: cfg.LargePasteWords, cap: cfg.MagnitudeCap},
			&speedSpikeRule{threshold: cfg.SpeedSpikeWords, cap: cfg.MagnitudeCap},
			&sustainedSpeedRule{wpm: cfg.SustainedWPM, minSpan: cfg.SustainedMinSpan},
		},
	}
}

// Evaluate runs every rule and collects at most one anomaly per rule.
func (d *Detector) Evaluate(obs Observation, flags session.Flags, win *Window) []Anomaly {
	var out []Anomaly
	for _, r := range d.rules {
		if a := r.Evaluate(obs, flags, win); a != nil {
			out = append(out, *a)
		}
	}
	return out
}

// largePasteRule fires the first time the total added words since session
// start reach the threshold.
type largePasteRule struct {
	threshold int
	cap       int
}

func (r *largePasteRule) Name() session.AnomalyType { return session.LargePaste }

func (r *largePasteRule) Evaluate(obs Observation, flags session.Flags, _ *Window) *Anomaly {
	if flags.Has(session.LargePaste) {
		return nil
	}
	if obs.TotalDelta < r.threshold {
		return nil
	}
	return &Anomaly{
		Type:      session.LargePaste,
		Magnitude: min(obs.TotalDelta, r.cap),
		WordCount: obs.WordCount,
	}
}

// speedSpikeRule fires the first tick whose single-interval word delta
// reaches the threshold.
type speedSpikeRule struct {
	threshold int
	cap       int
}

func (r *speedSpikeRule) Name() session.AnomalyType { return session.SpeedSpike }

func (r *speedSpikeRule) Evaluate(obs Observation, flags session.Flags, _ *Window) *Anomaly {
	if flags.Has(session.SpeedSpike) {
		return nil
	}
	if obs.TickDelta < r.threshold {
		return nil
	}
	return &Anomaly{
		Type:      session.SpeedSpike,
		Magnitude: min(obs.TickDelta, r.cap),
		WordCount: obs.WordCount,
	}
}

// sustainedSpeedRule fires once the sliding window spans more than the
// minimum, the word delta across it is positive and the derived rate
// reaches the WPM threshold.
type sustainedSpeedRule struct {
	wpm     float64
	minSpan time.Duration
}

func (r *sustainedSpeedRule) Name() session.AnomalyType { return session.SustainedSpeed }

func (r *sustainedSpeedRule) Evaluate(obs Observation, flags session.Flags, win *Window) *Anomaly {
	if flags.Has(session.SustainedSpeed) {
		return nil
	}
	if win == nil {
		return nil
	}

	rate, ok := win.Rate(obs.Now, obs.WordCount, r.minSpan)
	if !ok || rate < r.wpm {
		return nil
	}
	return &Anomaly{
		Type:      session.SustainedSpeed,
		Magnitude: int(math.Round(rate)),
		WordCount: obs.WordCount,
	}
}
