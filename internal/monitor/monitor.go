// Package monitor drives the session state machine from periodic
// document observations.
//
// A single goroutine owns all state. The background monitor tick decides
// when to enter Active and invalidates the standing verification token
// on new edits; the sampling tick feeds the event log, the anomaly
// detector and the scoring engine while a session is Active. External
// requests are executed on the same goroutine through a command channel,
// so ticks and requests never overlap.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/willchan-117/human-verifier/internal/config"
	"github.com/willchan-117/human-verifier/internal/detector"
	"github.com/willchan-117/human-verifier/internal/document"
	"github.com/willchan-117/human-verifier/internal/logging"
	"github.com/willchan-117/human-verifier/internal/report"
	"github.com/willchan-117/human-verifier/internal/scoring"
	"github.com/willchan-117/human-verifier/internal/session"
	"github.com/willchan-117/human-verifier/internal/store"
)

// Errors.
var (
	ErrNotRunning       = errors.New("monitor: not running")
	ErrExportInProgress = errors.New("monitor: export already in progress")
	ErrNothingToExport  = errors.New("monitor: no ended sessions to export")
)

// State is the session state machine's observable state. Ended is a
// per-session property, not a machine state: after a session ends the
// machine is Idle again.
type State int

// States.
const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	State            State         `json:"state"`
	SessionID        string        `json:"sessionId,omitempty"`
	SessionStart     time.Time     `json:"sessionStart,omitzero"`
	HumanScore       int           `json:"humanScore"`
	Flags            session.Flags `json:"flags"`
	WordCount        int           `json:"wordCount"`
	CharCount        int           `json:"charCount"`
	ArchivedSessions int           `json:"archivedSessions"`
	Token            string        `json:"token,omitempty"`
	TokenIssuedAt    time.Time     `json:"tokenIssuedAt,omitzero"`
}

// Monitor owns the session state machine, the archive and the standing
// verification token.
type Monitor struct {
	cfg    *config.Config
	reader document.Reader
	det    *detector.Detector
	scorer *scoring.Engine
	build  *report.Builder
	stores store.Store
	tokens *store.TokenStore
	log    *logging.Logger
	now    func() time.Time

	watcher *document.Watcher

	// state below is owned by the run goroutine
	cur     *session.Session
	win     *detector.Window
	archive *session.Archive

	// latest observation, shared by both ticks
	words, chars int
	// monitor loop's previous word count
	monPrev   int
	baselined bool
	// sampling tick's previous counts, reset per session
	tickWords, tickChars int
	startChars           int
	lastChange    time.Time
	tokenStanding bool
	standingToken store.TokenRecord

	exporting atomic.Bool

	cmds    chan func()
	done    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

// New assembles a monitor. Any previously persisted archive is loaded so
// exports cover earlier runs; a missing archive is not an error.
func New(cfg *config.Config, reader document.Reader, stores store.Store, tokens *store.TokenStore, log *logging.Logger) (*Monitor, error) {
	if log == nil {
		log = logging.Default()
	}

	archive, err := stores.LoadArchive()
	if err != nil {
		if !errors.Is(err, store.ErrEmpty) {
			log.Warn("archive load failed, starting fresh", "error", err)
		}
		archive = &session.Archive{}
	} else {
		log.Info("archive loaded", "sessions", archive.Len())
	}

	m := &Monitor{
		cfg:    cfg,
		reader: reader,
		det: detector.New(detector.Config{
			LargePasteWords:  cfg.Detector.LargePasteWords,
			SpeedSpikeWords:  cfg.Detector.SpeedSpikeWords,
			SustainedWPM:     cfg.Detector.SustainedWPM,
			SustainedMinSpan: time.Duration(cfg.Detector.SustainedMinSpanMs) * time.Millisecond,
			WindowSpan:       cfg.Detector.SustainedWindow(),
			MagnitudeCap:     cfg.Detector.MagnitudeCap,
		}),
		scorer: scoring.New(scoring.Config{
			LargePasteMax:  cfg.Scoring.LargePasteMax,
			SpeedSpikeMax:  cfg.Scoring.SpeedSpikeMax,
			SustainedSpeed: cfg.Scoring.SustainedSpeed,
			LogRepeats:     cfg.Scoring.LogRepeats,
		}),
		build:   report.NewBuilder(),
		stores:  stores,
		tokens:  tokens,
		log:     log.WithComponent("monitor"),
		now:     time.Now,
		win:     detector.NewWindow(cfg.Detector.SustainedWindow()),
		archive: archive,
		cmds:    make(chan func()),
		done:    make(chan struct{}),
	}

	if rec, err := tokens.Load(); err == nil {
		m.tokenStanding = true
		m.standingToken = rec
	} else if errors.Is(err, store.ErrTokenTampered) {
		log.Warn("standing token failed integrity check, discarding", "error", err)
		_ = tokens.Clear()
	}

	return m, nil
}

// SetWatcher attaches a filesystem watcher whose edit events invalidate
// the standing token between polls.
func (m *Monitor) SetWatcher(w *document.Watcher) {
	m.watcher = w
}

// Start launches the monitor goroutine. It returns immediately; the
// goroutine runs until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("monitor: already started")
	}

	var edits <-chan document.Edit
	if m.watcher != nil {
		if err := m.watcher.Start(); err != nil {
			m.log.Warn("document watcher unavailable, polling only", "error", err)
		} else {
			edits = m.watcher.Edits()
		}
	}

	m.wg.Add(1)
	go m.run(ctx, edits)
	return nil
}

// Wait blocks until the monitor goroutine has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, edits <-chan document.Edit) {
	defer m.wg.Done()
	defer close(m.done)

	poll := m.cfg.Monitor.PollInterval()
	monitorTicker := time.NewTicker(poll)
	defer monitorTicker.Stop()
	sampleTicker := time.NewTicker(poll)
	defer sampleTicker.Stop()

	m.log.Info("monitoring started", "poll", poll)

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return
		case <-monitorTicker.C:
			m.monitorTick()
		case <-sampleTicker.C:
			m.sampleTick()
		case e, ok := <-edits:
			if !ok {
				edits = nil
				continue
			}
			m.log.Diag("document file changed", "path", e.Path)
			m.invalidateToken("document file changed on disk")
		case cmd := <-m.cmds:
			cmd()
		}
	}
}

func (m *Monitor) teardown() {
	if m.cur != nil {
		m.endSession(m.now())
	}
	if m.watcher != nil {
		_ = m.watcher.Stop()
	}
	m.log.Info("monitoring stopped", "archived_sessions", m.archive.Len())
}

// do runs fn on the monitor goroutine and waits for it.
func (m *Monitor) do(fn func() error) error {
	if !m.started.Load() {
		return ErrNotRunning
	}
	errc := make(chan error, 1)
	select {
	case m.cmds <- func() { errc <- fn() }:
		return <-errc
	case <-m.done:
		return ErrNotRunning
	}
}

// observe refreshes the cached word/char counts. A read failure reuses
// the previous counts so no spurious deltas enter the pipeline.
func (m *Monitor) observe() {
	snap, err := m.reader.Snapshot()
	if err != nil {
		m.log.Diag("document read failed, reusing last counts", "error", err)
		return
	}
	m.words = snap.WordCount
	m.chars = snap.CharCount
}

// monitorTick watches the word count while Idle or Active. Any positive
// delta invalidates the standing token; while Idle it also requests the
// Idle to Active transition.
func (m *Monitor) monitorTick() {
	m.observe()

	if !m.baselined {
		m.baselined = true
		m.monPrev = m.words
		m.log.Diag("baseline captured", "words", m.words)
		return
	}

	prev := m.monPrev
	delta := m.words - prev
	m.monPrev = m.words
	if delta <= 0 {
		return
	}

	m.invalidateToken("new edits observed")

	if m.cur != nil {
		return
	}
	if delta >= m.cfg.Monitor.AutoStartJumpWords {
		m.log.Info("word count jumped while idle", "delta", delta)
	}
	// seed with the pre-jump count so the edit that triggered the start
	// still counts toward the session's total delta
	m.startSession(m.now(), prev)
}

// sampleTick advances an Active session: append a sample, evaluate the
// anomaly rules, apply penalties, and auto-stop after sustained
// inactivity.
func (m *Monitor) sampleTick() {
	if m.cur == nil {
		return
	}

	now := m.now()
	m.observe()

	if m.words != m.tickWords || m.chars != m.tickChars {
		m.lastChange = now
	} else if now.Sub(m.lastChange) >= m.cfg.Monitor.AutoStopAfter() {
		m.log.Info("auto-stop after inactivity", "idle", now.Sub(m.lastChange).Round(time.Second))
		m.endSession(now)
		return
	}

	tickDelta := m.words - m.tickWords
	m.tickWords, m.tickChars = m.words, m.chars

	if err := m.cur.Append(session.Sample{T: now.UnixMilli(), C: m.charsTyped()}); err != nil {
		return
	}

	m.win.Add(now, m.words)
	obs := detector.Observation{
		Now:        now,
		WordCount:  m.words,
		TickDelta:  tickDelta,
		TotalDelta: m.words - m.cur.InitialWordCount,
	}
	for _, a := range m.det.Evaluate(obs, m.cur.Flags, m.win) {
		if m.scorer.Apply(m.cur, a, now) {
			m.log.Warn("anomaly detected",
				"type", a.Type,
				"magnitude", a.Magnitude,
				"score", m.cur.HumanScore,
				"session", m.cur.ID)
		}
	}
}

func (m *Monitor) charsTyped() int {
	return max(0, m.chars-m.startChars)
}

// startSession enters Active. initialWords is the word count the
// session measures growth against; an auto-start passes the pre-jump
// count so the first sampling tick sees the triggering edit as total
// growth. The per-tick baseline stays at the current count, so the jump
// registers as accumulated growth rather than a single-tick burst.
func (m *Monitor) startSession(now time.Time, initialWords int) {
	m.cur = session.New(now, initialWords)
	m.startChars = m.chars
	m.tickWords, m.tickChars = m.words, m.chars
	m.lastChange = now
	m.win.Reset()
	m.win.Add(now, m.words)
	m.log.Info("session started", "session", m.cur.ID, "words", initialWords)
}

func (m *Monitor) endSession(now time.Time) {
	s := m.cur
	if s == nil {
		return
	}
	m.cur = nil
	m.win.Reset()

	if err := s.End(now, m.words, m.charsTyped()); err != nil {
		m.log.Error("session end failed", "session", s.ID, "error", err)
		return
	}
	if err := m.archive.Append(s); err != nil {
		m.log.Error("archive append failed", "session", s.ID, "error", err)
		return
	}
	if err := m.stores.SaveArchive(m.archive); err != nil {
		m.log.Error("archive persist failed", "error", err)
	}
	m.invalidateToken("session ended")

	m.log.Info("session ended",
		"session", s.ID,
		"duration", s.Duration(now).Round(time.Second),
		"score", s.HumanScore,
		"flagged", s.Flags.Any())
}

func (m *Monitor) invalidateToken(reason string) {
	if !m.tokenStanding {
		return
	}
	m.tokenStanding = false
	m.standingToken = store.TokenRecord{}
	if err := m.tokens.Clear(); err != nil {
		m.log.Warn("token clear failed", "error", err)
		return
	}
	m.log.Info("verification token invalidated", "reason", reason)
}

// StartSession explicitly enters Active. Starting while Active is a
// no-op.
func (m *Monitor) StartSession() error {
	return m.do(func() error {
		if m.cur != nil {
			return nil
		}
		m.observe()
		m.baselined = true
		m.monPrev = m.words
		m.startSession(m.now(), m.words)
		return nil
	})
}

// EndSession explicitly ends the Active session. Ending while Idle is a
// no-op.
func (m *Monitor) EndSession() error {
	return m.do(func() error {
		if m.cur == nil {
			return nil
		}
		m.observe()
		m.endSession(m.now())
		return nil
	})
}

// Status returns a snapshot of the monitor state.
func (m *Monitor) Status() (Status, error) {
	var st Status
	err := m.do(func() error {
		st = Status{
			State:            StateIdle,
			WordCount:        m.words,
			CharCount:        m.chars,
			ArchivedSessions: m.archive.Len(),
		}
		if m.cur != nil {
			st.State = StateActive
			st.SessionID = m.cur.ID
			st.SessionStart = m.cur.StartTime
			st.HumanScore = m.cur.HumanScore
			st.Flags = m.cur.Flags
		}
		if m.tokenStanding {
			st.Token = m.standingToken.Token
			st.TokenIssuedAt = m.standingToken.IssuedAt
		}
		return nil
	})
	return st, err
}

// History returns a copy of the archived sessions.
func (m *Monitor) History() ([]*session.Session, error) {
	var out []*session.Session
	err := m.do(func() error {
		out = make([]*session.Session, len(m.archive.Sessions))
		copy(out, m.archive.Sessions)
		return nil
	})
	return out, err
}

// Export ends any Active session, builds a verification package over the
// archive and persists the fresh token so later edits can invalidate it.
// A concurrent export is rejected, not queued.
func (m *Monitor) Export() (*report.Package, error) {
	if !m.exporting.CompareAndSwap(false, true) {
		return nil, ErrExportInProgress
	}
	defer m.exporting.Store(false)

	var pkg *report.Package
	err := m.do(func() error {
		if m.cur != nil {
			m.observe()
			m.endSession(m.now())
		}
		if m.archive.Len() == 0 {
			return ErrNothingToExport
		}

		docHash, err := document.HashReader(m.reader)
		if err != nil {
			m.log.Warn("document hash unavailable", "error", err)
			docHash = ""
		}

		token, err := report.GenerateToken()
		if err != nil {
			return err
		}

		pkg, err = m.build.Build(m.archive, token, docHash)
		if err != nil {
			return fmt.Errorf("monitor: build package: %w", err)
		}

		rec := store.TokenRecord{Token: token, DocumentHash: docHash, IssuedAt: m.now()}
		if err := m.tokens.Save(rec); err != nil {
			m.log.Warn("token persist failed", "error", err)
		} else {
			m.tokenStanding = true
			m.standingToken = rec
		}

		m.log.Info("verification package exported",
			"token", token,
			"sessions", m.archive.Len(),
			"hash", pkg.Hash)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pkg, nil
}
