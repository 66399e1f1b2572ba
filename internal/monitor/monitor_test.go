package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/willchan-117/human-verifier/internal/config"
	"github.com/willchan-117/human-verifier/internal/document"
	"github.com/willchan-117/human-verifier/internal/session"
	"github.com/willchan-117/human-verifier/internal/store"
)

type fakeReader struct {
	snap document.Snapshot
	err  error
	text []byte
}

func (f *fakeReader) Snapshot() (document.Snapshot, error) {
	if f.err != nil {
		return document.Snapshot{}, f.err
	}
	return f.snap, nil
}

func (f *fakeReader) Chunks() ([][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.text) == 0 {
		return nil, document.ErrUnreadable
	}
	return [][]byte{f.text}, nil
}

func (f *fakeReader) set(words, chars int) {
	f.snap = document.Snapshot{WordCount: words, CharCount: chars}
}

type harness struct {
	m      *Monitor
	reader *fakeReader
	tokens *store.TokenStore
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Storage.Type = "file"
	cfg.Storage.FallbackPath = filepath.Join(dir, "sessions.json")
	cfg.Storage.TokenPath = filepath.Join(dir, "token.json")

	reader := &fakeReader{}
	tokens := store.NewTokenStore(cfg.Storage.TokenPath)
	backends := store.NewChain(store.NewFile(cfg.Storage.FallbackPath))

	m, err := New(cfg, reader, backends, tokens, nil)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}

	h := &harness{
		m:      m,
		reader: reader,
		tokens: tokens,
		clock:  time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC),
	}
	m.now = func() time.Time { return h.clock }
	return h
}

// tick advances the fake clock by the poll interval and fires both loops
// in monitor-then-sample order, matching the run loop's interleaving.
func (h *harness) tick() {
	h.clock = h.clock.Add(h.m.cfg.Monitor.PollInterval())
	h.m.monitorTick()
	h.m.sampleTick()
}

func TestAutoStartOnPositiveDelta(t *testing.T) {
	h := newHarness(t)
	h.reader.set(100, 600)
	h.tick() // baseline

	if h.m.cur != nil {
		t.Fatal("session started before any edit")
	}

	h.reader.set(103, 620)
	h.tick()

	if h.m.cur == nil {
		t.Fatal("positive delta did not start a session")
	}
	// the session measures growth from the pre-edit count, so the edit
	// that started it still counts
	if got := h.m.cur.InitialWordCount; got != 100 {
		t.Errorf("initialWordCount = %d, want 100", got)
	}
	if len(h.m.cur.Events) == 0 || h.m.cur.Events[0].C != 0 {
		t.Error("initial sample is not zero chars-relative")
	}
}

func TestIdleBulkPasteFlagsLargePaste(t *testing.T) {
	h := newHarness(t)
	h.reader.set(10, 60)
	h.tick() // baseline

	// a 55-word paste into the unmonitored document both starts the
	// session and latches largePaste on the first sampling tick
	h.reader.set(65, 390)
	h.tick()

	s := h.m.cur
	if s == nil {
		t.Fatal("bulk paste did not start a session")
	}
	if s.InitialWordCount != 10 {
		t.Fatalf("initialWordCount = %d, want pre-paste 10", s.InitialWordCount)
	}
	if !s.Flags.LargePaste {
		t.Fatal("largePaste not latched for the triggering paste")
	}
	if s.Flags.SpeedSpike {
		t.Error("speedSpike latched for accumulated growth")
	}
	if len(s.Penalties) != 1 {
		t.Fatalf("penalties = %d, want 1", len(s.Penalties))
	}
	p := s.Penalties[0]
	if p.Magnitude != 55 || p.Penalty != 27 {
		t.Errorf("magnitude/penalty = %d/%d, want 55/27", p.Magnitude, p.Penalty)
	}
	if s.HumanScore != 73 {
		t.Errorf("score = %d, want 73", s.HumanScore)
	}
}

func TestStartingWhileActiveIsNoop(t *testing.T) {
	h := newHarness(t)
	h.reader.set(10, 50)
	h.tick()
	h.reader.set(12, 60)
	h.tick()

	first := h.m.cur
	h.reader.set(14, 70)
	h.tick()

	if h.m.cur != first {
		t.Error("a second session replaced the active one")
	}
}

func TestGradualPasteAccumulationFlagsLargePaste(t *testing.T) {
	h := newHarness(t)
	h.reader.set(100, 500)
	h.tick()
	h.reader.set(101, 506)
	h.tick() // session starts, measuring growth from 100 words

	// three ticks of +18 words stay under the per-tick spike threshold
	// but cross the 50-word total
	words := 101
	for i := 0; i < 3; i++ {
		words += 18
		h.reader.set(words, words*6)
		h.tick()
	}

	s := h.m.cur
	if s == nil {
		t.Fatal("no active session")
	}
	if !s.Flags.LargePaste {
		t.Fatal("largePaste flag not set")
	}
	if s.Flags.SpeedSpike {
		t.Error("speedSpike set without a per-tick spike")
	}
	// 55 words over initial 100: penalty floor(55*50/100) = 27
	if len(s.Penalties) != 1 {
		t.Fatalf("penalties = %d, want 1", len(s.Penalties))
	}
	p := s.Penalties[0]
	if p.Type != session.LargePaste {
		t.Errorf("penalty type = %s", p.Type)
	}
	if s.HumanScore != 100-p.Penalty {
		t.Errorf("score = %d, want %d", s.HumanScore, 100-p.Penalty)
	}
}

func TestSpeedSpikePenalty(t *testing.T) {
	h := newHarness(t)
	h.reader.set(200, 1000)
	h.tick()
	h.reader.set(201, 1006)
	h.tick() // start with a small delta

	h.reader.set(226, 1150)
	h.tick() // +25 words in one tick

	s := h.m.cur
	if s == nil {
		t.Fatal("no active session")
	}
	if !s.Flags.SpeedSpike {
		t.Fatal("speedSpike flag not set")
	}
	var spike *session.PenaltyRecord
	for i := range s.Penalties {
		if s.Penalties[i].Type == session.SpeedSpike {
			spike = &s.Penalties[i]
		}
	}
	if spike == nil {
		t.Fatal("no speedSpike penalty recorded")
	}
	if spike.Magnitude != 25 || spike.Penalty != 15 {
		t.Errorf("spike magnitude/penalty = %d/%d, want 25/15", spike.Magnitude, spike.Penalty)
	}
}

func TestReadFailureReusesLastCounts(t *testing.T) {
	h := newHarness(t)
	h.reader.set(50, 300)
	h.tick()
	h.reader.set(52, 310)
	h.tick()

	s := h.m.cur
	if s == nil {
		t.Fatal("no active session")
	}
	before := len(s.Penalties)

	h.reader.err = document.ErrUnreadable
	h.tick()
	h.tick()

	if h.m.words != 52 || h.m.chars != 310 {
		t.Errorf("counts drifted on read failure: %d/%d", h.m.words, h.m.chars)
	}
	if len(s.Penalties) != before {
		t.Error("read failure introduced a penalty")
	}
}

func TestAutoStopArchivesAndPersists(t *testing.T) {
	h := newHarness(t)
	h.reader.set(10, 60)
	h.tick()
	h.reader.set(40, 240)
	h.tick()

	if h.m.cur == nil {
		t.Fatal("no active session")
	}

	// no content change for longer than the auto-stop threshold
	h.clock = h.clock.Add(h.m.cfg.Monitor.AutoStopAfter())
	h.m.sampleTick()

	if h.m.cur != nil {
		t.Fatal("session still active after inactivity window")
	}
	if h.m.archive.Len() != 1 {
		t.Fatalf("archive len = %d, want 1", h.m.archive.Len())
	}
	s := h.m.archive.Sessions[0]
	if !s.Ended() {
		t.Error("archived session not sealed")
	}
	if s.FinalWordCount != 40 {
		t.Errorf("finalWordCount = %d, want 40", s.FinalWordCount)
	}

	loaded, err := store.NewFile(h.m.cfg.Storage.FallbackPath).LoadArchive()
	if err != nil {
		t.Fatalf("load persisted archive: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("persisted archive len = %d, want 1", loaded.Len())
	}
}

func TestEditInvalidatesStandingToken(t *testing.T) {
	h := newHarness(t)
	rec := store.TokenRecord{Token: "HV-AAAA1111", IssuedAt: h.clock}
	if err := h.tokens.Save(rec); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	h.m.tokenStanding = true
	h.m.standingToken = rec

	h.reader.set(10, 50)
	h.tick() // baseline, no delta yet
	if !h.m.tokenStanding {
		t.Fatal("token invalidated without an edit")
	}

	h.reader.set(11, 56)
	h.tick()

	if h.m.tokenStanding {
		t.Fatal("token still standing after a positive delta")
	}
	if _, err := h.tokens.Load(); !errors.Is(err, store.ErrNoToken) {
		t.Errorf("persisted token not cleared: %v", err)
	}
}

func TestExportLifecycle(t *testing.T) {
	h := newHarness(t)
	h.reader.set(5, 30)
	h.reader.text = []byte("five words of sample text")
	// keep the tickers quiet so only command dispatch runs
	h.m.cfg.Monitor.PollMs = 3600_000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := h.m.Export(); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("export of empty archive: %v", err)
	}

	if err := h.m.StartSession(); err != nil {
		t.Fatalf("start session: %v", err)
	}
	h.clock = h.clock.Add(90 * time.Second)
	h.reader.set(45, 260)
	if err := h.m.EndSession(); err != nil {
		t.Fatalf("end session: %v", err)
	}

	pkg, err := h.m.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if pkg.Token == "" || pkg.Hash == "" {
		t.Error("package missing token or hash")
	}

	rec, err := h.tokens.Load()
	if err != nil {
		t.Fatalf("load persisted token: %v", err)
	}
	if rec.Token != pkg.Token {
		t.Errorf("persisted token %q != package token %q", rec.Token, pkg.Token)
	}
	if rec.DocumentHash != pkg.DocumentHash {
		t.Error("persisted document hash differs from package")
	}

	st, err := h.m.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State != StateIdle {
		t.Errorf("state = %s, want idle", st.State)
	}
	if st.Token != pkg.Token {
		t.Errorf("status token = %q", st.Token)
	}
	if st.ArchivedSessions != 1 {
		t.Errorf("archived sessions = %d, want 1", st.ArchivedSessions)
	}

	cancel()
	h.m.Wait()
}

func TestExportReentrancyGuard(t *testing.T) {
	h := newHarness(t)
	h.m.exporting.Store(true)
	if _, err := h.m.Export(); !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("err = %v, want ErrExportInProgress", err)
	}
}
