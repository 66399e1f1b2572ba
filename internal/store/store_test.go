package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willchan-117/human-verifier/internal/session"
)

// Test helpers

func testArchive(t *testing.T) *session.Archive {
	t.Helper()
	base := time.Date(2025, 4, 2, 14, 0, 0, 0, time.UTC)

	s1 := session.New(base, 0)
	require.NoError(t, s1.Append(session.Sample{T: base.UnixMilli() + 1500, C: 40}))
	require.NoError(t, s1.End(base.Add(3*time.Minute), 120, 640))

	s2 := session.New(base.Add(20*time.Minute), 120)
	s2.Flags.Set(session.LargePaste)
	s2.HumanScore = 73
	s2.Penalties = append(s2.Penalties, session.PenaltyRecord{Type: session.LargePaste, Magnitude: 55, Penalty: 27})
	s2.Edits = append(s2.Edits, session.EditEntry{
		Timestamp: base.Format(time.RFC3339), WordCount: 175, WordsAdded: 55, Flag: session.LargePaste,
	})
	require.NoError(t, s2.End(base.Add(25*time.Minute), 175, 980))

	a := &session.Archive{}
	require.NoError(t, a.Append(s1))
	require.NoError(t, a.Append(s2))
	return a
}

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenSQLite(path, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// failingStore always errors, for chain tests.
type failingStore struct{}

func (failingStore) SaveArchive(*session.Archive) error          { return errors.New("backend down") }
func (failingStore) LoadArchive() (*session.Archive, error)      { return nil, errors.New("backend down") }
func (failingStore) Close() error                                { return nil }

// SQLite backend

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	want := testArchive(t)

	require.NoError(t, s.SaveArchive(want))

	got, err := s.LoadArchive()
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	first, second := got.Sessions[0], got.Sessions[1]
	assert.Equal(t, want.Sessions[0].ID, first.ID)
	assert.Equal(t, 640, first.CharactersTyped)
	assert.Len(t, first.Events, 3)
	assert.True(t, first.Ended(), "loaded sessions must be sealed")

	assert.True(t, second.Flags.LargePaste)
	assert.Equal(t, 73, second.HumanScore)
	require.Len(t, second.Penalties, 1)
	assert.Equal(t, 27, second.Penalties[0].Penalty)
	require.Len(t, second.Edits, 1)
	assert.Equal(t, 55, second.Edits[0].WordsAdded)
}

func TestSQLiteEmpty(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.LoadArchive()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestSQLiteIdempotentSave(t *testing.T) {
	s := openTestSQLite(t)
	a := testArchive(t)

	require.NoError(t, s.SaveArchive(a))
	require.NoError(t, s.SaveArchive(a))

	got, err := s.LoadArchive()
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len(), "re-saving the archive must not duplicate sessions")
}

// File backend

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	f := NewFile(path)
	want := testArchive(t)

	require.NoError(t, f.SaveArchive(want))

	got, err := f.LoadArchive()
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	assert.True(t, got.Sessions[0].Ended())
}

func TestFileEmpty(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	_, err := f.LoadArchive()
	assert.ErrorIs(t, err, ErrEmpty)
}

// Chain

func TestChainFallsBackOnSave(t *testing.T) {
	dir := t.TempDir()
	fallback := NewFile(filepath.Join(dir, "fallback.json"))
	chain := NewChain(failingStore{}, fallback)

	a := testArchive(t)
	require.NoError(t, chain.SaveArchive(a), "chain should fall back to the file backend")

	got, err := fallback.LoadArchive()
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
}

func TestChainAllBackendsFail(t *testing.T) {
	chain := NewChain(failingStore{}, failingStore{})
	err := chain.SaveArchive(testArchive(t))
	assert.ErrorIs(t, err, ErrAllBackendsFailed)
}

func TestChainLoadSkipsEmptyBackend(t *testing.T) {
	dir := t.TempDir()
	primary := NewFile(filepath.Join(dir, "primary.json"))
	fallback := NewFile(filepath.Join(dir, "fallback.json"))
	require.NoError(t, fallback.SaveArchive(testArchive(t)))

	chain := NewChain(primary, fallback)
	got, err := chain.LoadArchive()
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
}

// Token store

func TestTokenRoundTrip(t *testing.T) {
	ts := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))

	rec := TokenRecord{
		Token:        "HV-1A2B3C4D",
		DocumentHash: "deadbeef",
		IssuedAt:     time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, ts.Save(rec))

	got, err := ts.Load()
	require.NoError(t, err)
	assert.Equal(t, rec.Token, got.Token)
	assert.Equal(t, rec.DocumentHash, got.DocumentHash)
}

func TestTokenClear(t *testing.T) {
	ts := NewTokenStore(filepath.Join(t.TempDir(), "token.json"))

	require.NoError(t, ts.Save(TokenRecord{Token: "HV-00000000", IssuedAt: time.Now()}))
	require.NoError(t, ts.Clear())

	_, err := ts.Load()
	assert.ErrorIs(t, err, ErrNoToken)

	// Clearing again is not an error.
	assert.NoError(t, ts.Clear())
}

func TestTokenTamperDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	ts := NewTokenStore(path)

	require.NoError(t, ts.Save(TokenRecord{Token: "HV-AAAA1111", IssuedAt: time.Now()}))

	// Edit the token in place, keeping the stale MAC.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var env tokenEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	env.Record.Token = "HV-FORGED00"
	forged, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, forged, 0600))

	_, err = ts.Load()
	assert.ErrorIs(t, err, ErrTokenTampered)
}
