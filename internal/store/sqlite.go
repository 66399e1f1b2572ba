package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/willchan-117/human-verifier/internal/session"
)

// Schema for the session archive.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    start_ms        INTEGER NOT NULL,
    end_ms          INTEGER NOT NULL,
    initial_words   INTEGER NOT NULL,
    final_words     INTEGER NOT NULL,
    chars_typed     INTEGER NOT NULL,
    human_score     INTEGER NOT NULL,
    flag_large_paste     INTEGER NOT NULL DEFAULT 0,
    flag_speed_spike     INTEGER NOT NULL DEFAULT 0,
    flag_sustained_speed INTEGER NOT NULL DEFAULT 0,
    events          TEXT NOT NULL,
    edits           TEXT NOT NULL,
    penalties       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_ms);
`

// SQLite is the primary archive backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string, busyTimeout time.Duration) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveArchive upserts every archived session in one transaction.
func (s *SQLite) SaveArchive(a *session.Archive) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO sessions
		(id, start_ms, end_ms, initial_words, final_words, chars_typed, human_score,
		 flag_large_paste, flag_speed_spike, flag_sustained_speed, events, edits, penalties)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, sess := range a.Sessions {
		events, err := json.Marshal(sess.Events)
		if err != nil {
			return fmt.Errorf("marshal events: %w", err)
		}
		edits, err := json.Marshal(sess.Edits)
		if err != nil {
			return fmt.Errorf("marshal edits: %w", err)
		}
		penalties, err := json.Marshal(sess.Penalties)
		if err != nil {
			return fmt.Errorf("marshal penalties: %w", err)
		}

		_, err = stmt.Exec(
			sess.ID,
			sess.StartTime.UnixMilli(),
			sess.EndTime.UnixMilli(),
			sess.InitialWordCount,
			sess.FinalWordCount,
			sess.CharactersTyped,
			sess.HumanScore,
			boolToInt(sess.Flags.LargePaste),
			boolToInt(sess.Flags.SpeedSpike),
			boolToInt(sess.Flags.SustainedSpeed),
			string(events),
			string(edits),
			string(penalties),
		)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", sess.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadArchive reads all sessions in start-time order.
func (s *SQLite) LoadArchive() (*session.Archive, error) {
	rows, err := s.db.Query(`
		SELECT id, start_ms, end_ms, initial_words, final_words, chars_typed, human_score,
		       flag_large_paste, flag_speed_spike, flag_sustained_speed, events, edits, penalties
		FROM sessions
		ORDER BY start_ms ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	archive := &session.Archive{}
	for rows.Next() {
		var (
			sess                session.Session
			startMs, endMs      int64
			lp, ss, sus         int
			events, edits, pens string
		)
		if err := rows.Scan(
			&sess.ID, &startMs, &endMs,
			&sess.InitialWordCount, &sess.FinalWordCount, &sess.CharactersTyped, &sess.HumanScore,
			&lp, &ss, &sus, &events, &edits, &pens,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		sess.StartTime = time.UnixMilli(startMs)
		sess.EndTime = time.UnixMilli(endMs)
		sess.Flags = session.Flags{LargePaste: lp != 0, SpeedSpike: ss != 0, SustainedSpeed: sus != 0}

		if err := json.Unmarshal([]byte(events), &sess.Events); err != nil {
			return nil, fmt.Errorf("unmarshal events: %w", err)
		}
		if err := json.Unmarshal([]byte(edits), &sess.Edits); err != nil {
			return nil, fmt.Errorf("unmarshal edits: %w", err)
		}
		if err := json.Unmarshal([]byte(pens), &sess.Penalties); err != nil {
			return nil, fmt.Errorf("unmarshal penalties: %w", err)
		}

		sess.Seal()
		archive.Sessions = append(archive.Sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	if archive.Len() == 0 {
		return nil, ErrEmpty
	}
	return archive, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
