package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Session is a stored recording session.
type Session struct {
	ID             string
	Name           string
	StartedAt      time.Time
	EndedAt        *time.Time
	SampleRate     int
	TranscriptPath string
	AudioPath      string
}

// Emission is a stored Record with its position in the session.
type Emission struct {
	ID        string
	SessionID string
	Seq       int
	Record    Record
	CreatedAt time.Time
}

// Store persists sessions and their emissions in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	startedAt REAL NOT NULL,
	endedAt REAL,
	sampleRate INTEGER NOT NULL,
	transcriptPath TEXT NOT NULL,
	audioPath TEXT
);

CREATE TABLE IF NOT EXISTS emissions (
	id TEXT PRIMARY KEY,
	sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	text TEXT NOT NULL,
	startSec REAL NOT NULL,
	endSec REAL NOT NULL,
	absoluteStart REAL NOT NULL,
	absoluteEnd REAL NOT NULL,
	words TEXT,
	createdAt REAL NOT NULL,
	UNIQUE(sessionId, seq)
);
`

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("transcript: open database: %w", err)
	}

	// One writer connection. This also keeps :memory: databases intact,
	// which live per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(sess Session) error {
	var audioPath any
	if sess.AudioPath != "" {
		audioPath = sess.AudioPath
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, name, startedAt, endedAt, sampleRate, transcriptPath, audioPath)
		VALUES (?, ?, ?, NULL, ?, ?, ?)
	`, sess.ID, sess.Name, unixFromTime(sess.StartedAt), sess.SampleRate, sess.TranscriptPath, audioPath)
	if err != nil {
		return fmt.Errorf("transcript: insert session: %w", err)
	}
	return nil
}

// EndSession marks the session as finished.
func (s *Store) EndSession(sessionID string, endedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET endedAt = ? WHERE id = ?`,
		unixFromTime(endedAt), sessionID)
	if err != nil {
		return fmt.Errorf("transcript: end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transcript: end session: unknown session %q", sessionID)
	}
	return nil
}

// AppendEmission stores one emitted record under the session at position seq.
func (s *Store) AppendEmission(sessionID string, seq int, rec Record) error {
	var words any
	if len(rec.Words) > 0 {
		data, err := json.Marshal(rec.Words)
		if err != nil {
			return fmt.Errorf("transcript: marshal words: %w", err)
		}
		words = string(data)
	}

	_, err := s.db.Exec(`
		INSERT INTO emissions (id, sessionId, seq, text, startSec, endSec, absoluteStart, absoluteEnd, words, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), sessionID, seq, rec.Text, rec.Start, rec.End,
		unixFromTime(rec.AbsoluteStart), unixFromTime(rec.AbsoluteEnd), words, unixFromTime(time.Now()))
	if err != nil {
		return fmt.Errorf("transcript: insert emission: %w", err)
	}
	return nil
}

// SessionByID returns the session with the given id, or nil if absent.
func (s *Store) SessionByID(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, name, startedAt, endedAt, sampleRate, transcriptPath, audioPath
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

// LatestSession returns the most recently started session, or nil if the
// store is empty.
func (s *Store) LatestSession() (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, name, startedAt, endedAt, sampleRate, transcriptPath, audioPath
		FROM sessions
		ORDER BY startedAt DESC
		LIMIT 1
	`)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var startedAt float64
	var endedAt sql.NullFloat64
	var audioPath sql.NullString

	if err := row.Scan(&sess.ID, &sess.Name, &startedAt, &endedAt,
		&sess.SampleRate, &sess.TranscriptPath, &audioPath); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("transcript: scan session: %w", err)
	}

	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	if audioPath.Valid {
		sess.AudioPath = audioPath.String
	}
	return &sess, nil
}

// EmissionsForSession returns all emissions for a session in seq order.
func (s *Store) EmissionsForSession(sessionID string) ([]Emission, error) {
	rows, err := s.db.Query(`
		SELECT id, sessionId, seq, text, startSec, endSec, absoluteStart, absoluteEnd, words, createdAt
		FROM emissions
		WHERE sessionId = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript: query emissions: %w", err)
	}
	defer rows.Close()

	var emissions []Emission
	for rows.Next() {
		var e Emission
		var absStart, absEnd, createdAt float64
		var words sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Seq, &e.Record.Text,
			&e.Record.Start, &e.Record.End, &absStart, &absEnd, &words, &createdAt); err != nil {
			return nil, fmt.Errorf("transcript: scan emission: %w", err)
		}
		e.Record.AbsoluteStart = timeFromUnix(absStart)
		e.Record.AbsoluteEnd = timeFromUnix(absEnd)
		e.CreatedAt = timeFromUnix(createdAt)
		if words.Valid && words.String != "" {
			if err := json.Unmarshal([]byte(words.String), &e.Record.Words); err != nil {
				return nil, fmt.Errorf("transcript: unmarshal words: %w", err)
			}
		}
		emissions = append(emissions, e)
	}
	return emissions, rows.Err()
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
