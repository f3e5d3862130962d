package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bowerhall/meshtale/internal/logger"
)

// ErrNotFound is returned by Load for keys with no session.
var ErrNotFound = errors.New("session not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_key TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    theme TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '[]',
    choices TEXT NOT NULL DEFAULT '[]',
    channel_idx INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    last_active_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
`

// Store persists sessions in SQLite. Every write is a single
// statement, so a crash mid-request leaves either the old record or
// the new one, never a half-written row.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the session database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	return NewStore(db)
}

// NewStore wraps an existing database connection and ensures the
// schema is in place.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// LoadOrCreate returns the session for key, creating a fresh IDLE one
// on first touch. The insert is a no-op when the key already exists,
// so concurrent first messages for the same key still end up with
// exactly one record.
func (s *Store) LoadOrCreate(key string, channelIdx int) (*Session, error) {
	now := time.Now()

	_, err := s.db.Exec(`
		INSERT INTO sessions (session_key, state, channel_idx, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO NOTHING`,
		key, StateIdle, channelIdx, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", key, err)
	}

	return s.Load(key)
}

// Load fetches an existing session. A record that cannot be read back
// is replaced with a fresh IDLE one: one bad row costs that session
// its progress, nothing else.
func (s *Store) Load(key string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT session_key, state, theme, context, choices, channel_idx, created_at, last_active_at
		FROM sessions WHERE session_key = ?`, key)

	var sess Session
	var contextJSON, choicesJSON string
	var created, lastActive int64

	err := row.Scan(&sess.Key, &sess.State, &sess.Theme, &contextJSON, &choicesJSON,
		&sess.ChannelIdx, &created, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return s.resetCorrupted(key, 0, err)
	}

	sess.CreatedAt = time.Unix(created, 0)
	sess.LastActiveAt = time.Unix(lastActive, 0)

	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return s.resetCorrupted(key, sess.ChannelIdx, err)
	}
	if err := json.Unmarshal([]byte(choicesJSON), &sess.Choices); err != nil {
		return s.resetCorrupted(key, sess.ChannelIdx, err)
	}
	if !validState(sess.State) {
		return s.resetCorrupted(key, sess.ChannelIdx, fmt.Errorf("unknown state %q", sess.State))
	}

	return &sess, nil
}

func (s *Store) resetCorrupted(key string, channelIdx int, cause error) (*Session, error) {
	logger.Warn("corrupted session record reset", "key", key, "error", cause)

	now := time.Now()
	fresh := &Session{
		Key:          key,
		State:        StateIdle,
		ChannelIdx:   channelIdx,
		CreatedAt:    now,
		LastActiveAt: now,
	}

	if err := s.Save(fresh); err != nil {
		return nil, fmt.Errorf("reset corrupted session %s: %w", key, err)
	}

	return fresh, nil
}

// Save writes the whole session in one upsert.
func (s *Store) Save(sess *Session) error {
	contextJSON, err := json.Marshal(sess.Context)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	choicesJSON, err := json.Marshal(sess.Choices)
	if err != nil {
		return fmt.Errorf("encode choices: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (session_key, state, theme, context, choices, channel_idx, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			state = excluded.state,
			theme = excluded.theme,
			context = excluded.context,
			choices = excluded.choices,
			channel_idx = excluded.channel_idx,
			last_active_at = excluded.last_active_at`,
		sess.Key, sess.State, sess.Theme, string(contextJSON), string(choicesJSON),
		sess.ChannelIdx, sess.CreatedAt.Unix(), sess.LastActiveAt.Unix())
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.Key, err)
	}

	return nil
}

// Delete removes a session record.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_key = ?`, key)
	return err
}

// Counts returns how many sessions sit in each state. It only reads,
// so status snapshots never contend with message handling.
func (s *Store) Counts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM sessions GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}

	return counts, rows.Err()
}

// ListActive returns every session currently mid-adventure, most
// recently active first. Unreadable rows are skipped here; they reset
// on that key's next Load.
func (s *Store) ListActive() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT session_key, state, theme, context, choices, channel_idx, created_at, last_active_at
		FROM sessions
		WHERE state = ? OR state = ?
		ORDER BY last_active_at DESC`, StateStoryActive, StateAwaitingChoice)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []*Session
	for rows.Next() {
		var sess Session
		var contextJSON, choicesJSON string
		var created, lastActive int64

		if err := rows.Scan(&sess.Key, &sess.State, &sess.Theme, &contextJSON, &choicesJSON,
			&sess.ChannelIdx, &created, &lastActive); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(created, 0)
		sess.LastActiveAt = time.Unix(lastActive, 0)

		if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
			logger.Warn("skipping unreadable session in listing", "key", sess.Key, "error", err)
			continue
		}
		if err := json.Unmarshal([]byte(choicesJSON), &sess.Choices); err != nil {
			logger.Warn("skipping unreadable session in listing", "key", sess.Key, "error", err)
			continue
		}

		active = append(active, &sess)
	}

	return active, rows.Err()
}

// DeleteIdleBefore removes sessions whose last activity predates
// cutoff and returns how many went.
func (s *Store) DeleteIdleBefore(cutoff time.Time) (int, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE last_active_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}

// ResetAll puts every session back to IDLE and returns how many were
// mid-adventure.
func (s *Store) ResetAll() (int, error) {
	result, err := s.db.Exec(`
		UPDATE sessions
		SET state = ?, theme = '', context = '[]', choices = '[]'
		WHERE state != ?`, StateIdle, StateIdle)
	if err != nil {
		return 0, err
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}

// Snapshot writes a consistent copy of the database to path, safe to
// take while requests are running.
func (s *Store) Snapshot(path string) error {
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("snapshot to %s: %w", path, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
