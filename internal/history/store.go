// Package history persists match lifecycle records to a local SQLite
// database. Like the telemetry publisher it is a pure event
// subscriber: it writes a row per lifecycle transition and per player
// connection event, and exposes read queries for the status API.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/honlink-project/honlink/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS matches (
	match_id     INTEGER PRIMARY KEY,
	map_name     TEXT NOT NULL,
	game_mode    TEXT NOT NULL,
	match_type   TEXT NOT NULL,
	created_at   TIMESTAMP NOT NULL,
	started_at   TIMESTAMP,
	ended_at     TIMESTAMP,
	winning_team INTEGER,
	outcome      TEXT NOT NULL DEFAULT 'created',
	abort_reason TEXT
);

CREATE TABLE IF NOT EXISTS player_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	match_id   INTEGER NOT NULL,
	account_id INTEGER NOT NULL,
	name       TEXT NOT NULL,
	team       INTEGER NOT NULL,
	event      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (match_id) REFERENCES matches(match_id)
);

CREATE INDEX IF NOT EXISTS idx_player_events_match ON player_events(match_id);
`

// MatchRecord is one row of match history.
type MatchRecord struct {
	MatchID     int32      `json:"match_id"`
	MapName     string     `json:"map_name"`
	GameMode    string     `json:"game_mode"`
	MatchType   string     `json:"match_type"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	WinningTeam *int       `json:"winning_team,omitempty"`
	Outcome     string     `json:"outcome"`
	AbortReason string     `json:"abort_reason,omitempty"`
}

// Store wraps a SQLite database holding match history.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the history database at the given path and
// applies the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", dbPath, err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		log.Warn().Err(err).Msg("failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		log.Warn().Err(err).Msg("failed to enable foreign keys")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("history database ping failed: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("match history database opened")

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Bind subscribes the store to match lifecycle events on the bus.
func (s *Store) Bind(bus *events.Bus) {
	bus.Subscribe(events.EventMatchCreated, "history.matchCreated", s.onMatchCreated)
	bus.Subscribe(events.EventMatchStarted, "history.matchStarted", s.onMatchStarted)
	bus.Subscribe(events.EventMatchEnded, "history.matchEnded", s.onMatchEnded)
	bus.Subscribe(events.EventMatchAborted, "history.matchAborted", s.onMatchAborted)
	bus.Subscribe(events.EventPlayerConnected, "history.playerConnected", s.onPlayerEvent)
	bus.Subscribe(events.EventPlayerDisconnected, "history.playerDisconnected", s.onPlayerEvent)
}

func (s *Store) exec(query string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(query, args...)
	return err
}

func (s *Store) onMatchCreated(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MatchPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	return s.exec(
		`INSERT OR REPLACE INTO matches (match_id, map_name, game_mode, match_type, created_at, outcome)
		 VALUES (?, ?, ?, ?, ?, 'created')`,
		p.MatchID, p.MapName, p.GameMode, p.Type.String(), time.Now().UTC(),
	)
}

func (s *Store) onMatchStarted(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MatchPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	return s.exec(
		`UPDATE matches SET started_at = ?, outcome = 'started' WHERE match_id = ?`,
		time.Now().UTC(), p.MatchID,
	)
}

func (s *Store) onMatchEnded(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MatchEndedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	return s.exec(
		`UPDATE matches SET ended_at = ?, winning_team = ?, outcome = 'ended' WHERE match_id = ?`,
		time.Now().UTC(), p.WinningTeam, p.MatchID,
	)
}

func (s *Store) onMatchAborted(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MatchAbortedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	return s.exec(
		`UPDATE matches SET ended_at = ?, outcome = 'aborted', abort_reason = ? WHERE match_id = ?`,
		time.Now().UTC(), p.Reason, p.MatchID,
	)
}

func (s *Store) onPlayerEvent(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.PlayerPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	return s.exec(
		`INSERT INTO player_events (match_id, account_id, name, team, event, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.MatchID, p.AccountID, p.Name, p.Team, string(event.Type), time.Now().UTC(),
	)
}

// RecentMatches returns the most recent match records, newest first.
func (s *Store) RecentMatches(limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT match_id, map_name, game_mode, match_type, created_at,
		        started_at, ended_at, winning_team, outcome, COALESCE(abort_reason, '')
		 FROM matches ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query match history: %w", err)
	}
	defer rows.Close()

	var records []MatchRecord
	for rows.Next() {
		var r MatchRecord
		if err := rows.Scan(&r.MatchID, &r.MapName, &r.GameMode, &r.MatchType,
			&r.CreatedAt, &r.StartedAt, &r.EndedAt, &r.WinningTeam,
			&r.Outcome, &r.AbortReason); err != nil {
			return nil, fmt.Errorf("failed to scan match record: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// MatchCount returns the total number of recorded matches.
func (s *Store) MatchCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&count)
	return count, err
}
