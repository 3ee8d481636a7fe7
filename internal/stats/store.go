// Package stats persists per-beatmapset download counters in SQLite.
// Unlike the rate limiter, which is deliberately volatile, delivery
// statistics survive restarts.
package stats

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed download statistics repository.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the statistics database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS download_stats (
		beatmapset_id INTEGER PRIMARY KEY,
		downloads INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`)
	return err
}

// Record counts one successful delivery of a beatmapset.
func (s *Store) Record(beatmapsetID int64) error {
	_, err := s.db.Exec(`INSERT INTO download_stats (beatmapset_id, downloads, updated_at)
		VALUES (?, 1, ?)
		ON CONFLICT(beatmapset_id) DO UPDATE SET
			downloads = downloads + 1,
			updated_at = excluded.updated_at`,
		beatmapsetID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

// Totals summarizes delivery statistics across all beatmapsets.
type Totals struct {
	TotalDownloads     int64      `json:"totalDownloads"`
	TrackedBeatmapsets int64      `json:"trackedBeatmapsets"`
	LastUpdated        *time.Time `json:"lastUpdated,omitempty"`
}

// Totals returns the aggregate delivery statistics.
func (s *Store) Totals() (*Totals, error) {
	row := s.db.QueryRow(`SELECT COALESCE(SUM(downloads), 0), COUNT(*), MAX(updated_at) FROM download_stats`)

	var t Totals
	var last sql.NullTime
	if err := row.Scan(&t.TotalDownloads, &t.TrackedBeatmapsets, &last); err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	if last.Valid {
		t.LastUpdated = &last.Time
	}
	return &t, nil
}

// Count returns the delivery count for one beatmapset, zero if never
// delivered.
func (s *Store) Count(beatmapsetID int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT downloads FROM download_stats WHERE beatmapset_id = ?`, beatmapsetID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query count: %w", err)
	}
	return n, nil
}

// TopEntry is one row of the most-downloaded list.
type TopEntry struct {
	BeatmapsetID int64 `json:"beatmapsetId"`
	Downloads    int64 `json:"downloads"`
}

// Top returns the n most-downloaded beatmapsets, busiest first.
func (s *Store) Top(n int) ([]TopEntry, error) {
	rows, err := s.db.Query(`SELECT beatmapset_id, downloads FROM download_stats
		ORDER BY downloads DESC, beatmapset_id ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query top downloads: %w", err)
	}
	defer rows.Close()

	var entries []TopEntry
	for rows.Next() {
		var e TopEntry
		if err := rows.Scan(&e.BeatmapsetID, &e.Downloads); err != nil {
			return nil, fmt.Errorf("failed to scan top row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
