// Package store persists per-run telemetry in SQLite. Individual detections
// are never written; only aggregate counters survive a run.
package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"veil/internal/pipeline"
)

// Run is one recorded service run.
type Run struct {
	ID                 string
	StartedAt          time.Time
	EndedAt            *time.Time
	FramesSeen         uint64
	FramesAdmitted     uint64
	DroppedBusy        uint64
	DroppedInterval    uint64
	ConversionFailures uint64
	Processed          uint64
	AvgPassMillis      float32
	Config             string
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer; WAL keeps readers unblocked during run updates.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		frames_seen INTEGER NOT NULL DEFAULT 0,
		frames_admitted INTEGER NOT NULL DEFAULT 0,
		dropped_busy INTEGER NOT NULL DEFAULT 0,
		dropped_interval INTEGER NOT NULL DEFAULT 0,
		conversion_failures INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		avg_pass_ms REAL NOT NULL DEFAULT 0,
		config TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	log.Println("[Store] Schema ready")
	return nil
}

// BeginRun records the start of a service run and returns its ID.
func (s *Store) BeginRun(configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, started_at, config) VALUES (?, ?, ?)",
		id, time.Now().UTC(), configJSON,
	)
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// FinishRun stamps the run's end time and final counters.
func (s *Store) FinishRun(id string, stats pipeline.SchedulerStats) error {
	_, err := s.db.Exec(
		`UPDATE runs SET ended_at = ?, frames_seen = ?, frames_admitted = ?,
			dropped_busy = ?, dropped_interval = ?, conversion_failures = ?,
			processed = ?, avg_pass_ms = ?
		WHERE id = ?`,
		time.Now().UTC(),
		stats.FramesSeen, stats.FramesAdmitted,
		stats.DroppedBusy, stats.DroppedInterval, stats.ConversionFailures,
		stats.Processed, stats.AvgPassMillis,
		id,
	)
	if err != nil {
		return fmt.Errorf("recording run end: %w", err)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, frames_seen, frames_admitted,
			dropped_busy, dropped_interval, conversion_failures,
			processed, avg_pass_ms, config
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var ended sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &ended,
			&r.FramesSeen, &r.FramesAdmitted,
			&r.DroppedBusy, &r.DroppedInterval, &r.ConversionFailures,
			&r.Processed, &r.AvgPassMillis, &r.Config); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
