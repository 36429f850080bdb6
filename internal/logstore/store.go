// Package logstore is the durable keyed table of per-site, per-routine metric
// records collected during a run.
package logstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists one row per (routine, site) pair. A rerun for the same pair
// overwrites the previous row.
type Store struct {
	db *sql.DB
}

// Entry is one fetched row: the metrics a routine logged for one site.
type Entry struct {
	SiteID  string  `json:"site_id"`
	Metrics Metrics `json:"metrics"`
}

// Open opens (creating if needed) the SQLite database at path and ensures the
// schema exists. WAL mode keeps concurrent writers from distinct (routine,
// site) keys from corrupting each other.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("log store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS routine_metrics (
  routine    TEXT NOT NULL,
  site_id    TEXT NOT NULL,
  metrics    JSON NOT NULL DEFAULT '{}',
  updated_at TEXT NOT NULL,
  PRIMARY KEY (routine, site_id)
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap log store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put records metrics for one (routine, site) pair, replacing any previous
// row for the same pair.
func (s *Store) Put(ctx context.Context, routine, siteID string, metrics Metrics) error {
	if routine == "" {
		return fmt.Errorf("routine name is empty")
	}
	if siteID == "" {
		return fmt.Errorf("site ID is empty")
	}
	if metrics == nil {
		metrics = Metrics{}
	}

	blob, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(ctx, `
INSERT INTO routine_metrics(routine, site_id, metrics, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(routine, site_id) DO UPDATE SET
  metrics    = excluded.metrics,
  updated_at = excluded.updated_at;
`, routine, siteID, string(blob), now)
	if err != nil {
		return fmt.Errorf("upsert metrics for %s/%s: %w", routine, siteID, err)
	}
	return nil
}

// Fetch returns every entry logged under routine, ordered by site ID. Rows
// whose metrics are all missing markers are retained so callers can filter
// explicitly.
func (s *Store) Fetch(ctx context.Context, routine string) ([]Entry, error) {
	if routine == "" {
		return nil, fmt.Errorf("routine name is empty")
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT site_id, metrics FROM routine_metrics WHERE routine = ? ORDER BY site_id;", routine)
	if err != nil {
		return nil, fmt.Errorf("fetch metrics for %s: %w", routine, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			siteID string
			raw    string
		)
		if err := rows.Scan(&siteID, &raw); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		var m Metrics
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("stored metrics are invalid for %s/%s: %w", routine, siteID, err)
		}
		out = append(out, Entry{SiteID: siteID, Metrics: m})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics rows: %w", err)
	}
	return out, nil
}

// Routines returns the distinct routine names present in the store.
func (s *Store) Routines(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT routine FROM routine_metrics ORDER BY routine;")
	if err != nil {
		return nil, fmt.Errorf("list routines: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan routine name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Clear empties the store. The orchestrator calls this at run start when
// configured to discard prior logs.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM routine_metrics;"); err != nil {
		return fmt.Errorf("clear log store: %w", err)
	}
	return nil
}
