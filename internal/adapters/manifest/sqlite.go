// Package manifest provides the SQLite-backed patch manifest.
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/jobrunner/terrapatch/internal/ports/output"
)

const schema = `
CREATE TABLE IF NOT EXISTS patches (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	idx         INTEGER NOT NULL,
	scene_id    TEXT    NOT NULL,
	band        TEXT    NOT NULL,
	key         TEXT    NOT NULL,
	west        REAL    NOT NULL,
	north       REAL    NOT NULL,
	east        REAL    NOT NULL,
	south       REAL    NOT NULL,
	recorded_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patches_run_idx ON patches (run_id, idx);
CREATE UNIQUE INDEX IF NOT EXISTS idx_patches_key ON patches (key);
`

// SQLiteManifest implements the manifest port on a local SQLite database.
// Rows are an index over patches already durable in the store, so inserts
// use OR REPLACE and reruns stay idempotent.
type SQLiteManifest struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the manifest database.
func Open(path string) (*SQLiteManifest, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest database: %w", err)
	}
	// One writer keeps sqlite happy across harvest workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing manifest schema: %w", err)
	}
	return &SQLiteManifest{db: db}, nil
}

// Record inserts the entries of one written patch in a single transaction.
func (m *SQLiteManifest) Record(ctx context.Context, entries []output.ManifestEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning manifest transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO patches
			(run_id, idx, scene_id, band, key, west, north, east, south, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing manifest insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			e.RunID, e.Index, e.SceneID, e.Band, e.Key,
			e.Bounds.TopLeft.Lon, e.Bounds.TopLeft.Lat,
			e.Bounds.BottomRight.Lon, e.Bounds.BottomRight.Lat,
			now,
		)
		if err != nil {
			return fmt.Errorf("inserting manifest row for %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of recorded patch artifacts for a run. An
// empty run ID counts all rows.
func (m *SQLiteManifest) Count(ctx context.Context, runID string) (int, error) {
	query := `SELECT COUNT(*) FROM patches`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting manifest rows: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (m *SQLiteManifest) Close() error {
	return m.db.Close()
}
