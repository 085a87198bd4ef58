// Package watcher tails the match file for rows appended during a run.
package watcher

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jobrunner/terrapatch/internal/application"
	"github.com/jobrunner/terrapatch/internal/domain"
)

// Tailer watches a match file and emits coordinate rows appended after
// the initial load. The parent directory is watched rather than the file
// so atomic rewrites (write temp, rename) keep working.
type Tailer struct {
	path      string
	fsWatcher *fsnotify.Watcher
	logger    *slog.Logger
	rows      chan application.MatchRow
	consumed  int
}

// New creates a tailer. initialRows is the number of rows already loaded
// from the match file; only rows after them are emitted.
func New(path string, initialRows int, logger *slog.Logger) (*Tailer, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Tailer{
		path:      path,
		fsWatcher: fsWatcher,
		logger:    logger,
		rows:      make(chan application.MatchRow, 64),
		consumed:  initialRows,
	}, nil
}

// Rows returns the channel of appended match rows. It is closed when the
// tailer stops.
func (t *Tailer) Rows() <-chan application.MatchRow {
	return t.rows
}

// Start begins watching. It returns after the watch is registered; rows
// flow on the Rows channel until ctx is cancelled.
func (t *Tailer) Start(ctx context.Context) error {
	dir := filepath.Dir(t.path)
	if err := t.fsWatcher.Add(dir); err != nil {
		return err
	}
	t.logger.Info("following match file", "path", t.path, "rows_loaded", t.consumed)

	go t.loop(ctx)
	return nil
}

// Stop closes the underlying watcher.
func (t *Tailer) Stop() error {
	return t.fsWatcher.Close()
}

func (t *Tailer) loop(ctx context.Context) {
	defer close(t.rows)

	target, _ := filepath.Abs(t.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if abs, _ := filepath.Abs(event.Name); abs != target {
				continue
			}
			t.emitNew(ctx)
		case err, ok := <-t.fsWatcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("match file watch error", "error", err)
		}
	}
}

// emitNew re-reads the match file and emits rows past the consumed mark.
// A row that fails to parse stops the scan without advancing, so a
// partially flushed line is retried on the next event.
func (t *Tailer) emitNew(ctx context.Context) {
	f, err := os.Open(t.path)
	if err != nil {
		t.logger.Warn("reopening match file failed", "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		t.logger.Warn("reading match file failed", "error", err)
		return
	}

	for ; t.consumed < len(records); t.consumed++ {
		row := records[t.consumed]
		if len(row) < 3 {
			return
		}
		rec, err := domain.UnmarshalLedgerRow(append(row[:3:3], "0"))
		if err != nil {
			t.logger.Warn("skipping malformed match row", "row", t.consumed, "error", err)
			return
		}
		select {
		case t.rows <- application.MatchRow{Index: rec.Index, Coordinate: rec.Coordinate}:
		case <-ctx.Done():
			return
		}
	}
}
