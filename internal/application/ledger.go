package application

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jobrunner/terrapatch/internal/domain"
)

// CheckpointLedger is the append-only per-index outcome log. Records are
// never rewritten; resuming scans the whole file. Append is safe for
// concurrent workers; Load is only called once at startup, before any
// worker runs.
type CheckpointLedger struct {
	path string
	mu   sync.Mutex
}

// NewCheckpointLedger creates a ledger backed by the given CSV file.
func NewCheckpointLedger(path string) *CheckpointLedger {
	return &CheckpointLedger{path: path}
}

// Path returns the ledger file path.
func (l *CheckpointLedger) Path() string {
	return l.path
}

// Load reads every record from the ledger. Later records for the same
// index replace earlier ones, so a reprocessed index keeps its final
// outcome.
func (l *CheckpointLedger) Load() (map[int]domain.LedgerRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records := make(map[int]domain.LedgerRecord)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLedgerCorrupt, err)
	}
	for _, row := range rows {
		rec, err := domain.UnmarshalLedgerRow(row)
		if err != nil {
			return nil, err
		}
		records[rec.Index] = rec
	}
	return records, nil
}

// Append writes exactly one record as a single atomic line write: the
// file is opened in append mode, the line written, the file closed, all
// under the ledger lock so concurrent workers never interleave partial
// lines.
func (l *CheckpointLedger) Append(rec domain.LedgerRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0750); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening ledger for append: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(rec.MarshalCSV()); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing ledger record: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flushing ledger record: %w", err)
	}
	return f.Close()
}

// LoadMatchTable reads a headerless CSV of precomputed index,lon,lat rows
// for match mode. Row order is preserved so the indices range can slice a
// stable sequence.
func LoadMatchTable(path string) (map[int]domain.Coordinate, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening match file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading match file: %w", err)
	}

	coords := make(map[int]domain.Coordinate, len(rows))
	order := make([]int, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, nil, fmt.Errorf("%w: match row has %d columns", domain.ErrInvalidInput, len(row))
		}
		rec, err := domain.UnmarshalLedgerRow(append(row[:3:3], "0"))
		if err != nil {
			return nil, nil, fmt.Errorf("match file: %w", err)
		}
		coords[rec.Index] = rec.Coordinate
		order = append(order, rec.Index)
	}
	return coords, order, nil
}
