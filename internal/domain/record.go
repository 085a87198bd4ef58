package domain

import (
	"fmt"
	"strconv"
)

// RecordStatus is the per-index outcome persisted to the checkpoint ledger.
type RecordStatus int

// Ledger statuses. The numeric values are the on-disk CSV encoding and
// must not change: resumed runs from prior tooling depend on them.
const (
	StatusFailure        RecordStatus = 0
	StatusSampledSuccess RecordStatus = 1
	StatusMatchedSuccess RecordStatus = 2
)

// String returns the string representation of the status.
func (s RecordStatus) String() string {
	switch s {
	case StatusFailure:
		return "failure"
	case StatusSampledSuccess:
		return "sampled"
	case StatusMatchedSuccess:
		return "matched"
	default:
		return "unknown"
	}
}

// LedgerRecord is one append-only row of the checkpoint ledger: the final
// coordinate and outcome for a processed index.
type LedgerRecord struct {
	Index      int
	Coordinate Coordinate
	Status     RecordStatus
}

// MarshalCSV encodes the record as the ledger's headerless CSV row.
func (r LedgerRecord) MarshalCSV() []string {
	return []string{
		strconv.Itoa(r.Index),
		strconv.FormatFloat(r.Coordinate.Lon, 'f', -1, 64),
		strconv.FormatFloat(r.Coordinate.Lat, 'f', -1, 64),
		strconv.Itoa(int(r.Status)),
	}
}

// UnmarshalLedgerRow decodes one ledger CSV row.
func UnmarshalLedgerRow(row []string) (LedgerRecord, error) {
	if len(row) < 4 {
		return LedgerRecord{}, fmt.Errorf("%w: expected 4 columns, got %d", ErrLedgerCorrupt, len(row))
	}
	idx, err := strconv.Atoi(row[0])
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("%w: index %q: %v", ErrLedgerCorrupt, row[0], err)
	}
	lon, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("%w: longitude %q: %v", ErrLedgerCorrupt, row[1], err)
	}
	lat, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("%w: latitude %q: %v", ErrLedgerCorrupt, row[2], err)
	}
	status, err := strconv.Atoi(row[3])
	if err != nil {
		return LedgerRecord{}, fmt.Errorf("%w: status %q: %v", ErrLedgerCorrupt, row[3], err)
	}
	return LedgerRecord{
		Index:      idx,
		Coordinate: Coordinate{Lon: lon, Lat: lat},
		Status:     RecordStatus(status),
	}, nil
}
