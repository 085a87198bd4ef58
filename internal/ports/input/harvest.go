// Package input defines the primary/driving ports of the application.
package input

import "context"

// HarvestRunner defines the primary port for running a harvest.
type HarvestRunner interface {
	// Run processes every index in the configured range and blocks until
	// all workers have drained. It returns the first fatal setup error;
	// per-index failures are recorded in the ledger, not returned.
	Run(ctx context.Context) (Summary, error)
}

// ProgressReporter exposes live run progress for the HTTP surface.
type ProgressReporter interface {
	// Progress returns a snapshot of the running harvest.
	Progress() Summary
}

// Summary describes the outcome (or current state) of a harvest run.
type Summary struct {
	RunID      string  `json:"run_id"`
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	ElapsedSec float64 `json:"elapsed_seconds"`
}
