// Package trace provides per-run records of stages and collaborator calls.
// This package has no dependencies on experiment/ or its sub-packages; it
// stores pure data types.
package trace

import "time"

// StepRecord captures a single collaborator invocation within a run.
type StepRecord struct {
	Stage    int    // stage index; post-processing, analysis and concatenation steps carry the last stage run
	Step     string // "prepare_run", "execute_run", "pbc_center", "pbc_unwrap", "convert", "concatenate"
	Output   string // primary output path
	Started  time.Time
	Duration time.Duration
	Err      string // empty on success
}

// StageRecord captures one simulation stage: its config and its output archive.
type StageRecord struct {
	Index       int
	Config      string
	Coordinates string // input coordinates
	Archive     string
	Started     time.Time
	Finished    time.Time
	Completed   bool
}

// Duration returns how long the stage ran; zero when it has not finished.
func (r StageRecord) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}
