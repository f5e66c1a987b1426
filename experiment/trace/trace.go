package trace

import "time"

// RunTrace collects stage and step records during a staged run.
type RunTrace struct {
	RunID  string
	Stages []StageRecord
	Steps  []StepRecord
	State  string // last state reached
}

// NewRunTrace creates a RunTrace ready for recording.
func NewRunTrace(runID string) *RunTrace {
	return &RunTrace{
		RunID:  runID,
		Stages: make([]StageRecord, 0),
		Steps:  make([]StepRecord, 0),
	}
}

// BeginStage appends a stage record and returns its position.
func (rt *RunTrace) BeginStage(record StageRecord) int {
	rt.Stages = append(rt.Stages, record)
	return len(rt.Stages) - 1
}

// CompleteStage marks the stage at pos as finished at t.
func (rt *RunTrace) CompleteStage(pos int, t time.Time) {
	if pos < 0 || pos >= len(rt.Stages) {
		return
	}
	rt.Stages[pos].Finished = t
	rt.Stages[pos].Completed = true
}

// RecordStep appends a collaborator step record.
func (rt *RunTrace) RecordStep(record StepRecord) {
	rt.Steps = append(rt.Steps, record)
}

// SetState records the latest lifecycle state.
func (rt *RunTrace) SetState(state string) {
	rt.State = state
}
