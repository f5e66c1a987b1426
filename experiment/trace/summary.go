package trace

import "time"

// TraceSummary aggregates statistics from a RunTrace.
type TraceSummary struct {
	TotalStages     int
	CompletedStages int
	TotalSteps      int
	FailedSteps     int
	StepTime        time.Duration            // sum of step durations
	StepsByName     map[string]int           // step name → count
	TimeByName      map[string]time.Duration // step name → total duration
}

// Summarize computes aggregate statistics from a RunTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(rt *RunTrace) *TraceSummary {
	summary := &TraceSummary{
		StepsByName: make(map[string]int),
		TimeByName:  make(map[string]time.Duration),
	}
	if rt == nil {
		return summary
	}

	summary.TotalStages = len(rt.Stages)
	for _, s := range rt.Stages {
		if s.Completed {
			summary.CompletedStages++
		}
	}

	summary.TotalSteps = len(rt.Steps)
	for _, s := range rt.Steps {
		summary.StepsByName[s.Step]++
		summary.TimeByName[s.Step] += s.Duration
		summary.StepTime += s.Duration
		if s.Err != "" {
			summary.FailedSteps++
		}
	}

	return summary
}
