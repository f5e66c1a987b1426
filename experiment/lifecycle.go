package experiment

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RunState is a position in the staged-run state machine:
//
//	INIT -> PREPARED -> SIMULATING* -> POST_PROCESSED -> ANALYZED -> DONE
//
// with FAILED reachable from every state.
type RunState string

const (
	StateInit          RunState = "init"
	StatePrepared      RunState = "prepared"
	StateSimulating    RunState = "simulating"
	StatePostProcessed RunState = "post_processed"
	StateAnalyzed      RunState = "analyzed"
	StateDone          RunState = "done"
	StateFailed        RunState = "failed"
)

// PrepareOptions selects the inputs of a run. Nil lists mean "discover".
type PrepareOptions struct {
	Search        string
	ConfigFiles   []string
	TopologyFiles []string
}

// PostProcessResult holds the PBC-corrected trajectory and the structure
// snapshot path derived from it.
type PostProcessResult struct {
	Trajectory string
	Structure  string
}

// AnalyzeOptions overrides the paths Analyze would otherwise derive from the
// identity and current stage.
type AnalyzeOptions struct {
	Trajectory        string
	Archive           string
	StructureTopology string
}

// Lifecycle is the sequence of operations shared by every simulation driver.
type Lifecycle interface {
	SetReplicate(idx int) error
	Prepare(ctx context.Context, opts PrepareOptions) error
	ResolveStages(requested int) (int, error)
	RunStages(ctx context.Context) (string, error)
	PostProcess(ctx context.Context, archive string) (PostProcessResult, error)
	Analyze(ctx context.Context, opts AnalyzeOptions) (string, error)
}

// RunRequest parameterizes RunExperiment.
type RunRequest struct {
	Replicate int // 0 keeps the driver's current replicate
	Prepare   PrepareOptions
	Stages    int // 0 = one stage per config file
}

// RunResult collects the artifacts of a completed run.
type RunResult struct {
	Stages     int
	Archive    string
	Trajectory string
	Structure  string
	Converted  string
}

// RunExperiment drives lc through set-replicate, prepare, stage resolution,
// the stage chain, post-processing and analysis. The first error aborts the
// run; artifacts of completed steps stay on disk.
func RunExperiment(ctx context.Context, lc Lifecycle, req RunRequest) (*RunResult, error) {
	if err := lc.SetReplicate(req.Replicate); err != nil {
		return nil, err
	}
	if err := lc.Prepare(ctx, req.Prepare); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	stages, err := lc.ResolveStages(req.Stages)
	if err != nil {
		return nil, err
	}
	logrus.Infof("running %d stage(s)", stages)
	archive, err := lc.RunStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("run stages: %w", err)
	}
	post, err := lc.PostProcess(ctx, archive)
	if err != nil {
		return nil, fmt.Errorf("post-process: %w", err)
	}
	converted, err := lc.Analyze(ctx, AnalyzeOptions{Trajectory: post.Trajectory, Archive: archive})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return &RunResult{
		Stages:     stages,
		Archive:    archive,
		Trajectory: post.Trajectory,
		Structure:  post.Structure,
		Converted:  converted,
	}, nil
}

// ExpandConfigFiles reconciles the discovered config files with a requested
// stage count. requested <= 0 keeps one stage per file; a single file is
// repeated to fill the request; any other count must match exactly.
func ExpandConfigFiles(files []string, requested int) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no config files discovered: %w", ErrConfigurationMismatch)
	}
	if requested <= 0 {
		return cloneStrings(files), nil
	}
	if len(files) == 1 {
		out := make([]string, requested)
		for i := range out {
			out[i] = files[0]
		}
		return out, nil
	}
	if len(files) != requested {
		return nil, fmt.Errorf("%d config files for %d stages: %w", len(files), requested, ErrConfigurationMismatch)
	}
	return cloneStrings(files), nil
}
