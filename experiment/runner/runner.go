// Package runner provides StagedRunner, the multi-stage simulation driver.
//
// A run chains one engine stage per config file: each stage prepares a run
// archive from the previous stage's output coordinates and executes it. The
// final archive is then PBC-corrected in two passes and converted into a
// structure file for visualization.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/trace"
	"github.com/sirupsen/logrus"
)

// Step names recorded in the run trace.
const (
	StepPrepareRun  = "prepare_run"
	StepExecuteRun  = "execute_run"
	StepPBCCenter   = "pbc_center"
	StepPBCUnwrap   = "pbc_unwrap"
	StepConvert     = "convert"
	StepConcatenate = "concatenate"
)

// StagedRunner drives an Experiment through the lifecycle using an Engine.
// It is single-use and not safe for concurrent use.
type StagedRunner struct {
	exp    *experiment.Experiment
	engine experiment.Engine
	state  experiment.RunState
	stages []string
	resume bool
	trace  *trace.RunTrace
	now    func() time.Time
}

// Option configures a StagedRunner.
type Option func(*StagedRunner)

// WithResume makes RunStages continue after the latest stage found on disk.
func WithResume(resume bool) Option {
	return func(r *StagedRunner) { r.resume = resume }
}

// WithTrace records stages and steps into rt.
func WithTrace(rt *trace.RunTrace) Option {
	return func(r *StagedRunner) { r.trace = rt }
}

// WithClock replaces the time source used for trace records.
func WithClock(now func() time.Time) Option {
	return func(r *StagedRunner) { r.now = now }
}

// New creates a runner in the INIT state.
func New(exp *experiment.Experiment, eng experiment.Engine, opts ...Option) *StagedRunner {
	r := &StagedRunner{
		exp:    exp,
		engine: eng,
		state:  experiment.StateInit,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.trace == nil {
		r.trace = trace.NewRunTrace("")
	}
	r.trace.SetState(string(r.state))
	return r
}

// State returns the current lifecycle state.
func (r *StagedRunner) State() experiment.RunState { return r.state }

// Experiment returns the driven experiment.
func (r *StagedRunner) Experiment() *experiment.Experiment { return r.exp }

// Trace returns the run trace.
func (r *StagedRunner) Trace() *trace.RunTrace { return r.trace }

// Stages returns the resolved per-stage config files.
func (r *StagedRunner) Stages() []string { return append([]string(nil), r.stages...) }

func (r *StagedRunner) setState(s experiment.RunState) {
	r.state = s
	r.trace.SetState(string(s))
}

func (r *StagedRunner) fail(err error) error {
	r.setState(experiment.StateFailed)
	return err
}

// SetReplicate selects the replicate to run. Zero keeps the current one.
func (r *StagedRunner) SetReplicate(idx int) error {
	if err := r.exp.SetReplicate(idx); err != nil {
		return r.fail(err)
	}
	if !r.exp.Identity().HasReplicate() {
		return r.fail(fmt.Errorf("set replicate: %w", experiment.ErrReplicateNotSet))
	}
	return nil
}

// Prepare discovers config and topology files and copies the topology files
// into the replicate directory.
func (r *StagedRunner) Prepare(ctx context.Context, opts experiment.PrepareOptions) error {
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	if _, err := r.exp.DiscoverConfigFiles(opts.ConfigFiles); err != nil {
		return r.fail(err)
	}
	if _, err := r.exp.DiscoverTopologyFiles(opts.Search, opts.TopologyFiles); err != nil {
		return r.fail(err)
	}
	if err := r.exp.CopyTopologyFilesToReplicate(0); err != nil {
		return r.fail(err)
	}
	r.setState(experiment.StatePrepared)
	return nil
}

// ResolveStages reconciles the discovered config files with the requested
// stage count and returns the number of stages to run.
func (r *StagedRunner) ResolveStages(requested int) (int, error) {
	files, err := experiment.ExpandConfigFiles(r.exp.ConfigFiles(), requested)
	if err != nil {
		return 0, r.fail(err)
	}
	r.exp.SetConfigFiles(files)
	r.stages = files
	return len(files), nil
}

// RunStages runs every resolved stage in order and returns the final run
// archive. Cancellation is observed between stages only.
func (r *StagedRunner) RunStages(ctx context.Context) (string, error) {
	if r.state != experiment.StatePrepared {
		return "", r.fail(fmt.Errorf("runner is %s, want %s", r.state, experiment.StatePrepared))
	}
	if r.stages == nil {
		if _, err := r.ResolveStages(0); err != nil {
			return "", err
		}
	}
	s := r.exp.Settings()
	repDir, err := r.exp.ReplicateDir()
	if err != nil {
		return "", r.fail(err)
	}
	topology, err := r.pickTopology(".top")
	if err != nil {
		return "", r.fail(err)
	}
	coords, err := r.pickTopology("." + s.Engine.CoordinateExt)
	if err != nil {
		return "", r.fail(err)
	}
	topology = filepath.Join(repDir, topology)
	input := filepath.Join(repDir, coords)

	base := r.exp.Stage()
	if r.resume {
		latest, err := r.exp.LatestTrajectoryIndex("", 0)
		switch {
		case err == nil:
			base = latest + 1
			if input, err = r.exp.StagePath(latest, s.Engine.CoordinateExt); err != nil {
				return "", r.fail(err)
			}
			logrus.Infof("resuming after stage %d from %s", latest, input)
		case errors.Is(err, experiment.ErrNoMatchingFiles):
			logrus.Infof("nothing to resume in %s, starting at stage %d", repDir, base)
		default:
			return "", r.fail(err)
		}
	}

	r.setState(experiment.StateSimulating)
	var archive string
	for i, cfg := range r.stages {
		if err := ctx.Err(); err != nil {
			return "", r.fail(fmt.Errorf("before stage %d: %w", base+i, err))
		}
		idx := base + i
		if err := r.exp.SetTrajectoryNumber(&idx); err != nil {
			return "", r.fail(err)
		}
		archive, err = r.exp.StagePath(idx, s.Engine.ArchiveExt)
		if err != nil {
			return "", r.fail(err)
		}
		cfgPath := cfg
		if !filepath.IsAbs(cfgPath) {
			cfgPath = filepath.Join(experiment.ConfigDir(s), cfg)
		}

		logrus.WithFields(logrus.Fields{
			"stage": idx, "config": cfg, "input": input,
		}).Info("starting stage")
		pos := r.trace.BeginStage(trace.StageRecord{
			Index:       idx,
			Config:      cfgPath,
			Coordinates: input,
			Archive:     archive,
			Started:     r.now(),
		})
		err = r.step(idx, StepPrepareRun, archive, func() error {
			return r.engine.PrepareRun(ctx, experiment.PrepareRunInput{
				Config:      cfgPath,
				Coordinates: input,
				Topology:    topology,
				Reference:   input,
				Archive:     archive,
				MaxWarn:     s.Engine.MaxWarn,
			})
		})
		if err != nil {
			return "", r.fail(fmt.Errorf("stage %d: %w", idx, err))
		}
		err = r.step(idx, StepExecuteRun, archive, func() error {
			return r.engine.ExecuteRun(ctx, experiment.ExecuteRunInput{Archive: archive, GPU: s.Engine.GPU})
		})
		if err != nil {
			return "", r.fail(fmt.Errorf("stage %d: %w", idx, err))
		}
		r.trace.CompleteStage(pos, r.now())
		input = experiment.ReplaceExt(archive, s.Engine.CoordinateExt)
	}
	return archive, nil
}

// PostProcess applies the two PBC passes to the trajectory of archive.
func (r *StagedRunner) PostProcess(ctx context.Context, archive string) (experiment.PostProcessResult, error) {
	s := r.exp.Settings()
	traj := experiment.ReplaceExt(archive, s.Engine.TrajectoryExt)
	centered := experiment.SpliceSuffix(traj, s.PBC.Center.Suffix)
	unwrapped := experiment.SpliceSuffix(traj, s.PBC.Unwrap.Suffix)
	stage := r.exp.Stage()

	err := r.step(stage, StepPBCCenter, centered, func() error {
		return r.engine.CorrectPBC(ctx, experiment.PBCInput{
			Trajectory: traj, Archive: archive, Step: s.PBC.Center, Output: centered,
		})
	})
	if err != nil {
		return experiment.PostProcessResult{}, r.fail(err)
	}
	err = r.step(stage, StepPBCUnwrap, unwrapped, func() error {
		return r.engine.CorrectPBC(ctx, experiment.PBCInput{
			Trajectory: centered, Archive: archive, Step: s.PBC.Unwrap, Output: unwrapped,
		})
	})
	if err != nil {
		return experiment.PostProcessResult{}, r.fail(err)
	}
	r.setState(experiment.StatePostProcessed)
	return experiment.PostProcessResult{
		Trajectory: unwrapped,
		Structure:  experiment.ReplaceExt(unwrapped, s.Engine.StructureExt),
	}, nil
}

// Analyze converts a trajectory into a structure file in the visualisation
// directory and returns its path. Empty options are derived from the
// identity and the current stage.
func (r *StagedRunner) Analyze(ctx context.Context, opts experiment.AnalyzeOptions) (string, error) {
	s := r.exp.Settings()
	id := r.exp.Identity()
	if !id.HasReplicate() {
		return "", r.fail(fmt.Errorf("analyze: %w", experiment.ErrReplicateNotSet))
	}
	archive := opts.Archive
	if archive == "" {
		var err error
		if archive, err = r.exp.StagePath(r.exp.Stage(), s.Engine.ArchiveExt); err != nil {
			return "", r.fail(err)
		}
	}
	traj, nameSource := opts.Trajectory, opts.Trajectory
	if traj == "" {
		traj = experiment.SpliceSuffix(experiment.ReplaceExt(archive, s.Engine.TrajectoryExt), s.PBC.Unwrap.Suffix)
		nameSource = archive
	}
	reference := archive
	if opts.StructureTopology != "" {
		reference = opts.StructureTopology
	}
	base := filepath.Base(experiment.ReplaceExt(nameSource, s.Engine.StructureExt))
	out := filepath.Join(r.exp.Dir(experiment.DirVisualisation), fmt.Sprintf("%d_%s", id.Replicate, base))

	err := r.step(r.exp.Stage(), StepConvert, out, func() error {
		return r.engine.ConvertFormat(ctx, experiment.ConvertInput{Trajectory: traj, Archive: reference, Output: out})
	})
	if err != nil {
		return "", r.fail(err)
	}
	r.setState(experiment.StateAnalyzed)
	return out, nil
}

// RunExperiment runs the whole lifecycle and leaves the runner DONE or FAILED.
func (r *StagedRunner) RunExperiment(ctx context.Context, req experiment.RunRequest) (*experiment.RunResult, error) {
	res, err := experiment.RunExperiment(ctx, r, req)
	if err != nil {
		r.setState(experiment.StateFailed)
		return nil, err
	}
	r.setState(experiment.StateDone)
	return res, nil
}

// Concatenate joins every trajectory segment of the current replicate, in
// stage order, into output. An empty output writes <suffix>_<code>_cat.<ext>
// next to the segments. Returns the output path and the reference structure.
func (r *StagedRunner) Concatenate(ctx context.Context, output, reference string) (string, string, error) {
	s := r.exp.Settings()
	segments, err := r.exp.Segments(s.Engine.TrajectoryExt)
	if err != nil {
		return "", "", err
	}
	if output == "" {
		output = filepath.Join(filepath.Dir(segments[0]),
			experiment.SegmentStem(s.Suffix, r.exp.Identity().Code)+"_cat."+s.Engine.TrajectoryExt)
	}
	var ref string
	err = r.step(r.exp.Stage(), StepConcatenate, output, func() error {
		var err error
		ref, err = r.engine.Concatenate(ctx, experiment.ConcatInput{Segments: segments, Output: output, Reference: reference})
		return err
	})
	if err != nil {
		return "", "", err
	}
	logrus.Infof("concatenated %d segments into %s", len(segments), output)
	return output, ref, nil
}

// step runs fn and records it in the trace.
func (r *StagedRunner) step(stage int, name, output string, fn func() error) error {
	start := r.now()
	err := fn()
	rec := trace.StepRecord{
		Stage:    stage,
		Step:     name,
		Output:   output,
		Started:  start,
		Duration: r.now().Sub(start),
	}
	if err != nil {
		rec.Err = err.Error()
	}
	r.trace.RecordStep(rec)
	return err
}

// pickTopology returns the first discovered topology file with the extension.
func (r *StagedRunner) pickTopology(ext string) (string, error) {
	for _, name := range r.exp.TopologyFiles() {
		if strings.EqualFold(filepath.Ext(name), ext) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no %s file among topology files %v: %w", ext, r.exp.TopologyFiles(), experiment.ErrNoMatchingFiles)
}

var _ experiment.Lifecycle = (*StagedRunner)(nil)
