package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/engine"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/ledger"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/metrics"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/runner"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/trace"
)

// newExecutor builds the process executor used by run and traj concat.
var newExecutor = func() experiment.Executor { return engine.NewExecExecutor() }

type runOptions struct {
	identityFlags
	stages        int
	overwrite     bool
	resume        bool
	configFiles   []string
	topologyFiles []string
	save          bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the stage chain, post-processing and analysis for one replicate",
	Args:  cobra.NoArgs,
	RunE:  runRun,
}

func registerRunFlags(c *cobra.Command, o *runOptions) {
	registerIdentityFlags(c, &o.identityFlags)
	c.Flags().BoolVar(&o.gpu, "gpu", false, "Offload the MD step to the GPU")
	c.Flags().IntVar(&o.stages, "stages", 0, "Number of stages (0 = one per config file)")
	c.Flags().BoolVar(&o.overwrite, "overwrite", false, "Reuse an existing trial directory instead of picking a fresh name")
	c.Flags().BoolVar(&o.resume, "resume", false, "Continue after the latest stage found on disk (implies --overwrite)")
	c.Flags().StringSliceVar(&o.configFiles, "config-files", nil, "Explicit stage config files, in order (default: every file in the config dir)")
	c.Flags().StringSliceVar(&o.topologyFiles, "topology-files", nil, "Restrict topology discovery to these file names")
	c.Flags().BoolVar(&o.save, "save", false, "Write a snapshot of the experiment after the run")
}

func init() {
	registerRunFlags(runCmd, &runOpts)
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := resolveSettings(cmd, &runOpts.identityFlags)
	if err != nil {
		return err
	}
	outcome, err := runTrial(ctx, s, runOpts)
	if outcome != nil {
		logSummary(outcome)
	}
	return err
}

// trialOutcome is what runTrial reports back for logging and tests.
type trialOutcome struct {
	RunID    string
	Trial    string
	State    experiment.RunState
	Result   *experiment.RunResult
	Trace    *trace.RunTrace
	Snapshot string
}

// runTrial executes one replicate end to end and records it in the ledger and
// metrics textfile when those are configured. The outcome is returned even
// when the run fails so the caller can report what completed.
func runTrial(ctx context.Context, s experiment.Settings, o runOptions) (*trialOutcome, error) {
	exp, err := experiment.New(s, experiment.Identity{Replicate: o.replicate})
	if err != nil {
		return nil, err
	}
	trial, err := exp.CreateDirectoryStructure(o.overwrite || o.resume)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	eng, err := experiment.NewEngine(s, m.Instrument(newExecutor()))
	if err != nil {
		return nil, err
	}

	var led *ledger.Ledger
	runID := uuid.NewString()
	if ledgerPath != "" {
		led, err = ledger.Open(ledgerPath)
		if err != nil {
			return nil, err
		}
		defer func() { _ = led.Close() }()
		if runID, err = led.StartRun(ctx, s.Parent, exp.Identity()); err != nil {
			return nil, err
		}
	}

	rt := trace.NewRunTrace(runID)
	r := runner.New(exp, eng, runner.WithResume(o.resume), runner.WithTrace(rt))
	logrus.WithFields(logrus.Fields{"run": runID, "trial": trial, "replicate": o.replicate}).Info("starting run")

	req := experiment.RunRequest{
		Replicate: o.replicate,
		Stages:    o.stages,
		Prepare: experiment.PrepareOptions{
			Search:        o.search,
			ConfigFiles:   o.configFiles,
			TopologyFiles: o.topologyFiles,
		},
	}
	res, runErr := r.RunExperiment(ctx, req)

	out := &trialOutcome{RunID: runID, Trial: trial, State: r.State(), Result: res, Trace: rt}
	archive := ""
	if res != nil {
		archive = res.Archive
	}

	// Bookkeeping uses a fresh context so an interrupted run is still recorded.
	bg := context.WithoutCancel(ctx)
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if led != nil {
		if err := led.RecordTrace(bg, runID, rt); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
		if err := led.FinishRun(bg, runID, r.State(), archive, runErr); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}
	m.ObserveRun(r.State(), rt)
	if metricsFile != "" {
		if err := m.WriteTextfile(metricsFile); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if o.save {
		path, err := exp.Save("")
		if err != nil {
			errs = append(errs, err)
		}
		out.Snapshot = path
	}
	return out, errors.Join(errs...)
}

func logSummary(o *trialOutcome) {
	sum := trace.Summarize(o.Trace)
	fields := logrus.Fields{
		"run":       o.RunID,
		"trial":     o.Trial,
		"state":     o.State,
		"stages":    fmt.Sprintf("%d/%d", sum.CompletedStages, sum.TotalStages),
		"steps":     sum.TotalSteps,
		"failed":    sum.FailedSteps,
		"step_time": sum.StepTime.Round(1e6).String(),
	}
	if o.Result != nil {
		fields["structure"] = o.Result.Converted
		fields["trajectory"] = o.Result.Trajectory
	}
	if o.Snapshot != "" {
		fields["snapshot"] = o.Snapshot
	}
	logrus.WithFields(fields).Info("run finished")

	names := make([]string, 0, len(sum.TimeByName))
	for name := range sum.TimeByName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logrus.Debugf("  %-12s x%d %s", name, sum.StepsByName[name], sum.TimeByName[name].Round(1e6))
	}
}
