package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/sirupsen/logrus"
)

// Engine runs the commands produced by a Builder through an Executor.
type Engine struct {
	builder Builder
	exec    experiment.Executor
}

// New composes a builder and an executor into an experiment.Engine.
func New(b Builder, ex experiment.Executor) *Engine {
	return &Engine{builder: b, exec: ex}
}

// NewGromacs returns the GROMACS engine for s.
func NewGromacs(s experiment.Settings, ex experiment.Executor) *Engine {
	return New(NewGromacsBuilder(s), ex)
}

func (e *Engine) run(ctx context.Context, cmd experiment.Command) error {
	logrus.WithField("tool", cmd.Tool()).Infof("running %s", cmd)
	return e.exec.Run(ctx, cmd)
}

func (e *Engine) PrepareRun(ctx context.Context, in experiment.PrepareRunInput) error {
	return e.run(ctx, e.builder.PrepareRun(in))
}

func (e *Engine) ExecuteRun(ctx context.Context, in experiment.ExecuteRunInput) error {
	return e.run(ctx, e.builder.ExecuteRun(in))
}

func (e *Engine) CorrectPBC(ctx context.Context, in experiment.PBCInput) error {
	return e.run(ctx, e.builder.CorrectPBC(in))
}

func (e *Engine) ConvertFormat(ctx context.Context, in experiment.ConvertInput) error {
	return e.run(ctx, e.builder.ConvertFormat(in))
}

// Concatenate joins the segments in order. The reference structure defaults to
// the first segment with the structure extension and must exist.
func (e *Engine) Concatenate(ctx context.Context, in experiment.ConcatInput) (string, error) {
	if len(in.Segments) == 0 {
		return "", fmt.Errorf("concatenate: %w", experiment.ErrNoMatchingFiles)
	}
	ref := in.Reference
	if ref == "" {
		ref = experiment.ReplaceExt(in.Segments[0], e.builder.StructureExt())
	}
	if _, err := os.Stat(ref); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &experiment.FilesystemError{Op: "reference", Path: ref, Err: err}
		}
		return "", &experiment.FilesystemError{Op: "stat", Path: ref, Err: err}
	}
	if err := e.run(ctx, e.builder.Concatenate(in)); err != nil {
		return "", err
	}
	return ref, nil
}

var _ experiment.Engine = (*Engine)(nil)
