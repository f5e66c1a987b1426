// Package engine provides the GROMACS backend for xMD: a command builder that
// turns engine requests into command lines, and an executor that runs them as
// foreground child processes.
//
// The Engine interface is defined in experiment/ (parent package). register.go
// makes the "gromacs" backend available to experiment.NewEngine.
package engine

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
)

// Builder constructs backend-specific command lines. Builders are pure: they
// never touch the filesystem or start processes.
type Builder interface {
	PrepareRun(in experiment.PrepareRunInput) experiment.Command
	ExecuteRun(in experiment.ExecuteRunInput) experiment.Command
	CorrectPBC(in experiment.PBCInput) experiment.Command
	ConvertFormat(in experiment.ConvertInput) experiment.Command
	Concatenate(in experiment.ConcatInput) experiment.Command
	// StructureExt is the extension of the engine's coordinate files.
	StructureExt() string
}

// GromacsBuilder builds gmx command lines from Settings.
type GromacsBuilder struct {
	settings experiment.Settings
	env      []string
}

// NewGromacsBuilder creates a builder. The engine environment variable, if
// configured, is attached to every command instead of being exported into
// this process.
func NewGromacsBuilder(s experiment.Settings) *GromacsBuilder {
	b := &GromacsBuilder{settings: s.Clone()}
	if s.Engine.EnvVar != "" {
		path := s.EnvPath()
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		b.env = []string{s.Engine.EnvVar + "=" + path}
	}
	return b
}

func (b *GromacsBuilder) command(binary string, stdin string, args ...string) experiment.Command {
	return experiment.Command{Name: binary, Args: args, Stdin: stdin, Env: append([]string(nil), b.env...)}
}

func (b *GromacsBuilder) selection() string {
	if len(b.settings.PBC.Selection) == 0 {
		return ""
	}
	return strings.Join(b.settings.PBC.Selection, "\n") + "\n"
}

// PrepareRun builds `gmx grompp`.
func (b *GromacsBuilder) PrepareRun(in experiment.PrepareRunInput) experiment.Command {
	return b.command(b.settings.Engine.Binary, "",
		"grompp",
		"-f", in.Config,
		"-c", in.Coordinates,
		"-p", in.Topology,
		"-o", in.Archive,
		"-r", in.Reference,
		"-maxwarn", strconv.Itoa(in.MaxWarn),
		"-v",
	)
}

// ExecuteRun builds `mdrun` on the MPI or plain binary, with GPU offload flags
// when requested.
func (b *GromacsBuilder) ExecuteRun(in experiment.ExecuteRunInput) experiment.Command {
	args := []string{"mdrun", "-v", "-deffnm", strings.TrimSuffix(in.Archive, filepath.Ext(in.Archive))}
	if in.GPU {
		args = append(args, b.settings.Engine.GPUFlags...)
	}
	return b.command(b.settings.Engine.RunBinary(), "", args...)
}

// CorrectPBC builds one `gmx trjconv` PBC pass.
func (b *GromacsBuilder) CorrectPBC(in experiment.PBCInput) experiment.Command {
	args := []string{"trjconv", "-f", in.Trajectory, "-s", in.Archive}
	args = append(args, in.Step.Args...)
	args = append(args, "-o", in.Output)
	return b.command(b.settings.Engine.Binary, b.selection(), args...)
}

// ConvertFormat builds `gmx trjconv` writing a structure file.
func (b *GromacsBuilder) ConvertFormat(in experiment.ConvertInput) experiment.Command {
	return b.command(b.settings.Engine.Binary, b.selection(),
		"trjconv",
		"-f", in.Trajectory,
		"-s", in.Archive,
		"-o", in.Output,
	)
}

// Concatenate builds `gmx trjcat`, keeping every frame of every segment.
func (b *GromacsBuilder) Concatenate(in experiment.ConcatInput) experiment.Command {
	args := append([]string{"trjcat", "-f"}, in.Segments...)
	args = append(args, "-o", in.Output, "-cat")
	return b.command(b.settings.Engine.Binary, "", args...)
}

// StructureExt returns the configured coordinate extension, "gro" by default.
func (b *GromacsBuilder) StructureExt() string { return b.settings.Engine.CoordinateExt }
