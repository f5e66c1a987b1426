package experiment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command is one child-process invocation.
type Command struct {
	Name  string   // executable
	Args  []string // arguments, including any subcommand
	Stdin string   // fed to the child as if typed, empty = no input
	Env   []string // KEY=VALUE pairs added to the inherited environment
	Dir   string   // working directory, empty = current
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Tool names the collaborator a command represents, e.g. "gmx grompp".
func (c Command) Tool() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + c.Args[0]
}

// Executor runs a command in the foreground and blocks until it exits.
// A non-zero exit must be reported as a *CollaboratorError.
type Executor interface {
	Run(ctx context.Context, cmd Command) error
}

// PrepareRunInput describes the engine's "prepare run" step.
type PrepareRunInput struct {
	Config      string // stage parameter file
	Coordinates string // starting coordinates
	Topology    string
	Reference   string // restraint-reference coordinates
	Archive     string // output run archive
	MaxWarn     int
}

// ExecuteRunInput describes the engine's "execute run" step. Outputs share
// the archive's base name.
type ExecuteRunInput struct {
	Archive string
	GPU     bool
}

// PBCInput describes one periodic-boundary correction pass.
type PBCInput struct {
	Trajectory string
	Archive    string // reference run archive
	Step       PBCStep
	Output     string
}

// ConvertInput describes a trajectory-to-structure conversion.
type ConvertInput struct {
	Trajectory string
	Archive    string
	Output     string
}

// ConcatInput describes a trajectory concatenation. Reference defaults to the
// first segment with its extension replaced by the structure extension.
type ConcatInput struct {
	Segments  []string
	Output    string
	Reference string
}

// Engine is the external simulation engine together with its trajectory
// post-processing collaborators. Every method blocks until the child exits.
type Engine interface {
	PrepareRun(ctx context.Context, in PrepareRunInput) error
	ExecuteRun(ctx context.Context, in ExecuteRunInput) error
	CorrectPBC(ctx context.Context, in PBCInput) error
	ConvertFormat(ctx context.Context, in ConvertInput) error
	// Concatenate returns the reference structure used for the output.
	Concatenate(ctx context.Context, in ConcatInput) (string, error)
}

// EngineFactory builds an Engine for the given settings on top of an executor.
type EngineFactory func(s Settings, ex Executor) (Engine, error)

var (
	enginesMu sync.RWMutex
	engines   = map[string]EngineFactory{}
)

// RegisterEngine makes a backend available to NewEngine. Backend packages call
// it from init().
func RegisterEngine(name string, factory EngineFactory) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	if factory == nil {
		panic("experiment: RegisterEngine factory is nil")
	}
	engines[name] = factory
}

// NewEngine builds the backend named by s.Engine.Backend.
func NewEngine(s Settings, ex Executor) (Engine, error) {
	enginesMu.RLock()
	factory, ok := engines[s.Engine.Backend]
	enginesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown engine backend %q; registered: %s", s.Engine.Backend, strings.Join(RegisteredEngines(), ", "))
	}
	return factory(s, ex)
}

// RegisteredEngines lists the registered backend names in sorted order.
func RegisteredEngines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
