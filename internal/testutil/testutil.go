// Package testutil provides shared test infrastructure for xMD: a fake
// executor that materializes engine outputs without running GROMACS, and
// helpers that lay out trial input trees under t.TempDir().
package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
)

// DeffnmExtensions are the files FakeExecutor creates for `-deffnm <stem>`.
var DeffnmExtensions = []string{"gro", "xtc", "log", "edr", "cpt"}

// FakeExecutor records every command and creates the files named by its
// -o and -deffnm arguments. FailOn makes every command whose Tool() contains
// it fail with a *experiment.CollaboratorError.
type FakeExecutor struct {
	FailOn string

	mu    sync.Mutex
	calls []experiment.Command
}

// Run implements experiment.Executor.
func (f *FakeExecutor) Run(ctx context.Context, c experiment.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if f.FailOn != "" && strings.Contains(c.Tool(), f.FailOn) {
		return &experiment.CollaboratorError{
			Tool:   c.Name,
			Args:   c.Args,
			Stderr: "fake failure",
			Err:    errors.New("exit status 1"),
		}
	}
	for i := 0; i < len(c.Args)-1; i++ {
		switch c.Args[i] {
		case "-o":
			if err := touch(c.Args[i+1]); err != nil {
				return err
			}
		case "-deffnm":
			for _, ext := range DeffnmExtensions {
				if err := touch(c.Args[i+1] + "." + ext); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Calls returns a copy of the recorded commands.
func (f *FakeExecutor) Calls() []experiment.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]experiment.Command(nil), f.calls...)
}

// Tools returns Tool() of every recorded command, in call order.
func (f *FakeExecutor) Tools() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Tool()
	}
	return out
}

// ArgAfter returns the argument following flag in c, or "" when absent.
func ArgAfter(c experiment.Command, flag string) string {
	for i := 0; i < len(c.Args)-1; i++ {
		if c.Args[i] == flag {
			return c.Args[i+1]
		}
	}
	return ""
}

func touch(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("fake\n"), 0o644)
}

// Settings returns GROMACS settings rooted at root for system code "1abc",
// with MPI off so commands run on the plain binary.
func Settings(root string) experiment.Settings {
	s := experiment.GromacsSettings()
	s.Root = root
	s.Code = "1abc"
	s.Engine.MPI = false
	return s
}

// WriteFile creates path and its parents with the given content.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// SeedInputs writes the named config files into the config directory and the
// named topology files into the topology directory of s.
func SeedInputs(t testing.TB, s experiment.Settings, configs, topologies []string) {
	t.Helper()
	for _, name := range configs {
		WriteFile(t, filepath.Join(experiment.ConfigDir(s), name), "; "+name+"\n")
	}
	for _, name := range topologies {
		WriteFile(t, filepath.Join(experiment.TopologyDir(s), name), name+"\n")
	}
}

// NewTrial creates an experiment for replicate 1 with its directories on disk.
func NewTrial(t testing.TB, s experiment.Settings) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.New(s, experiment.Identity{Replicate: 1})
	if err != nil {
		t.Fatalf("new experiment: %v", err)
	}
	if _, err := exp.CreateDirectoryStructure(true); err != nil {
		t.Fatalf("create directories: %v", err)
	}
	return exp
}
