package experiment

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DirKind names one of the trial-scoped directory trees.
type DirKind string

const (
	DirTemporary     DirKind = "temporary"
	DirLogs          DirKind = "logs"
	DirData          DirKind = "data"
	DirVisualisation DirKind = "visualisation"
	DirAnalysis      DirKind = "analysis"
)

// TrialDirKinds lists the directory kinds created for every trial, in creation order.
var TrialDirKinds = []DirKind{DirTemporary, DirLogs, DirData, DirVisualisation, DirAnalysis}

// Directories groups the directory names used as path segments.
type Directories struct {
	Temporary     string `yaml:"temporary"`
	Logs          string `yaml:"logs"`
	Data          string `yaml:"data"`
	Visualisation string `yaml:"visualisation"`
	Analysis      string `yaml:"analysis"`
	Config        string `yaml:"config"`   // stage parameter files, shared across trials
	Topology      string `yaml:"topology"` // starting structures and topologies, shared across trials
}

// Name returns the configured directory name for a trial directory kind.
func (d Directories) Name(kind DirKind) string {
	switch kind {
	case DirTemporary:
		return d.Temporary
	case DirLogs:
		return d.Logs
	case DirData:
		return d.Data
	case DirVisualisation:
		return d.Visualisation
	case DirAnalysis:
		return d.Analysis
	}
	return ""
}

// PBCStep is one periodic-boundary correction pass.
type PBCStep struct {
	Args   []string `yaml:"args"`   // e.g. ["-pbc", "mol", "-center"]
	Suffix string   `yaml:"suffix"` // spliced before the extension of the output trajectory
}

// PBCSettings groups the two-pass PBC correction: center/wrap, then unwrap.
type PBCSettings struct {
	Center    PBCStep  `yaml:"center"`
	Unwrap    PBCStep  `yaml:"unwrap"`
	Selection []string `yaml:"selection"` // group answers fed to interactive prompts
}

// EngineSettings selects and parameterizes the simulation backend.
type EngineSettings struct {
	Backend   string   `yaml:"backend"`    // registered backend name, "gromacs"
	Binary    string   `yaml:"binary"`     // preprocessing and analysis binary
	MPIBinary string   `yaml:"mpi_binary"` // MD binary when MPI is on
	MPI       bool     `yaml:"mpi"`
	GPU       bool     `yaml:"gpu"`
	GPUFlags  []string `yaml:"gpu_flags"`
	MaxWarn   int      `yaml:"max_warn"`
	EnvVar    string   `yaml:"env_var"`  // e.g. GMXLIB
	EnvPath   string   `yaml:"env_path"` // empty = Root

	// File extensions of the engine's outputs, without the dot.
	ArchiveExt    string `yaml:"archive_ext"`    // run archive, "tpr"
	CoordinateExt string `yaml:"coordinate_ext"` // final coordinates, "gro"
	TrajectoryExt string `yaml:"trajectory_ext"` // compressed trajectory, "xtc"
	StructureExt  string `yaml:"structure_ext"`  // visualization structure, "pdb"
}

// RunBinary returns the binary used for the MD execution step.
func (e EngineSettings) RunBinary() string {
	if e.MPI {
		return e.MPIBinary
	}
	return e.Binary
}

// Settings describes directory layout, naming conventions and backend parameters
// for a family of trials. Settings is a value: derive variants with WithOverrides
// rather than mutating a shared copy.
type Settings struct {
	Root             string         `yaml:"root"`
	TrialName        string         `yaml:"trial_name"`
	Parent           string         `yaml:"parent"`
	Code             string         `yaml:"code"`
	Directories      Directories    `yaml:"directories"`
	ReplicatePrefix  string         `yaml:"replicate_prefix"`
	Replicates       int            `yaml:"replicates"`
	Suffix           string         `yaml:"suffix"`            // segment name prefix for engine outputs
	Search           string         `yaml:"search"`            // default topology search token
	TrajectoryFilter string         `yaml:"trajectory_filter"` // extension substring used by scans
	PBC              PBCSettings    `yaml:"pbc"`
	Engine           EngineSettings `yaml:"engine"`
	SnapshotExt      string         `yaml:"snapshot_ext"`
}

// DefaultSettings returns the backend-neutral defaults.
func DefaultSettings() Settings {
	return Settings{
		Root:      ".",
		TrialName: "base",
		Directories: Directories{
			Temporary:     "temporary",
			Logs:          "logs",
			Data:          "data",
			Visualisation: "visualisation",
			Analysis:      "analysis",
			Config:        "config",
			Topology:      "topology",
		},
		ReplicatePrefix: "R_",
		Replicates:      5,
		SnapshotExt:     "snapshot",
	}
}

// GromacsSettings returns DefaultSettings specialized for the GROMACS backend.
func GromacsSettings() Settings {
	s := DefaultSettings()
	s.TrialName = s.TrialName + "_MD"
	s.Parent = "MD"
	s.Suffix = "MD"
	s.TrajectoryFilter = ".gro"
	s.PBC = PBCSettings{
		Center:    PBCStep{Args: []string{"-pbc", "mol", "-center"}, Suffix: "-mol"},
		Unwrap:    PBCStep{Args: []string{"-pbc", "nojump"}, Suffix: "-nojump"},
		Selection: []string{"1", "0"},
	}
	s.Engine = EngineSettings{
		Backend:   "gromacs",
		Binary:    "gmx",
		MPIBinary: "gmx_mpi",
		MPI:       true,
		GPUFlags:  []string{"-pin", "on", "-pme", "gpu", "-pmefft", "gpu"},
		MaxWarn:   1,
		EnvVar:    "GMXLIB",

		ArchiveExt:    "tpr",
		CoordinateExt: "gro",
		TrajectoryExt: "xtc",
		StructureExt:  "pdb",
	}
	return s
}

// Overrides carries caller-supplied replacements; empty fields leave Settings untouched.
type Overrides struct {
	Root      string
	TrialName string
	Code      string
	Suffix    string
	Search    string
	GPU       *bool
}

// WithOverrides returns a copy of s with the non-empty override fields applied.
// The receiver is never modified.
func (s Settings) WithOverrides(o Overrides) Settings {
	out := s.Clone()
	if o.Root != "" {
		out.Root = o.Root
	}
	if o.TrialName != "" {
		out.TrialName = o.TrialName
	}
	if o.Code != "" {
		out.Code = o.Code
	}
	if o.Suffix != "" {
		out.Suffix = o.Suffix
	}
	if o.Search != "" {
		out.Search = o.Search
	}
	if o.GPU != nil {
		out.Engine.GPU = *o.GPU
	}
	return out
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	out := s
	out.PBC.Center.Args = cloneStrings(s.PBC.Center.Args)
	out.PBC.Unwrap.Args = cloneStrings(s.PBC.Unwrap.Args)
	out.PBC.Selection = cloneStrings(s.PBC.Selection)
	out.Engine.GPUFlags = cloneStrings(s.Engine.GPUFlags)
	return out
}

// EnvPath returns the value exported to the engine's environment variable.
func (s Settings) EnvPath() string {
	if s.Engine.EnvPath != "" {
		return s.Engine.EnvPath
	}
	return s.Root
}

// Validate checks the invariants every other component relies on.
func (s Settings) Validate() error {
	names := map[string]string{
		"temporary":     s.Directories.Temporary,
		"logs":          s.Directories.Logs,
		"data":          s.Directories.Data,
		"visualisation": s.Directories.Visualisation,
		"analysis":      s.Directories.Analysis,
		"config":        s.Directories.Config,
		"topology":      s.Directories.Topology,
	}
	seen := make(map[string]string, len(names))
	for _, field := range []string{"temporary", "logs", "data", "visualisation", "analysis", "config", "topology"} {
		name := names[field]
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("directories.%s must not be empty", field)
		}
		if strings.ContainsRune(name, os.PathSeparator) {
			return fmt.Errorf("directories.%s must be a single path segment, got %q", field, name)
		}
		if other, dup := seen[name]; dup {
			return fmt.Errorf("directories.%s and directories.%s share the name %q", other, field, name)
		}
		seen[name] = field
	}
	if s.Replicates < 1 {
		return fmt.Errorf("replicates must be at least 1, got %d", s.Replicates)
	}
	if s.ReplicatePrefix == "" {
		return fmt.Errorf("replicate_prefix must not be empty")
	}
	if s.TrialName == "" {
		return fmt.Errorf("trial_name must not be empty")
	}
	if strings.ContainsRune(s.TrialName, os.PathSeparator) {
		return fmt.Errorf("trial_name must be a single path segment, got %q", s.TrialName)
	}
	if s.SnapshotExt == "" {
		return fmt.Errorf("snapshot_ext must not be empty")
	}
	if s.PBC.Center.Suffix == "" || s.PBC.Unwrap.Suffix == "" {
		return fmt.Errorf("pbc suffixes must not be empty")
	}
	if s.PBC.Center.Suffix == s.PBC.Unwrap.Suffix {
		return fmt.Errorf("pbc center and unwrap suffixes must differ, both %q", s.PBC.Center.Suffix)
	}
	for field, ext := range map[string]string{
		"archive_ext":    s.Engine.ArchiveExt,
		"coordinate_ext": s.Engine.CoordinateExt,
		"trajectory_ext": s.Engine.TrajectoryExt,
		"structure_ext":  s.Engine.StructureExt,
	} {
		if ext == "" || strings.HasPrefix(ext, ".") {
			return fmt.Errorf("engine.%s must be a bare extension, got %q", field, ext)
		}
	}
	if s.Engine.MaxWarn < 0 {
		return fmt.Errorf("engine.max_warn must be non-negative, got %d", s.Engine.MaxWarn)
	}
	return nil
}

// LoadSettings reads a YAML settings file and overlays it on GromacsSettings.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	s := GromacsSettings()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if s.Engine.MPI && s.Engine.MPIBinary == "" {
		logrus.Warnf("engine.mpi is set without engine.mpi_binary; falling back to %q", s.Engine.Binary)
		s.Engine.MPIBinary = s.Engine.Binary
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
