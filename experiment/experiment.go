package experiment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Experiment is one trial of one system: settings, identity, directory layout,
// replicate/trajectory state and the input files discovered for it.
type Experiment struct {
	settings      Settings
	id            Identity
	dirs          DirectoryMap
	tracker       *ReplicateTracker
	stage         int
	configFiles   []string
	topologyFiles []string
	now           func() time.Time
}

// New creates an experiment. Empty identity fields fall back to the settings'
// trial name and code; a zero replicate stays unset.
func New(s Settings, id Identity) (*Experiment, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if id.Trial == "" {
		id.Trial = s.TrialName
	}
	if id.Code == "" {
		id.Code = s.Code
	}
	if err := validateSegment("code", id.Code); err != nil {
		return nil, err
	}
	if err := validateSegment("trial", id.Trial); err != nil {
		return nil, err
	}
	e := &Experiment{
		settings: s.Clone(),
		id:       Identity{Trial: id.Trial, Code: id.Code},
		tracker:  NewReplicateTracker(s.ReplicatePrefix),
		now:      time.Now,
	}
	e.dirs = PlanDirectories(e.settings, e.id.Trial, e.id.Code)
	if err := e.SetReplicate(id.Replicate); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"trial": e.id.Trial, "code": e.id.Code, "data": e.dirs[DirData],
	}).Debug("experiment planned")
	return e, nil
}

// SetClock replaces the time source used for snapshot names.
func (e *Experiment) SetClock(now func() time.Time) { e.now = now }

// Settings returns a copy of the experiment's settings.
func (e *Experiment) Settings() Settings { return e.settings.Clone() }

// Identity returns the current identity.
func (e *Experiment) Identity() Identity { return e.id }

// Name returns the trial name.
func (e *Experiment) Name() string { return e.id.Trial }

// Dir returns the path of a trial directory kind.
func (e *Experiment) Dir(kind DirKind) string { return e.dirs[kind] }

// Dirs returns a copy of the directory map.
func (e *Experiment) Dirs() DirectoryMap {
	out := make(DirectoryMap, len(e.dirs))
	for k, v := range e.dirs {
		out[k] = v
	}
	return out
}

// Stage returns the current trajectory/stage index.
func (e *Experiment) Stage() int { return e.stage }

// ConfigFiles returns the discovered config files.
func (e *Experiment) ConfigFiles() []string { return cloneStrings(e.configFiles) }

// SetConfigFiles replaces the config file list, e.g. after stage expansion.
func (e *Experiment) SetConfigFiles(files []string) { e.configFiles = cloneStrings(files) }

// TopologyFiles returns the discovered topology files.
func (e *Experiment) TopologyFiles() []string { return cloneStrings(e.topologyFiles) }

// Trajectories returns the tracked replicate label -> segment files map.
func (e *Experiment) Trajectories() map[string][]string { return e.tracker.Trajectories() }

// SetName renames the trial and re-derives the directory map.
func (e *Experiment) SetName(trial string) {
	e.id.Trial = trial
	e.dirs = PlanDirectories(e.settings, e.id.Trial, e.id.Code)
}

// SetReplicate selects a replicate. Zero keeps the current selection.
func (e *Experiment) SetReplicate(idx int) error {
	if idx == 0 {
		if e.id.Replicate > 0 {
			e.tracker.SetReplicate(e.id.Replicate)
		}
		return nil
	}
	if idx < 0 || idx > e.settings.Replicates {
		return fmt.Errorf("replicate %d outside 1..%d", idx, e.settings.Replicates)
	}
	e.id.Replicate = idx
	e.tracker.SetReplicate(idx)
	return nil
}

// ReplicateDir returns the data subdirectory of the current replicate.
func (e *Experiment) ReplicateDir() (string, error) {
	if !e.id.HasReplicate() {
		return "", ErrReplicateNotSet
	}
	return ReplicateDir(e.settings, e.dirs, e.id.Replicate), nil
}

// CreateDirectoryStructure creates the trial's directories. Unless overwrite is
// set, an existing trial is left alone and the experiment is renamed to the
// first free name (base, base1, base2, ...). Returns the final trial name.
func (e *Experiment) CreateDirectoryStructure(overwrite bool) (string, error) {
	if !overwrite {
		name, dirs, err := ResolveTrialName(e.settings, e.id.Trial, e.id.Code)
		if err != nil {
			return "", err
		}
		if name != e.id.Trial {
			logrus.Infof("trial %q already exists, using %q", e.id.Trial, name)
		}
		e.id.Trial = name
		e.dirs = dirs
	}
	if err := CreateDirectories(e.settings, e.dirs); err != nil {
		return "", err
	}
	logrus.Infof("created directories for trial %s", e.id.Trial)
	return e.id.Trial, nil
}

// DiscoverConfigFiles records the stage config files. An explicit list is used
// verbatim; otherwise every regular file in the config directory is used.
func (e *Experiment) DiscoverConfigFiles(explicit []string) ([]string, error) {
	if explicit != nil {
		e.configFiles = cloneStrings(explicit)
		logrus.Infof("using config files %v", e.configFiles)
		return e.ConfigFiles(), nil
	}
	files, err := listFiles(ConfigDir(e.settings))
	if err != nil {
		return nil, err
	}
	e.configFiles = files
	logrus.Infof("config files: %v", e.configFiles)
	return e.ConfigFiles(), nil
}

// DiscoverTopologyFiles records the topology files belonging to the system code.
// A file belongs to the code when the second-to-last dot-separated segment of
// its name contains it. search (or Settings.Search when empty) narrows the same
// segment; a non-nil explicit list is intersected last.
func (e *Experiment) DiscoverTopologyFiles(search string, explicit []string) ([]string, error) {
	files, err := listFiles(TopologyDir(e.settings))
	if err != nil {
		return nil, err
	}
	if search == "" {
		search = e.settings.Search
	}
	var allowed map[string]bool
	if explicit != nil {
		allowed = make(map[string]bool, len(explicit))
		for _, f := range explicit {
			allowed[f] = true
		}
	}
	selected := []string{}
	for _, name := range files {
		seg, ok := stemSegment(name)
		if !ok || !strings.Contains(seg, e.id.Code) {
			continue
		}
		if search != "" && !strings.Contains(seg, search) {
			continue
		}
		if allowed != nil && !allowed[name] {
			continue
		}
		selected = append(selected, name)
	}
	e.topologyFiles = selected
	logrus.Infof("topology files for %s: %v", e.id.Code, selected)
	return e.TopologyFiles(), nil
}

// CopyTopologyFilesToReplicate copies every discovered topology file into the
// replicate's data directory, overwriting existing copies. Zero selects the
// current replicate.
func (e *Experiment) CopyTopologyFilesToReplicate(replicate int) error {
	if replicate == 0 {
		replicate = e.id.Replicate
	}
	if replicate <= 0 {
		return fmt.Errorf("copying topology files: %w", ErrReplicateNotSet)
	}
	dest := ReplicateDir(e.settings, e.dirs, replicate)
	src := TopologyDir(e.settings)
	for _, name := range e.topologyFiles {
		if err := copyFile(filepath.Join(src, name), filepath.Join(dest, name)); err != nil {
			return err
		}
	}
	logrus.Debugf("copied %d topology files to %s", len(e.topologyFiles), dest)
	return nil
}

// ScanTrajectoryFiles rescans the data directory for segment files.
func (e *Experiment) ScanTrajectoryFiles() (map[string][]string, error) {
	return e.tracker.Scan(e.dirs[DirData], e.settings.TrajectoryFilter)
}

// LatestTrajectoryIndex returns the highest segment index in a replicate.
// An empty suffix uses Settings.Suffix; a zero replicate uses the current one.
func (e *Experiment) LatestTrajectoryIndex(suffix string, replicate int) (int, error) {
	if suffix == "" {
		suffix = e.settings.Suffix
	}
	if replicate == 0 {
		replicate = e.id.Replicate
	}
	return e.tracker.LatestIndex(e.dirs[DirData], e.settings.TrajectoryFilter, suffix, replicate)
}

// SetTrajectoryNumber sets the stage index to explicit when given, otherwise to
// the latest index found on disk for the current replicate.
func (e *Experiment) SetTrajectoryNumber(explicit *int) error {
	if explicit != nil {
		e.stage = *explicit
		logrus.Debugf("trajectory number set to %d", e.stage)
		return nil
	}
	idx, err := e.LatestTrajectoryIndex("", 0)
	if err != nil {
		return err
	}
	e.stage = idx
	logrus.Debugf("trajectory number set to latest %d", e.stage)
	return nil
}

// StagePath returns <replicate dir>/<suffix>_<code>_<stage>.<ext>.
func (e *Experiment) StagePath(stage int, ext string) (string, error) {
	dir, err := e.ReplicateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, SegmentName(SegmentStem(e.settings.Suffix, e.id.Code), stage, ext)), nil
}

// Segments lists the current replicate's well-formed stage outputs with the
// given extension, ordered by stage index.
func (e *Experiment) Segments(ext string) ([]string, error) {
	dir, err := e.ReplicateDir()
	if err != nil {
		return nil, err
	}
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	prefix := SegmentStem(e.settings.Suffix, e.id.Code) + "_"
	want := "." + trimDot(ext)
	byIndex := map[int]string{}
	var indices []int
	for _, name := range files {
		if IsBackup(name) || !strings.HasPrefix(name, prefix) || filepath.Ext(name) != want {
			continue
		}
		idx, err := ParseSegmentIndex(name)
		if err != nil {
			continue
		}
		byIndex[idx] = filepath.Join(dir, name)
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no %s segments in %s: %w", want, dir, ErrNoMatchingFiles)
	}
	sort.Ints(indices)
	out := make([]string, 0, len(indices))
	for _, idx := range indices {
		out = append(out, byIndex[idx])
	}
	return out, nil
}

// validateSegment rejects identity fields that would collapse or escape the
// <kind>/<parent>/<code>/<trial> layout.
func validateSegment(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty: %w", field, ErrInvalidIdentity)
	}
	if strings.ContainsAny(value, `/\`) || value == "." || value == ".." {
		return fmt.Errorf("%s %q must be a single path segment: %w", field, value, ErrInvalidIdentity)
	}
	return nil
}

// stemSegment returns the second-to-last dot-separated segment of name.
func stemSegment(name string) (string, bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return "", false
	}
	return parts[len(parts)-2], true
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &FilesystemError{Op: "readdir", Path: dir, Err: err}
	}
	files := []string{}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &FilesystemError{Op: "open", Path: src, Err: err}
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return &FilesystemError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return &FilesystemError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &FilesystemError{Op: "close", Path: dst, Err: err}
	}
	return nil
}
