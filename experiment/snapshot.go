package experiment

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// StateVersion is the snapshot schema version written by Save.
const StateVersion = 1

// State is the persisted form of an Experiment. It is decoupled from the
// in-memory object so that fields can be added without breaking older files.
type State struct {
	Version       int                 `yaml:"version"`
	SavedAt       time.Time           `yaml:"saved_at"`
	Settings      Settings            `yaml:"settings"`
	Identity      Identity            `yaml:"identity"`
	Directories   DirectoryMap        `yaml:"directories"`
	ConfigFiles   []string            `yaml:"config_files"`
	TopologyFiles []string            `yaml:"topology_files"`
	Trajectories  map[string][]string `yaml:"trajectories"`
	Stage         int                 `yaml:"stage"`
}

// LoadOptions selects which snapshot Load reads. Path wins over Latest, which
// wins over Index; with none set the earliest snapshot is read.
type LoadOptions struct {
	Path   string
	Latest bool
	Index  *int // negative counts from the end
}

// State captures the experiment's current state.
func (e *Experiment) State() *State {
	return &State{
		Version:       StateVersion,
		SavedAt:       e.now().UTC(),
		Settings:      e.Settings(),
		Identity:      e.id,
		Directories:   e.Dirs(),
		ConfigFiles:   e.ConfigFiles(),
		TopologyFiles: e.TopologyFiles(),
		Trajectories:  e.tracker.Trajectories(),
		Stage:         e.stage,
	}
}

// FromState rebuilds an experiment from a loaded snapshot.
func FromState(st *State) (*Experiment, error) {
	e, err := New(st.Settings, st.Identity)
	if err != nil {
		return nil, fmt.Errorf("restoring snapshot: %w", err)
	}
	e.configFiles = cloneStrings(st.ConfigFiles)
	e.topologyFiles = cloneStrings(st.TopologyFiles)
	for label, files := range st.Trajectories {
		e.tracker.trajectories[label] = cloneStrings(files)
	}
	e.stage = st.Stage
	return e, nil
}

// Save writes the experiment state to the logs directory and returns the path.
// name replaces the default <parent>_<code>_<trial>_<replicate> stem. Existing
// snapshots are never overwritten: a second save within the same second gets
// a _<n> counter after the timestamp.
func (e *Experiment) Save(name string) (string, error) {
	if name == "" {
		name = SnapshotStem(e.settings.Parent, e.id)
	}
	st := e.State()
	data, err := yaml.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	logDir := e.dirs[DirLogs]
	if err := mkdir(logDir); err != nil {
		return "", err
	}
	path, f, err := createSnapshotFile(logDir, name, st.SavedAt.Unix(), e.settings.SnapshotExt)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return "", &FilesystemError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &FilesystemError{Op: "close", Path: path, Err: err}
	}
	logrus.Infof("saved experiment to %s", path)
	return path, nil
}

// maxSnapshotCollisions bounds the counter tried by createSnapshotFile.
const maxSnapshotCollisions = 1000

// createSnapshotFile exclusively creates the first free name among
// <stem>_<unix>.<ext>, <stem>_<unix>_1.<ext>, <stem>_<unix>_2.<ext>, ...
func createSnapshotFile(dir, stem string, unix int64, ext string) (string, *os.File, error) {
	base := SnapshotName(stem, unix, ext)
	for n := 0; n < maxSnapshotCollisions; n++ {
		name := base
		if n > 0 {
			name = SnapshotName(fmt.Sprintf("%s_%d", stem, unix), int64(n), ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, &FilesystemError{Op: "create", Path: path, Err: err}
		}
	}
	path := filepath.Join(dir, base)
	return "", nil, &FilesystemError{Op: "create", Path: path, Err: fs.ErrExist}
}

// Load reads a snapshot selected by opts. The returned state is not applied to
// e; use FromState to replace the live experiment.
func (e *Experiment) Load(opts LoadOptions) (*State, error) {
	if opts.Path != "" {
		return ReadSnapshot(opts.Path)
	}
	files, err := ListSnapshots(e.dirs[DirLogs], e.settings.SnapshotExt)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no snapshots in %s: %w", e.dirs[DirLogs], ErrSnapshotNotFound)
	}
	var pick int
	switch {
	case opts.Latest:
		pick = len(files) - 1
	case opts.Index != nil:
		pick = *opts.Index
		if pick < 0 {
			pick += len(files)
		}
		if pick < 0 || pick >= len(files) {
			return nil, fmt.Errorf("snapshot index %d out of %d: %w", *opts.Index, len(files), ErrSnapshotNotFound)
		}
	}
	return ReadSnapshot(files[pick])
}

// ListSnapshots returns the snapshot files in dir ordered by creation time,
// oldest first. Snapshots are write-once, so modification time is creation
// time; ties fall back to the name, which embeds the unix timestamp.
// A missing dir holds no snapshots.
func ListSnapshots(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &FilesystemError{Op: "readdir", Path: dir, Err: err}
	}
	type snap struct {
		path string
		mod  time.Time
	}
	want := "." + trimDot(ext)
	var snaps []snap
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), want) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, &FilesystemError{Op: "stat", Path: entry.Name(), Err: err}
		}
		snaps = append(snaps, snap{path: filepath.Join(dir, entry.Name()), mod: info.ModTime()})
	}
	sort.SliceStable(snaps, func(i, j int) bool {
		if !snaps[i].mod.Equal(snaps[j].mod) {
			return snaps[i].mod.Before(snaps[j].mod)
		}
		return snaps[i].path < snaps[j].path
	})
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.path
	}
	return out, nil
}

// ReadSnapshot decodes one snapshot file. Unknown keys are ignored so that
// files from newer writers still load; a newer schema version is rejected.
func ReadSnapshot(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, &FilesystemError{Op: "read", Path: path, Err: err}
	}
	var st State
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	if st.Version == 0 || st.Version > StateVersion {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d (supported: 1..%d)", path, st.Version, StateVersion)
	}
	logrus.Infof("loaded experiment from %s", path)
	return &st, nil
}
