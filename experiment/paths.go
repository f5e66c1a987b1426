package experiment

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Identity determines every derived path of an experiment.
type Identity struct {
	Trial     string `yaml:"trial"`
	Code      string `yaml:"code"`
	Replicate int    `yaml:"replicate"` // 1..N; 0 = not set
}

// HasReplicate reports whether a replicate has been assigned.
func (id Identity) HasReplicate() bool { return id.Replicate > 0 }

// DirectoryMap maps each trial directory kind to its path.
// A DirectoryMap is replaced, never patched, when the identity changes.
type DirectoryMap map[DirKind]string

// Get returns the path for kind, or "" if the map does not hold it.
func (m DirectoryMap) Get(kind DirKind) string { return m[kind] }

// PlanDirectories derives <root>/<dirname>/<parent>/<code>/<trial> for every
// trial directory kind. It touches no files.
func PlanDirectories(s Settings, trial, code string) DirectoryMap {
	dirs := make(DirectoryMap, len(TrialDirKinds))
	for _, kind := range TrialDirKinds {
		dirs[kind] = filepath.Join(s.Root, s.Directories.Name(kind), s.Parent, code, trial)
	}
	return dirs
}

// ReplicateDir returns the data subdirectory of replicate idx.
func ReplicateDir(s Settings, dirs DirectoryMap, idx int) string {
	return filepath.Join(dirs[DirData], ReplicateLabel(s.ReplicatePrefix, idx))
}

// ConfigDir returns the shared stage-parameter directory.
func ConfigDir(s Settings) string { return filepath.Join(s.Root, s.Directories.Config) }

// TopologyDir returns the shared topology directory.
func TopologyDir(s Settings) string { return filepath.Join(s.Root, s.Directories.Topology) }

// CreateDirectories creates every kind path and one data subdirectory per
// replicate. Existing directories are left as they are.
func CreateDirectories(s Settings, dirs DirectoryMap) error {
	for _, kind := range TrialDirKinds {
		if err := mkdir(dirs[kind]); err != nil {
			return err
		}
	}
	for i := 1; i <= s.Replicates; i++ {
		if err := mkdir(ReplicateDir(s, dirs, i)); err != nil {
			return err
		}
	}
	return nil
}

// ResolveTrialName returns the first of base, base1, base2, ... whose data
// directory does not exist yet, along with its directory map.
// Not safe against another process probing the same trial concurrently.
func ResolveTrialName(s Settings, base, code string) (string, DirectoryMap, error) {
	name := base
	for n := 1; ; n++ {
		dirs := PlanDirectories(s, name, code)
		_, err := os.Stat(dirs[DirData])
		if errors.Is(err, fs.ErrNotExist) {
			return name, dirs, nil
		}
		if err != nil {
			return "", nil, &FilesystemError{Op: "stat", Path: dirs[DirData], Err: err}
		}
		logrus.Debugf("trial %q exists, probing next name", name)
		name = base + strconv.Itoa(n)
	}
}

func mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}
