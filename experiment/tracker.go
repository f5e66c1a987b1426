package experiment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ReplicateTracker holds the current replicate and the trajectory segment
// files known for each replicate label.
type ReplicateTracker struct {
	prefix       string
	current      int
	trajectories map[string][]string
}

// NewReplicateTracker creates a tracker with no replicate selected.
func NewReplicateTracker(prefix string) *ReplicateTracker {
	return &ReplicateTracker{prefix: prefix, trajectories: make(map[string][]string)}
}

// Current returns the selected replicate, 0 if none.
func (t *ReplicateTracker) Current() int { return t.current }

// SetReplicate selects idx and makes sure a list exists for its label.
// Calling it again with the same index changes nothing.
func (t *ReplicateTracker) SetReplicate(idx int) {
	t.current = idx
	label := ReplicateLabel(t.prefix, idx)
	if _, ok := t.trajectories[label]; !ok {
		t.trajectories[label] = []string{}
	}
	logrus.Debugf("replicate set to %d", idx)
}

// Trajectories returns a copy of the tracked label -> files map.
func (t *ReplicateTracker) Trajectories() map[string][]string {
	out := make(map[string][]string, len(t.trajectories))
	for label, files := range t.trajectories {
		out[label] = cloneStrings(files)
	}
	return out
}

// Files returns the tracked files of replicate idx.
func (t *ReplicateTracker) Files(idx int) []string {
	return cloneStrings(t.trajectories[ReplicateLabel(t.prefix, idx)])
}

// Scan replaces the file list of every replicate subdirectory of dataDir with
// the names containing extension and not carrying the backup marker.
// A missing dataDir means nothing has run yet and yields an empty result.
func (t *ReplicateTracker) Scan(dataDir, extension string) (map[string][]string, error) {
	entries, err := os.ReadDir(dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		logrus.Debugf("data directory %s absent, no trajectories yet", dataDir)
		return t.Trajectories(), nil
	}
	if err != nil {
		return nil, &FilesystemError{Op: "readdir", Path: dataDir, Err: err}
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		label := entry.Name()
		dir := filepath.Join(dataDir, label)
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, &FilesystemError{Op: "readdir", Path: dir, Err: err}
		}
		found := []string{}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || !strings.Contains(name, extension) || IsBackup(name) {
				continue
			}
			found = append(found, name)
		}
		t.trajectories[label] = found
	}
	return t.Trajectories(), nil
}

// LatestIndex rescans dataDir and returns the highest segment index among the
// files of replicate idx whose names contain suffix. Names that do not follow
// the segment grammar are skipped with a warning.
func (t *ReplicateTracker) LatestIndex(dataDir, extension, suffix string, idx int) (int, error) {
	if idx <= 0 {
		return 0, fmt.Errorf("finding latest trajectory: %w", ErrReplicateNotSet)
	}
	if _, err := t.Scan(dataDir, extension); err != nil {
		return 0, err
	}
	indices := SegmentIndices(t.trajectories[ReplicateLabel(t.prefix, idx)], suffix)
	if len(indices) == 0 {
		return 0, fmt.Errorf("no %q segments with suffix %q in replicate %d: %w", extension, suffix, idx, ErrNoMatchingFiles)
	}
	return indices[len(indices)-1], nil
}

// SegmentIndices parses the indices of the names containing suffix and returns
// them in ascending order.
func SegmentIndices(names []string, suffix string) []int {
	var out []int
	for _, name := range names {
		if !strings.Contains(name, suffix) {
			continue
		}
		idx, err := ParseSegmentIndex(name)
		if err != nil {
			logrus.Warnf("skipping trajectory file: %v", err)
			continue
		}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
