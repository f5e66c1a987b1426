package experiment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestTracker_SetReplicateIdempotent(t *testing.T) {
	tr := NewReplicateTracker("R_")
	tr.SetReplicate(2)
	tr.SetReplicate(2)
	assert.Equal(t, 2, tr.Current())
	assert.Equal(t, map[string][]string{"R_2": {}}, tr.Trajectories())
}

func TestTracker_ScanAbsentDataDir(t *testing.T) {
	tr := NewReplicateTracker("R_")
	got, err := tr.Scan(filepath.Join(t.TempDir(), "missing"), ".gro")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTracker_ScanFiltersAndExcludesBackups(t *testing.T) {
	data := t.TempDir()
	touch(t, filepath.Join(data, "R_1", "MD_1abc_0.gro"))
	touch(t, filepath.Join(data, "R_1", "MD_1abc_0.tpr"))
	touch(t, filepath.Join(data, "R_1", "#MD_1abc_0.gro.1#"))
	require.NoError(t, os.MkdirAll(filepath.Join(data, "R_1", "sub.gro"), 0o755))
	touch(t, filepath.Join(data, "R_2", "MD_1abc_5.gro"))
	touch(t, filepath.Join(data, "stray.gro"))

	tr := NewReplicateTracker("R_")
	got, err := tr.Scan(data, ".gro")

	require.NoError(t, err)
	assert.Equal(t, []string{"MD_1abc_0.gro"}, got["R_1"])
	assert.Equal(t, []string{"MD_1abc_5.gro"}, got["R_2"])
	assert.Len(t, got, 2)
	assert.Equal(t, []string{"MD_1abc_5.gro"}, tr.Files(2))
}

func TestTracker_LatestIndexWithGap(t *testing.T) {
	// GIVEN segments 0, 1 and 3 plus a backup and a malformed name
	data := t.TempDir()
	for _, name := range []string{"MD_1abc_0.gro", "MD_1abc_1.gro", "MD_1abc_3.gro", "#MD_1abc_9.gro.1#", "MD_1abc_x.gro"} {
		touch(t, filepath.Join(data, "R_1", name))
	}
	tr := NewReplicateTracker("R_")

	// WHEN the latest index is requested
	idx, err := tr.LatestIndex(data, ".gro", "MD", 1)

	// THEN the maximum well-formed index wins
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
}

func TestTracker_LatestIndexErrors(t *testing.T) {
	data := t.TempDir()
	touch(t, filepath.Join(data, "R_1", "other_1abc_0.gro"))
	tr := NewReplicateTracker("R_")

	_, err := tr.LatestIndex(data, ".gro", "MD", 0)
	assert.True(t, errors.Is(err, ErrReplicateNotSet))

	_, err = tr.LatestIndex(data, ".gro", "MD", 1)
	assert.True(t, errors.Is(err, ErrNoMatchingFiles))
}

func TestSegmentIndices_Sorted(t *testing.T) {
	got := SegmentIndices([]string{"MD_a_10.gro", "MD_a_2.gro", "EQ_a_99.gro", "MD_a_0.gro"}, "MD")
	assert.Equal(t, []int{0, 2, 10}, got)
}
