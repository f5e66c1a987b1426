package experiment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSnapshotExperiment(t *testing.T) *Experiment {
	t.Helper()
	s := testSettings(t.TempDir())
	seed(t, s)
	e, err := New(s, Identity{Replicate: 2})
	require.NoError(t, err)
	_, err = e.DiscoverConfigFiles(nil)
	require.NoError(t, err)
	_, err = e.DiscoverTopologyFiles("system", nil)
	require.NoError(t, err)
	return e
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	// GIVEN an experiment with discovered files and a stage index
	e := newSnapshotExperiment(t)
	e.SetClock(func() time.Time { return time.Unix(1700000000, 0) })
	stage := 3
	require.NoError(t, e.SetTrajectoryNumber(&stage))

	// WHEN saved and loaded back
	path, err := e.Save("")
	require.NoError(t, err)
	st, err := e.Load(LoadOptions{Path: path})
	require.NoError(t, err)
	restored, err := FromState(st)
	require.NoError(t, err)

	// THEN the file name follows the snapshot grammar and the state is equal
	assert.Equal(t, "MD_1abc_base_MD_2_1700000000.snapshot", filepath.Base(path))
	if diff := cmp.Diff(e.State(), restored.State(), cmp.Comparer(func(a, b time.Time) bool { return true })); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, restored.Stage())
	assert.Equal(t, e.Dirs(), restored.Dirs())
}

func TestSave_NeverOverwrites(t *testing.T) {
	// GIVEN a clock frozen within one second
	e := newSnapshotExperiment(t)
	e.SetClock(func() time.Time { return time.Unix(1700000000, 0) })

	// WHEN the same stem is saved twice, with the stage changing in between
	first, err := e.Save("fixed")
	require.NoError(t, err)
	before, err := os.ReadFile(first)
	require.NoError(t, err)
	stage := 4
	require.NoError(t, e.SetTrajectoryNumber(&stage))
	second, err := e.Save("fixed")

	// THEN both snapshots exist and the first one is untouched
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "fixed_1700000000.snapshot", filepath.Base(first))
	assert.Equal(t, "fixed_1700000000_1.snapshot", filepath.Base(second))
	after, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	files, err := ListSnapshots(e.Dir(DirLogs), "snapshot")
	require.NoError(t, err)
	assert.Len(t, files, 2)
	st, err := ReadSnapshot(second)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Stage)
}

func TestLoad_SelectsByOrder(t *testing.T) {
	// GIVEN three snapshots with increasing modification times
	e := newSnapshotExperiment(t)
	var paths []string
	base := time.Unix(1700000000, 0)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		e.SetClock(func() time.Time { return ts })
		stage := i
		require.NoError(t, e.SetTrajectoryNumber(&stage))
		p, err := e.Save("")
		require.NoError(t, err)
		require.NoError(t, os.Chtimes(p, ts, ts))
		paths = append(paths, p)
	}

	earliest, err := e.Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, earliest.Stage)

	latest, err := e.Load(LoadOptions{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Stage)

	one := 1
	mid, err := e.Load(LoadOptions{Index: &one})
	require.NoError(t, err)
	assert.Equal(t, 1, mid.Stage)

	minusOne := -1
	last, err := e.Load(LoadOptions{Index: &minusOne})
	require.NoError(t, err)
	assert.Equal(t, 2, last.Stage)

	tooFar := 3
	_, err = e.Load(LoadOptions{Index: &tooFar})
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))

	listed, err := ListSnapshots(e.Dir(DirLogs), "snapshot")
	require.NoError(t, err)
	assert.Equal(t, paths, listed)
}

func TestLoad_NoSnapshots(t *testing.T) {
	e := newSnapshotExperiment(t)
	_, err := e.Load(LoadOptions{})
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
	_, err = e.Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.snapshot")})
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))
}

func TestReadSnapshot_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.snapshot")
	require.NoError(t, os.WriteFile(path, []byte("version: 99\n"), 0o644))
	_, err := ReadSnapshot(path)
	assert.Error(t, err)
}
