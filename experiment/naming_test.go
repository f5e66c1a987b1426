package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentName_RoundTrip(t *testing.T) {
	for _, idx := range []int{0, 1, 9, 10, 123} {
		name := SegmentName("MD_1abc", idx, ".gro")
		got, err := ParseSegmentIndex(name)
		require.NoError(t, err, name)
		assert.Equal(t, idx, got)
	}
	assert.Equal(t, "MD_1abc", SegmentStem("MD", "1abc"))
	assert.Equal(t, "MD_1abc_3.xtc", SegmentName(SegmentStem("MD", "1abc"), 3, "xtc"))
}

func TestParseSegmentIndex_Accepts(t *testing.T) {
	tests := map[string]int{
		"MD_1abc_2.gro":          2,
		"data/R_1/MD_1abc_7.tpr": 7,
		"MD_1abc_4.part0001.xtc": 4,
	}
	for name, want := range tests {
		got, err := ParseSegmentIndex(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestParseSegmentIndex_RejectsMalformed(t *testing.T) {
	for _, name := range []string{
		"noindex.gro",
		"MD_1abc_.gro",
		"MD_1abc_x.gro",
		"MD_1abc_2",
		"MD_1abc_2.",
		"MD_1abc_0-mol.xtc",
		"MD_1abc_-1.gro",
	} {
		_, err := ParseSegmentIndex(name)
		assert.Error(t, err, name)
	}
}

func TestIsBackup(t *testing.T) {
	assert.True(t, IsBackup("#MD_1abc_0.gro.1#"))
	assert.False(t, IsBackup("MD_1abc_0.gro"))
}

func TestReplaceExtAndSpliceSuffix(t *testing.T) {
	assert.Equal(t, "d/MD_x_0.gro", ReplaceExt("d/MD_x_0.tpr", "gro"))
	assert.Equal(t, "d/MD_x_0.xtc", ReplaceExt("d/MD_x_0.tpr", ".xtc"))
	assert.Equal(t, "d/MD_x_0-nojump.xtc", SpliceSuffix("d/MD_x_0.xtc", "-nojump"))
}

func TestReplicateLabel(t *testing.T) {
	assert.Equal(t, "R_4", ReplicateLabel("R_", 4))
	assert.Equal(t, "rep10", ReplicateLabel("rep", 10))
}

func TestSnapshotNaming(t *testing.T) {
	stem := SnapshotStem("MD", Identity{Trial: "base_MD", Code: "1abc", Replicate: 2})
	assert.Equal(t, "MD_1abc_base_MD_2", stem)
	assert.Equal(t, "MD_1abc_base_MD_2_1700000000.snapshot", SnapshotName(stem, 1700000000, ".snapshot"))
}
