package engine

import (
	"path/filepath"
	"testing"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() experiment.Settings {
	s := experiment.GromacsSettings()
	s.Root = "/work"
	s.Code = "1abc"
	return s
}

func TestGromacsBuilder_PrepareRun(t *testing.T) {
	b := NewGromacsBuilder(testSettings())

	cmd := b.PrepareRun(experiment.PrepareRunInput{
		Config: "c.mdp", Coordinates: "in.gro", Topology: "t.top", Reference: "in.gro", Archive: "MD_1abc_0.tpr", MaxWarn: 1,
	})

	assert.Equal(t, "gmx", cmd.Name)
	assert.Equal(t, []string{"grompp", "-f", "c.mdp", "-c", "in.gro", "-p", "t.top", "-o", "MD_1abc_0.tpr", "-r", "in.gro", "-maxwarn", "1", "-v"}, cmd.Args)
	assert.Equal(t, []string{"GMXLIB=/work"}, cmd.Env)
	assert.Empty(t, cmd.Stdin)
}

func TestGromacsBuilder_ExecuteRun(t *testing.T) {
	s := testSettings()
	b := NewGromacsBuilder(s)

	plain := b.ExecuteRun(experiment.ExecuteRunInput{Archive: "/d/R_1/MD_1abc_0.tpr"})
	gpu := b.ExecuteRun(experiment.ExecuteRunInput{Archive: "/d/R_1/MD_1abc_0.tpr", GPU: true})

	assert.Equal(t, "gmx_mpi", plain.Name)
	assert.Equal(t, []string{"mdrun", "-v", "-deffnm", "/d/R_1/MD_1abc_0"}, plain.Args)
	assert.Equal(t, []string{"mdrun", "-v", "-deffnm", "/d/R_1/MD_1abc_0", "-pin", "on", "-pme", "gpu", "-pmefft", "gpu"}, gpu.Args)

	s.Engine.MPI = false
	assert.Equal(t, "gmx", NewGromacsBuilder(s).ExecuteRun(experiment.ExecuteRunInput{Archive: "x.tpr"}).Name)
}

func TestGromacsBuilder_CorrectPBCAndConvert(t *testing.T) {
	s := testSettings()
	b := NewGromacsBuilder(s)

	pbc := b.CorrectPBC(experiment.PBCInput{Trajectory: "a.xtc", Archive: "a.tpr", Step: s.PBC.Center, Output: "a-mol.xtc"})
	conv := b.ConvertFormat(experiment.ConvertInput{Trajectory: "a-nojump.xtc", Archive: "a.tpr", Output: "1_a.pdb"})

	assert.Equal(t, []string{"trjconv", "-f", "a.xtc", "-s", "a.tpr", "-pbc", "mol", "-center", "-o", "a-mol.xtc"}, pbc.Args)
	assert.Equal(t, "1\n0\n", pbc.Stdin)
	assert.Equal(t, []string{"trjconv", "-f", "a-nojump.xtc", "-s", "a.tpr", "-o", "1_a.pdb"}, conv.Args)
	assert.Equal(t, "1\n0\n", conv.Stdin)
}

func TestGromacsBuilder_Concatenate(t *testing.T) {
	b := NewGromacsBuilder(testSettings())
	cmd := b.Concatenate(experiment.ConcatInput{Segments: []string{"a_0.xtc", "a_1.xtc"}, Output: "all.xtc"})
	assert.Equal(t, []string{"trjcat", "-f", "a_0.xtc", "a_1.xtc", "-o", "all.xtc", "-cat"}, cmd.Args)
	assert.Equal(t, "gro", b.StructureExt())
}

func TestGromacsBuilder_RelativeEnvPathIsAbsolute(t *testing.T) {
	s := testSettings()
	s.Root = "."
	cmd := NewGromacsBuilder(s).PrepareRun(experiment.PrepareRunInput{})
	require.Len(t, cmd.Env, 1)
	assert.True(t, filepath.IsAbs(cmd.Env[0][len("GMXLIB="):]))
}

func TestGromacsBuilder_NoEnvVar(t *testing.T) {
	s := testSettings()
	s.Engine.EnvVar = ""
	cmd := NewGromacsBuilder(s).PrepareRun(experiment.PrepareRunInput{})
	assert.Empty(t, cmd.Env)
}

func TestRegistry_GromacsRegistered(t *testing.T) {
	assert.Contains(t, experiment.RegisteredEngines(), "gromacs")
	eng, err := experiment.NewEngine(testSettings(), nil)
	require.NoError(t, err)
	assert.IsType(t, &Engine{}, eng)

	s := testSettings()
	s.Engine.Backend = "amber"
	_, err = experiment.NewEngine(s, nil)
	assert.Error(t, err)
}
