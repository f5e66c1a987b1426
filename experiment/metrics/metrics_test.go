package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/trace"
	"github.com/alexisiddiqui/xMD-HOIP/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_ObservesEachCallByStatus(t *testing.T) {
	// GIVEN an instrumented fake executor that fails mdrun
	m := New()
	ex := m.Instrument(&testutil.FakeExecutor{FailOn: "mdrun"})
	ctx := context.Background()

	// WHEN two grompp calls and one mdrun call run
	dir := t.TempDir()
	require.NoError(t, ex.Run(ctx, experiment.Command{Name: "gmx", Args: []string{"grompp", "-o", filepath.Join(dir, "a.tpr")}}))
	require.NoError(t, ex.Run(ctx, experiment.Command{Name: "gmx", Args: []string{"grompp", "-o", filepath.Join(dir, "b.tpr")}}))
	require.Error(t, ex.Run(ctx, experiment.Command{Name: "gmx", Args: []string{"mdrun", "-deffnm", filepath.Join(dir, "a")}}))

	// THEN one series per tool and status is observed
	assert.Equal(t, 2, promtest.CollectAndCount(m.collaboratorDuration))
	assert.Equal(t, uint64(2), histogramCount(t, m, "gmx grompp", "ok"))
	assert.Equal(t, uint64(1), histogramCount(t, m, "gmx mdrun", "error"))
}

func TestObserveRun_CountsStatesAndStages(t *testing.T) {
	m := New()
	rt := trace.NewRunTrace("r")
	now := time.Now()
	rt.CompleteStage(rt.BeginStage(trace.StageRecord{Index: 0, Started: now}), now)
	rt.CompleteStage(rt.BeginStage(trace.StageRecord{Index: 1, Started: now}), now)
	rt.BeginStage(trace.StageRecord{Index: 2, Started: now})

	m.ObserveRun(experiment.StateFailed, rt)
	m.ObserveRun(experiment.StateDone, nil)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.stagesTotal))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.runsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.runsTotal.WithLabelValues("done")))
}

func TestWriteTextfile_ContainsCollectors(t *testing.T) {
	m := New()
	m.ObserveSync("push", 2048)
	path := filepath.Join(t.TempDir(), "prom", "xmd.prom")

	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `xmd_sync_bytes_total{direction="push"} 2048`), text)
	assert.True(t, strings.Contains(text, `xmd_sync_files_total{direction="push"} 1`), text)
}

func histogramCount(t *testing.T, m *Metrics, tool, status string) uint64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "xmd_collaborator_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["tool"] == tool && labels["status"] == status {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}
