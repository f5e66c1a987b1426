// Package metrics exposes Prometheus collectors for staged runs. Batch runs
// have no scrape endpoint, so the registry is written to a node-exporter
// textfile when the run ends.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/trace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one process, on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	collaboratorDuration *prometheus.HistogramVec
	stagesTotal          prometheus.Counter
	runsTotal            *prometheus.CounterVec
	syncBytesTotal       *prometheus.CounterVec
	syncFilesTotal       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		collaboratorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xmd_collaborator_duration_seconds",
			Help:    "Wall time of external tool invocations",
			Buckets: []float64{0.1, 1, 10, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		}, []string{"tool", "status"}),
		stagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "xmd_stages_completed_total",
			Help: "Simulation stages that ran to completion",
		}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xmd_runs_total",
			Help: "Staged runs by final state",
		}, []string{"state"}),
		syncBytesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xmd_sync_bytes_total",
			Help: "Artifact bytes transferred by direction",
		}, []string{"direction"}),
		syncFilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xmd_sync_files_total",
			Help: "Artifact files transferred by direction",
		}, []string{"direction"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveRun counts a finished run and its completed stages.
func (m *Metrics) ObserveRun(state experiment.RunState, rt *trace.RunTrace) {
	m.runsTotal.WithLabelValues(string(state)).Inc()
	m.stagesTotal.Add(float64(trace.Summarize(rt).CompletedStages))
}

// ObserveSync counts one transferred artifact.
func (m *Metrics) ObserveSync(direction string, size int64) {
	m.syncFilesTotal.WithLabelValues(direction).Inc()
	m.syncBytesTotal.WithLabelValues(direction).Add(float64(size))
}

// Instrument wraps ex so that every command's duration is observed.
func (m *Metrics) Instrument(ex experiment.Executor) experiment.Executor {
	return &instrumented{next: ex, hist: m.collaboratorDuration}
}

// WriteTextfile writes the registry to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

type instrumented struct {
	next experiment.Executor
	hist *prometheus.HistogramVec
}

func (i *instrumented) Run(ctx context.Context, c experiment.Command) error {
	start := time.Now()
	err := i.next.Run(ctx, c)
	status := "ok"
	if err != nil {
		status = "error"
	}
	i.hist.WithLabelValues(c.Tool(), status).Observe(time.Since(start).Seconds())
	return err
}
