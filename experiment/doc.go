// Package experiment provides the trial lifecycle and state tracking for xMD.
//
// # Reading Guide
//
// Start with these files to understand how a trial is laid out on disk:
//   - settings.go: Settings value (directory names, naming, engine options)
//   - naming.go: the file-name grammar shared by every other file
//   - paths.go: directory map derivation, trial-name collision resolution
//   - tracker.go: replicate selection and trajectory segment discovery
//   - experiment.go: input discovery, replicate staging
//   - snapshot.go: versioned state save/load
//
// # Architecture
//
// The experiment package defines interfaces and value types; implementations
// live in sub-packages:
//   - experiment/engine/: GROMACS command construction and process execution
//   - experiment/runner/: StagedRunner, the multi-stage driver
//   - experiment/trace/: per-run stage and collaborator records
//   - experiment/ledger/: SQLite run history
//   - experiment/metrics/: Prometheus collectors for collaborator calls
//   - experiment/artifact/: filesystem and S3 artifact stores
//
// Engine backends register themselves via init() functions that call
// RegisterEngine, so importing experiment/engine is enough to make the
// "gromacs" backend available to NewEngine.
//
// # Key Interfaces
//   - Lifecycle: prepare, resolve stages, run stages, post-process, analyze
//   - Engine: the external simulation engine and its file collaborators
//   - Executor: runs one child process in the foreground
//
// # Known Limitations
//
// Trial-name probing and trajectory index discovery assume a single writer per
// trial and replicate. Two processes targeting the same replicate race between
// probe and creation; no locking is attempted.
package experiment
