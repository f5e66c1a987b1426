package experiment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigurationMismatch is returned when the requested stage count cannot be
	// reconciled with the discovered config files.
	ErrConfigurationMismatch = errors.New("configuration mismatch")
	// ErrReplicateNotSet is returned by operations that need a replicate index before one is assigned.
	ErrReplicateNotSet = errors.New("replicate not set")
	// ErrNoMatchingFiles is returned when a discovery filter leaves no candidates.
	ErrNoMatchingFiles = errors.New("no matching files")
	// ErrSnapshotNotFound is returned when a load request matches no snapshot file.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrInvalidIdentity is returned when a system code or trial name cannot be
	// used as a path segment.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// CollaboratorError reports an external tool that exited with a failure status.
type CollaboratorError struct {
	Tool   string
	Args   []string
	Stderr string // tail of the child's stderr, may be empty
	Err    error
}

func (e *CollaboratorError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// FilesystemError reports a directory creation, listing or copy failure.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
