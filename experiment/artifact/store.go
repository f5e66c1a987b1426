// Package artifact copies trial outputs between the local data tree and a
// blob store, so that replicates simulated on a cluster node can be pulled
// elsewhere for analysis. Two backends exist: a local directory ("fs") and an
// S3-compatible bucket ("s3").
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when a key is absent from the store.
var ErrNotFound = errors.New("artifact not found")

// ErrUnsafeKey is returned when a stored key would resolve outside its
// destination directory.
var ErrUnsafeKey = errors.New("unsafe artifact key")

// Driver names a store backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// Info describes one stored object.
type Info struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Store is the blob surface used by Syncer. Put replaces existing objects.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, r io.Reader, size int64) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]Info, error)
}

// Config selects and parameterizes a backend.
type Config struct {
	Driver Driver
	Root   string // fs: base directory
	S3     S3Config
}

// Open builds the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return NewFS(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	}
	return nil, fmt.Errorf("unknown artifact driver %q (want fs or s3)", cfg.Driver)
}

// sanitizeKey rejects keys that could escape the store root.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", fmt.Errorf("invalid key traversal %q", key)
	}
	return clean, nil
}
