package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Direction labels a transfer.
const (
	DirectionPush = "push"
	DirectionPull = "pull"
)

// DefaultConcurrency bounds parallel transfers when Syncer.Concurrency is unset.
const DefaultConcurrency = 4

// Report summarizes one sync.
type Report struct {
	Transferred int
	Skipped     int
	Bytes       int64
}

// Syncer mirrors a local directory to and from a key prefix. Files already
// present on the other side with the same size are skipped, and engine
// backup files are never transferred.
type Syncer struct {
	Store       Store
	Concurrency int
	// Observe, if set, is called once per transferred file.
	Observe func(direction string, size int64)
}

// Push uploads every regular file under localDir to prefix/<relative path>.
func (s *Syncer) Push(ctx context.Context, localDir, prefix string) (Report, error) {
	remote, err := s.remoteSizes(ctx, prefix)
	if err != nil {
		return Report{}, err
	}
	var files []string
	err = filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && !experiment.IsBackup(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return Report{}, &experiment.FilesystemError{Op: "walk", Path: localDir, Err: err}
	}

	var rep report
	g, gctx := s.group(ctx)
	for _, p := range files {
		p := p
		g.Go(func() error {
			rel, err := filepath.Rel(localDir, p)
			if err != nil {
				return err
			}
			key := path.Join(prefix, filepath.ToSlash(rel))
			st, err := os.Stat(p)
			if err != nil {
				return &experiment.FilesystemError{Op: "stat", Path: p, Err: err}
			}
			if size, ok := remote[key]; ok && size == st.Size() {
				rep.skip()
				return nil
			}
			f, err := os.Open(p)
			if err != nil {
				return &experiment.FilesystemError{Op: "open", Path: p, Err: err}
			}
			defer func() { _ = f.Close() }()
			if _, err := s.Store.Put(gctx, key, f, st.Size()); err != nil {
				return fmt.Errorf("push %s: %w", p, err)
			}
			s.transferred(&rep, DirectionPush, key, st.Size())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep.Report, err
	}
	logrus.Infof("pushed %d files (%s) to %s:%s, %d unchanged",
		rep.Transferred, humanize.Bytes(uint64(rep.Bytes)), s.Store.Driver(), prefix, rep.Skipped)
	return rep.Report, nil
}

// Pull downloads every object under prefix into localDir/<relative key>.
func (s *Syncer) Pull(ctx context.Context, prefix, localDir string) (Report, error) {
	infos, err := s.Store.List(ctx, dirPrefix(prefix))
	if err != nil {
		return Report{}, err
	}
	// Every key must land inside localDir; check all of them before writing any.
	rels := make([]string, len(infos))
	for i, info := range infos {
		rel := strings.TrimPrefix(strings.TrimPrefix(info.Key, prefix), "/")
		if rel == "" {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(rel)) {
			return Report{}, fmt.Errorf("key %q escapes %s: %w", info.Key, localDir, ErrUnsafeKey)
		}
		rels[i] = rel
	}

	var rep report
	g, gctx := s.group(ctx)
	for i, info := range infos {
		info := info
		rel := rels[i]
		g.Go(func() error {
			if rel == "" || experiment.IsBackup(path.Base(rel)) {
				return nil
			}
			dest := filepath.Join(localDir, filepath.FromSlash(rel))
			if st, err := os.Stat(dest); err == nil && st.Size() == info.Size {
				rep.skip()
				return nil
			}
			n, err := s.download(gctx, info.Key, dest)
			if err != nil {
				return err
			}
			s.transferred(&rep, DirectionPull, info.Key, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep.Report, err
	}
	logrus.Infof("pulled %d files (%s) from %s:%s, %d unchanged",
		rep.Transferred, humanize.Bytes(uint64(rep.Bytes)), s.Store.Driver(), prefix, rep.Skipped)
	return rep.Report, nil
}

func (s *Syncer) download(ctx context.Context, key, dest string) (int64, error) {
	_, body, err := s.Store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, &experiment.FilesystemError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, &experiment.FilesystemError{Op: "create", Path: dest, Err: err}
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, &experiment.FilesystemError{Op: "write", Path: dest, Err: err}
	}
	return n, nil
}

func (s *Syncer) remoteSizes(ctx context.Context, prefix string) (map[string]int64, error) {
	infos, err := s.Store.List(ctx, dirPrefix(prefix))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	out := make(map[string]int64, len(infos))
	for _, info := range infos {
		out[info.Key] = info.Size
	}
	return out, nil
}

// dirPrefix makes prefix match whole path segments, so R_1 does not match R_10.
func dirPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

func (s *Syncer) group(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g.SetLimit(limit)
	return g, gctx
}

func (s *Syncer) transferred(rep *report, direction, key string, size int64) {
	rep.add(size)
	logrus.Debugf("%s %s (%s)", direction, key, humanize.Bytes(uint64(size)))
	if s.Observe != nil {
		s.Observe(direction, size)
	}
}

type report struct {
	mu sync.Mutex
	Report
}

func (r *report) skip() {
	r.mu.Lock()
	r.Skipped++
	r.mu.Unlock()
}

func (r *report) add(size int64) {
	r.mu.Lock()
	r.Transferred++
	r.Bytes += size
	r.mu.Unlock()
}

// ReplicatePrefix returns the store prefix of a replicate's data directory:
// <parent>/<code>/<trial>/<replicate label>.
func ReplicatePrefix(s experiment.Settings, id experiment.Identity) string {
	return path.Join(s.Parent, id.Code, id.Trial, experiment.ReplicateLabel(s.ReplicatePrefix, id.Replicate))
}
