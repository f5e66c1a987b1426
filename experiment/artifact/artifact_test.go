package artifact

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSanitizeKey(t *testing.T) {
	for _, bad := range []string{"", "  ", "/abs", "../up", "a/../../b"} {
		_, err := sanitizeKey(bad)
		assert.Error(t, err, "key %q", bad)
	}
	k, err := sanitizeKey("MD/1abc/./base_MD/R_1/MD_1abc_0.xtc")
	require.NoError(t, err)
	assert.Equal(t, "MD/1abc/base_MD/R_1/MD_1abc_0.xtc", k)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "ftp"})
	assert.Error(t, err)
}

func TestFSStore_GetMissing(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	_, _, err = s.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSyncer_PushPullRoundTrip_FS(t *testing.T) {
	// GIVEN a replicate directory with two segments, a nested file and an engine backup
	ctx := context.Background()
	local := t.TempDir()
	writeFile(t, filepath.Join(local, "MD_1abc_0.xtc"), "frames-0")
	writeFile(t, filepath.Join(local, "MD_1abc_1.xtc"), "frames-1")
	writeFile(t, filepath.Join(local, "extra", "notes.txt"), "n")
	writeFile(t, filepath.Join(local, "#MD_1abc_0.xtc.1#"), "backup")
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)

	var observed []int64
	var mu sync.Mutex
	syncer := &Syncer{Store: store, Concurrency: 2, Observe: func(_ string, size int64) {
		mu.Lock()
		observed = append(observed, size)
		mu.Unlock()
	}}

	// WHEN pushed twice
	rep, err := syncer.Push(ctx, local, "MD/1abc/base_MD/R_1")
	require.NoError(t, err)
	again, err := syncer.Push(ctx, local, "MD/1abc/base_MD/R_1")
	require.NoError(t, err)

	// THEN the first push uploads everything except the backup and the second skips it all
	assert.Equal(t, Report{Transferred: 3, Bytes: 17}, rep)
	assert.Equal(t, Report{Skipped: 3}, again)
	assert.Len(t, observed, 3)
	infos, err := store.List(ctx, "MD/")
	require.NoError(t, err)
	keys := make([]string, len(infos))
	for i, info := range infos {
		keys[i] = info.Key
	}
	assert.Equal(t, []string{
		"MD/1abc/base_MD/R_1/MD_1abc_0.xtc",
		"MD/1abc/base_MD/R_1/MD_1abc_1.xtc",
		"MD/1abc/base_MD/R_1/extra/notes.txt",
	}, keys)

	// WHEN pulled into a fresh directory
	dest := t.TempDir()
	pulled, err := syncer.Pull(ctx, "MD/1abc/base_MD/R_1", dest)

	// THEN the tree is reproduced
	require.NoError(t, err)
	assert.Equal(t, 3, pulled.Transferred)
	assert.Equal(t, "frames-1", readFile(t, filepath.Join(dest, "MD_1abc_1.xtc")))
	assert.Equal(t, "n", readFile(t, filepath.Join(dest, "extra", "notes.txt")))
}

func TestSyncer_PullDoesNotMatchSiblingReplicate(t *testing.T) {
	ctx := context.Background()
	store, err := NewFS(t.TempDir())
	require.NoError(t, err)
	_, err = store.Put(ctx, "MD/x/t/R_1/a.xtc", strings.NewReader("1"), 1)
	require.NoError(t, err)
	_, err = store.Put(ctx, "MD/x/t/R_10/b.xtc", strings.NewReader("10"), 2)
	require.NoError(t, err)

	dest := t.TempDir()
	rep, err := (&Syncer{Store: store}).Pull(ctx, "MD/x/t/R_1", dest)

	require.NoError(t, err)
	assert.Equal(t, 1, rep.Transferred)
	assert.FileExists(t, filepath.Join(dest, "a.xtc"))
}

// listingStore serves a fixed listing, whatever its keys look like.
type listingStore struct {
	objects map[string]string
}

func (l *listingStore) Driver() Driver { return DriverS3 }

func (l *listingStore) Put(context.Context, string, io.Reader, int64) (Info, error) {
	return Info{}, errors.New("read-only")
}

func (l *listingStore) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	body, ok := l.objects[key]
	if !ok {
		return Info{}, nil, ErrNotFound
	}
	return Info{Key: key, Size: int64(len(body))}, io.NopCloser(strings.NewReader(body)), nil
}

func (l *listingStore) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	for key, body := range l.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Info{Key: key, Size: int64(len(body))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func TestSyncer_PullRejectsKeysEscapingDestination(t *testing.T) {
	// GIVEN a store listing a traversal key next to a regular one
	root := t.TempDir()
	dest := filepath.Join(root, "a", "b", "R_1")
	store := &listingStore{objects: map[string]string{
		"MD/x/t/R_1/MD_x_0.xtc":        "ok",
		"MD/x/t/R_1/../../escaped.txt": "bad",
	}}

	// WHEN the replicate is pulled
	rep, err := (&Syncer{Store: store}).Pull(context.Background(), "MD/x/t/R_1", dest)

	// THEN the pull fails before writing anything
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsafeKey))
	assert.Equal(t, Report{}, rep)
	assert.NoFileExists(t, filepath.Join(root, "a", "escaped.txt"))
	assert.NoFileExists(t, filepath.Join(dest, "MD_x_0.xtc"))
}

func TestReplicatePrefix(t *testing.T) {
	s := experiment.GromacsSettings()
	got := ReplicatePrefix(s, experiment.Identity{Trial: "base_MD", Code: "1abc", Replicate: 3})
	assert.Equal(t, "MD/1abc/base_MD/R_3", got)
}

func TestS3Store_RoundTripWithFakeTransport(t *testing.T) {
	// GIVEN an S3 store backed by an in-memory transport
	ctx := context.Background()
	rt := &fakeS3{objects: map[string][]byte{}}
	store, err := NewS3(ctx, S3Config{
		Bucket:          "trials",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: rt},
	})
	require.NoError(t, err)
	local := t.TempDir()
	writeFile(t, filepath.Join(local, "MD_1abc_0.gro"), "coords")

	// WHEN a replicate is pushed and pulled back
	syncer := &Syncer{Store: store}
	rep, err := syncer.Push(ctx, local, "MD/1abc/base_MD/R_1")
	require.NoError(t, err)
	dest := t.TempDir()
	pulled, err := syncer.Pull(ctx, "MD/1abc/base_MD/R_1", dest)

	// THEN the object round-trips through the bucket
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Transferred)
	assert.Equal(t, 1, pulled.Transferred)
	assert.Equal(t, "coords", readFile(t, filepath.Join(dest, "MD_1abc_0.gro")))
	_, _, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}

// fakeS3 serves the path-style subset of S3 used by S3Store.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return respond(req, http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	}
	switch req.Method {
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") || req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			if body, err = decodeChunked(body); err != nil {
				return nil, err
			}
		}
		f.objects[key] = body
		return respond(req, http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return respond(req, http.StatusNotFound,
				[]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`),
				http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return respond(req, http.StatusOK, body, http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"ETag":           {`"etag"`},
		}), nil
	}
	return respond(req, http.StatusNotImplemented, nil, http.Header{}), nil
}

func respond(req *http.Request, status int, body []byte, h http.Header) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// decodeChunked strips aws-chunked framing: <hex>[;ext]\r\n<data>\r\n ... 0\r\n<trailers>.
func decodeChunked(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		n, err := strconv.ParseInt(line, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if _, err := r.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}
