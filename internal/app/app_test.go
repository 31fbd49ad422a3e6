package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"bucketzip/internal/archive"
	"bucketzip/internal/checkpoint"
	"bucketzip/internal/config"
	"bucketzip/internal/storage"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

func zipOf(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("data"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type harness struct {
	t   *testing.T
	src *blob.Bucket
	dst *blob.Bucket
}

// newHarness fills the source with n objects of 10 bytes each.
func newHarness(t *testing.T, n int) *harness {
	t.Helper()
	h := &harness{t: t, src: memblob.OpenBucket(nil), dst: memblob.OpenBucket(nil)}
	t.Cleanup(func() {
		h.src.Close()
		h.dst.Close()
	})
	for i := 0; i < n; i++ {
		h.put(fmt.Sprintf("obj-%03d", i), []byte(fmt.Sprintf("content%03d", i)))
	}
	return h
}

func (h *harness) put(key string, data []byte) {
	require.NoError(h.t, h.src.WriteAll(context.Background(), key, data, nil))
}

func (h *harness) clients() (storage.Client, storage.Client) {
	src := storage.NewBlobClientWithBuckets(map[string]*blob.Bucket{"src": h.src})
	dst := storage.NewBlobClientWithBuckets(map[string]*blob.Bucket{"dst": h.dst})
	return src, dst
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Source.Backend = "mem"
	cfg.Target.Backend = "mem"
	cfg.Archive.SourceBucket = "src"
	cfg.Archive.DestBucket = "dst"
	cfg.Archive.Label = "src"
	cfg.Archive.PageSize = 10
	cfg.Archive.MaxWorkers = 4
	return cfg
}

func (h *harness) archiver(cfg *config.Config, maxChunkBytes int64, src, dst storage.Client, journal checkpoint.Store) *Archiver {
	if journal == nil {
		journal, _ = checkpoint.Open("")
	}
	a := NewWithClients(cfg, zaptest.NewLogger(h.t), src, dst, journal)
	a.maxChunkBytes = maxChunkBytes
	return a
}

func (h *harness) run(maxChunkBytes int64) (*Archiver, error) {
	src, dst := h.clients()
	a := h.archiver(testConfig(), maxChunkBytes, src, dst, nil)
	return a, a.Run(context.Background())
}

func (h *harness) manifest() string {
	data, err := h.dst.ReadAll(context.Background(), "src/manifest.txt")
	require.NoError(h.t, err)
	return string(data)
}

func (h *harness) entries(chunk string) []string {
	data, err := h.dst.ReadAll(context.Background(), "src/"+chunk)
	require.NoError(h.t, err)
	names, err := archive.EntryNames(data)
	require.NoError(h.t, err)
	return names
}

func keyRange(from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("obj-%03d", i))
	}
	return out
}

// 25 objects, pages of 10, three 10 byte objects per 35 byte chunk.
var fullManifest = strings.Join([]string{
	"Total pages: 3",
	"page_00001_chunk_00001.zip",
	"page_00001_chunk_00002.zip",
	"page_00001_chunk_00003.zip",
	"page_00001_chunk_00004.zip",
	"page_00002_chunk_00001.zip",
	"page_00002_chunk_00002.zip",
	"page_00002_chunk_00003.zip",
	"page_00002_chunk_00004.zip",
	"page_00003_chunk_00001.zip",
	"page_00003_chunk_00002.zip",
}, "\n")

func TestRunArchivesEveryObject(t *testing.T) {
	h := newHarness(t, 25)

	a, err := h.run(35)
	require.NoError(t, err)

	assert.Equal(t, fullManifest, h.manifest())

	assert.Equal(t, keyRange(0, 2), h.entries("page_00001_chunk_00001.zip"))
	assert.Equal(t, keyRange(9, 9), h.entries("page_00001_chunk_00004.zip"))
	assert.Equal(t, keyRange(23, 24), h.entries("page_00003_chunk_00002.zip"))

	var all []string
	m, err := ParseManifest(h.manifest())
	require.NoError(t, err)
	for _, chunk := range m.Chunks {
		all = append(all, h.entries(chunk)...)
	}
	assert.Equal(t, keyRange(0, 24), all)

	s := a.Metrics().GetProgressTracker().GetStatus()
	assert.Equal(t, int64(10), s.ChunksUploaded)
	assert.Equal(t, int64(25), s.ObjectsPacked)
	assert.Equal(t, int64(3), s.PagesProcessed)
}

func TestRunStoresChunksAsZip(t *testing.T) {
	h := newHarness(t, 3)
	_, err := h.run(1024)
	require.NoError(t, err)

	attrs, err := h.dst.Attributes(context.Background(), "src/page_00001_chunk_00001.zip")
	require.NoError(t, err)
	assert.Equal(t, archive.ContentType, attrs.ContentType)

	data, err := h.dst.ReadAll(context.Background(), "src/page_00001_chunk_00001.zip")
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)

	rc, err := zr.File[1].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, "content001", string(content))
}

func TestSecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t, 25)
	_, err := h.run(35)
	require.NoError(t, err)

	a, err := h.run(35)
	require.NoError(t, err)

	assert.Equal(t, fullManifest, h.manifest())
	s := a.Metrics().GetProgressTracker().GetStatus()
	assert.Zero(t, s.ChunksUploaded)
	assert.Equal(t, int64(3), s.PagesSkipped)
	assert.Zero(t, s.ObjectsPacked)
}

func TestRerunAfterChunksDeletedReuploadsThem(t *testing.T) {
	h := newHarness(t, 25)
	_, err := h.run(35)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, h.dst.Delete(ctx, "src/page_00003_chunk_00002.zip"))
	require.NoError(t, h.dst.Delete(ctx, "src/manifest.txt"))

	a, err := h.run(35)
	require.NoError(t, err)

	assert.Equal(t, fullManifest, h.manifest())
	s := a.Metrics().GetProgressTracker().GetStatus()
	assert.Equal(t, int64(1), s.ChunksUploaded)
	assert.Equal(t, int64(1), s.ChunksSkipped)
	assert.Equal(t, int64(2), s.PagesSkipped)
}

// failingPut fails every PutObject whose key ends in suffix.
type failingPut struct {
	storage.Client
	suffix string
}

func (c *failingPut) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts storage.PutOptions) error {
	if strings.HasSuffix(key, c.suffix) {
		return errors.New("access denied")
	}
	return c.Client.PutObject(ctx, bucket, key, r, size, opts)
}

func TestUploadFailureWritesPartialManifestAndResumes(t *testing.T) {
	h := newHarness(t, 25)

	src, dst := h.clients()
	a := h.archiver(testConfig(), 35, src, &failingPut{Client: dst, suffix: "page_00002_chunk_00003.zip"}, nil)
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	assert.Equal(t, strings.Join([]string{
		"Total pages: 2",
		"page_00001_chunk_00001.zip",
		"page_00001_chunk_00002.zip",
		"page_00001_chunk_00003.zip",
		"page_00001_chunk_00004.zip",
		"page_00002_chunk_00001.zip",
		"page_00002_chunk_00002.zip",
	}, "\n"), h.manifest())

	a, err = h.run(35)
	require.NoError(t, err)

	assert.Equal(t, fullManifest, h.manifest())
	assert.Equal(t, keyRange(16, 18), h.entries("page_00002_chunk_00003.zip"))
	assert.Equal(t, keyRange(19, 19), h.entries("page_00002_chunk_00004.zip"))

	s := a.Metrics().GetProgressTracker().GetStatus()
	assert.Equal(t, int64(4), s.ChunksUploaded)
	assert.Equal(t, int64(1), s.PagesSkipped)
	assert.Equal(t, int64(6), s.ObjectsDiscarded)
	assert.Equal(t, int64(4+5), s.ObjectsPacked)
}

func TestResumeCursorMissingFromListing(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	require.NoError(t, h.dst.WriteAll(ctx, "src/page_00001_chunk_00001.zip", zipOf(t, "gone"), nil))
	require.NoError(t, h.dst.WriteAll(ctx, "src/manifest.txt", []byte("Total pages: 1\npage_00001_chunk_00001.zip"), nil))

	_, err := h.run(1024)
	require.NoError(t, err)

	assert.Equal(t, "Total pages: 1\npage_00001_chunk_00001.zip\npage_00001_chunk_00002.zip", h.manifest())
	assert.Equal(t, keyRange(0, 4), h.entries("page_00001_chunk_00002.zip"))
}

func TestCorruptResumeChunkFallsBackToChunkSkip(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	require.NoError(t, h.dst.WriteAll(ctx, "src/page_00001_chunk_00001.zip", []byte("garbage"), nil))
	require.NoError(t, h.dst.WriteAll(ctx, "src/manifest.txt", []byte("Total pages: 1\npage_00001_chunk_00001.zip"), nil))

	a, err := h.run(1024)
	require.NoError(t, err)

	assert.Equal(t, "Total pages: 1\npage_00001_chunk_00001.zip", h.manifest())
	s := a.Metrics().GetProgressTracker().GetStatus()
	assert.Zero(t, s.ChunksUploaded)
	assert.Equal(t, int64(1), s.ChunksSkipped)
}

// failingGet fails every GetObject for the listed keys.
type failingGet struct {
	storage.Client
	keys map[string]bool
}

func (c *failingGet) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if c.keys[key] {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	return c.Client.GetObject(ctx, bucket, key)
}

func TestFetchFailuresAreDroppedAndJournaled(t *testing.T) {
	h := newHarness(t, 6)
	journal, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	src, dst := h.clients()
	src = &failingGet{Client: src, keys: map[string]bool{"obj-003": true}}
	a := h.archiver(testConfig(), 1024, src, dst, journal)
	require.NoError(t, a.Run(context.Background()))

	assert.Equal(t, []string{"obj-000", "obj-001", "obj-002", "obj-004", "obj-005"}, h.entries("page_00001_chunk_00001.zip"))

	failures, err := journal.ListFailures(context.Background(), "src")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "obj-003", failures[0].Key)
	assert.Equal(t, 1, failures[0].Page)
	assert.Contains(t, failures[0].LastError, "object not found")

	assert.Equal(t, int64(1), a.Metrics().GetProgressTracker().GetStatus().ObjectsDropped)
	require.NoError(t, a.Close())
}

func TestOversizedObjectIsChunkedAlone(t *testing.T) {
	h := newHarness(t, 0)
	h.put("a", bytes.Repeat([]byte("a"), 30))
	h.put("b", bytes.Repeat([]byte("b"), 500))
	h.put("c", bytes.Repeat([]byte("c"), 30))

	_, err := h.run(100)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, h.entries("page_00001_chunk_00001.zip"))
	assert.Equal(t, []string{"b"}, h.entries("page_00001_chunk_00002.zip"))
	assert.Equal(t, []string{"c"}, h.entries("page_00001_chunk_00003.zip"))
}

func TestEmptySourceWritesHeaderOnlyManifest(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.run(100)
	require.NoError(t, err)

	assert.Equal(t, "Total pages: 0\n", h.manifest())
}

func TestDryRunUploadsNothing(t *testing.T) {
	h := newHarness(t, 25)
	cfg := testConfig()
	cfg.Archive.DryRun = true

	src, dst := h.clients()
	a := h.archiver(cfg, 35, src, dst, nil)
	require.NoError(t, a.Run(context.Background()))

	exists, err := h.dst.Exists(context.Background(), "src/manifest.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, a.Metrics().GetProgressTracker().GetStatus().ChunksUploaded)
}

func TestCancelledRunReturnsError(t *testing.T) {
	h := newHarness(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src, dst := h.clients()
	a := h.archiver(testConfig(), 1024, src, dst, nil)
	assert.Error(t, a.Run(ctx))
}
