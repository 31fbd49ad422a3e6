package app

import (
	"context"
	"strings"
	"testing"

	"bucketzip/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

func TestChunkSet(t *testing.T) {
	s := NewChunkSet(
		"page_00001_chunk_00002.zip",
		"page_00001_chunk_00001.zip",
		"page_00003_chunk_00002.zip",
		"manifest.txt",
	)

	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has("page_00001_chunk_00001.zip"))
	assert.False(t, s.Has("manifest.txt"))
	assert.False(t, s.Add("notes.zip"))

	assert.Equal(t, []string{"page_00001_chunk_00001.zip", "page_00001_chunk_00002.zip"}, s.PageChunks(1))

	k, ok := s.Contiguous(1)
	assert.True(t, ok)
	assert.Equal(t, 2, k)

	_, ok = s.Contiguous(2)
	assert.False(t, ok, "no chunks")
	_, ok = s.Contiguous(3)
	assert.False(t, ok, "chunk 1 missing")

	assert.True(t, s.HasPageAfter(1))
	assert.False(t, s.HasPageAfter(3))
}

func objects(keys ...string) []storage.ObjectInfo {
	out := make([]storage.ObjectInfo, len(keys))
	for i, k := range keys {
		out[i] = storage.ObjectInfo{Key: k, Size: 1}
	}
	return out
}

func TestPageComplete(t *testing.T) {
	uploaded := NewChunkSet(
		"page_00001_chunk_00001.zip",
		"page_00001_chunk_00002.zip",
		"page_00002_chunk_00001.zip",
		"page_00002_chunk_00002.zip",
	)
	page1 := &Page{Number: 1, Objects: objects("a", "b", "c")}
	page2 := &Page{Number: 2, Objects: objects("d", "e", "f")}
	page3 := &Page{Number: 3, Objects: objects("g")}

	tests := []struct {
		name   string
		cursor Cursor
		page   *Page
		want   bool
	}{
		{"later page has chunks", Cursor{}, page1, true},
		{"last page without cursor", Cursor{}, page2, false},
		{"cursor mid page", Cursor{Page: 2, Chunk: 2, LastObject: "e"}, page2, false},
		{"cursor on last object", Cursor{Page: 2, Chunk: 2, LastObject: "f"}, page2, true},
		{"cursor beyond stored chunks", Cursor{Page: 2, Chunk: 3, LastObject: "f"}, page2, false},
		{"page without chunks", Cursor{}, page3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pageComplete(uploaded, tt.cursor, tt.page))
		})
	}
}

func newDest(t *testing.T) (*blob.Bucket, *ObjectLister) {
	t.Helper()
	b := memblob.OpenBucket(nil)
	t.Cleanup(func() { b.Close() })
	client := storage.NewBlobClientWithBuckets(map[string]*blob.Bucket{"dst": b})
	return b, &ObjectLister{client: client, logger: zaptest.NewLogger(t)}
}

func TestComputeResumeStateWithoutManifest(t *testing.T) {
	ctx := context.Background()
	b, lister := newDest(t)
	require.NoError(t, b.WriteAll(ctx, "photos/page_00001_chunk_00001.zip", zipOf(t, "a"), nil))
	require.NoError(t, b.WriteAll(ctx, "other/page_00009_chunk_00001.zip", zipOf(t, "z"), nil))

	state, err := computeResumeState(ctx, lister, "dst", "photos", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, state.Uploaded.Len())
	assert.True(t, state.Cursor.IsZero())
}

func TestComputeResumeStateFromManifest(t *testing.T) {
	ctx := context.Background()
	b, lister := newDest(t)
	require.NoError(t, b.WriteAll(ctx, "photos/page_00002_chunk_00003.zip", zipOf(t, "x", "y"), nil))
	require.NoError(t, b.WriteAll(ctx, "photos/manifest.txt",
		[]byte("Total pages: 2\npage_00001_chunk_00001.zip\npage_00002_chunk_00003.zip"), nil))

	state, err := computeResumeState(ctx, lister, "dst", "photos", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, Cursor{Page: 2, Chunk: 3, LastObject: "y"}, state.Cursor)
}

func TestComputeResumeStateDegrades(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		chunk    []byte
	}{
		{"header only", "Total pages: 4\n", nil},
		{"malformed header", "four pages\npage_00001_chunk_00001.zip", nil},
		{"missing chunk", "Total pages: 1\npage_00001_chunk_00001.zip", nil},
		{"corrupt chunk", "Total pages: 1\npage_00001_chunk_00001.zip", []byte("not a zip")},
		{"empty chunk", "Total pages: 1\npage_00001_chunk_00001.zip", zipOf(t)},
		{"bad chunk name", "Total pages: 1\nlast.zip", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, lister := newDest(t)
			require.NoError(t, b.WriteAll(ctx, "photos/manifest.txt", []byte(tt.manifest), nil))
			if tt.chunk != nil {
				require.NoError(t, b.WriteAll(ctx, "photos/page_00001_chunk_00001.zip", tt.chunk, nil))
			}

			state, err := computeResumeState(ctx, lister, "dst", "photos", zaptest.NewLogger(t))
			require.NoError(t, err)
			assert.True(t, state.Cursor.IsZero())
		})
	}
}

func TestChunkKey(t *testing.T) {
	assert.True(t, strings.HasPrefix(chunkKey("photos", "page_00001_chunk_00001.zip"), "photos/"))
	assert.Equal(t, "photos/manifest.txt", manifestKey("photos"))
}
