package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkNameRoundTrip(t *testing.T) {
	name := ChunkName(12, 3)
	assert.Equal(t, "page_00012_chunk_00003.zip", name)

	page, index, err := ParseChunkName(name)
	require.NoError(t, err)
	assert.Equal(t, 12, page)
	assert.Equal(t, 3, index)

	page, index, err = ParseChunkName(ChunkName(123456, 1))
	require.NoError(t, err)
	assert.Equal(t, 123456, page)
	assert.Equal(t, 1, index)
}

func TestParseChunkNameRejects(t *testing.T) {
	for _, name := range []string{
		"manifest.txt",
		"page_00001.zip",
		"page_0001_chunk_00001.zip",
		"page_00000_chunk_00001.zip",
		"page_00001_chunk_00001.tar",
		"page_abcde_chunk_00001.zip",
		"",
	} {
		_, _, err := ParseChunkName(name)
		assert.Error(t, err, name)
	}
}

func TestLastEntryName(t *testing.T) {
	var data []byte
	b := NewBuilder(BuilderOptions{Page: 1, MaxBytes: 100}, func(c *Chunk) error {
		data = append([]byte(nil), c.Bytes()...)
		return nil
	})
	require.NoError(t, b.Add("first", []byte("1")))
	require.NoError(t, b.Add("dir/last", []byte("2")))
	require.NoError(t, b.Flush())

	name, err := LastEntryName(data)
	require.NoError(t, err)
	assert.Equal(t, "dir/last", name)
}

func TestLastEntryNameEmptyAndCorrupt(t *testing.T) {
	c := newChunk(1, 1)
	require.NoError(t, c.close())
	_, err := LastEntryName(c.Bytes())
	assert.ErrorIs(t, err, ErrEmptyArchive)

	_, err = LastEntryName([]byte("not a zip"))
	assert.Error(t, err)
}

func TestPlanMatchesBuilder(t *testing.T) {
	sizes := []int64{400, 400, 400, 50, 2000, 1}
	plan := Plan(9, sizes, 1000)

	require.Len(t, plan, 4)
	assert.Equal(t, PlannedChunk{Name: "page_00009_chunk_00001.zip", Objects: 2, Bytes: 800}, plan[0])
	assert.Equal(t, PlannedChunk{Name: "page_00009_chunk_00002.zip", Objects: 2, Bytes: 450}, plan[1])
	assert.Equal(t, PlannedChunk{Name: "page_00009_chunk_00003.zip", Objects: 1, Bytes: 2000}, plan[2])
	assert.Equal(t, PlannedChunk{Name: "page_00009_chunk_00004.zip", Objects: 1, Bytes: 1}, plan[3])

	assert.Empty(t, Plan(1, nil, 1000))

	plan = Plan(2, []int64{0, 500, 10}, 100)
	require.Len(t, plan, 3)
	assert.Equal(t, PlannedChunk{Name: "page_00002_chunk_00002.zip", Objects: 1, Bytes: 500}, plan[1])
}
