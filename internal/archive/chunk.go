// Package archive packs fetched objects into size-bounded zip chunks.
package archive

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	// ContentType is the MIME type chunks are stored with.
	ContentType = "application/zip"

	chunkNameFormat = "page_%05d_chunk_%05d.zip"
)

// ChunkName returns the deterministic name of chunk index on page.
func ChunkName(page, index int) string {
	return fmt.Sprintf(chunkNameFormat, page, index)
}

// ParseChunkName extracts the page and chunk index from a chunk name.
func ParseChunkName(name string) (page, index int, err error) {
	body, ok := strings.CutPrefix(name, "page_")
	if ok {
		body, ok = strings.CutSuffix(body, ".zip")
	}
	if !ok {
		return 0, 0, fmt.Errorf("not a chunk name: %q", name)
	}
	pageStr, indexStr, ok := strings.Cut(body, "_chunk_")
	if !ok {
		return 0, 0, fmt.Errorf("not a chunk name: %q", name)
	}
	if page, err = strconv.Atoi(pageStr); err != nil {
		return 0, 0, fmt.Errorf("parse page of %q: %w", name, err)
	}
	if index, err = strconv.Atoi(indexStr); err != nil {
		return 0, 0, fmt.Errorf("parse chunk index of %q: %w", name, err)
	}
	if page < 1 || index < 1 {
		return 0, 0, fmt.Errorf("chunk name %q out of range", name)
	}
	if ChunkName(page, index) != name {
		return 0, 0, fmt.Errorf("chunk name %q is not canonical", name)
	}
	return page, index, nil
}

// Chunk is one archive under construction. Entries are compressed into the
// archive buffer as they are added, so only the compressed form is held.
type Chunk struct {
	Page  int
	Index int

	entries []string
	size    int64
	buf     *bytes.Buffer
	zw      *zip.Writer
	closed  bool
}

func newChunk(page, index int) *Chunk {
	buf := new(bytes.Buffer)
	return &Chunk{
		Page:  page,
		Index: index,
		buf:   buf,
		zw:    zip.NewWriter(buf),
	}
}

// Name returns the chunk's object name.
func (c *Chunk) Name() string {
	return ChunkName(c.Page, c.Index)
}

// Entries returns entry names in packing order.
func (c *Chunk) Entries() []string {
	return c.entries
}

// Len returns the number of entries.
func (c *Chunk) Len() int {
	return len(c.entries)
}

// Size returns the total uncompressed content size of all entries.
func (c *Chunk) Size() int64 {
	return c.size
}

func (c *Chunk) add(name string, content []byte) error {
	if c.closed {
		return fmt.Errorf("chunk %s is closed", c.Name())
	}
	// Modified stays zero so identical membership yields identical bytes.
	w, err := c.zw.CreateHeader(&zip.FileHeader{
		Name:   name,
		Method: zip.Deflate,
	})
	if err != nil {
		return fmt.Errorf("add %s to %s: %w", name, c.Name(), err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write %s to %s: %w", name, c.Name(), err)
	}
	c.entries = append(c.entries, name)
	c.size += int64(len(content))
	return nil
}

func (c *Chunk) close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.zw.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", c.Name(), err)
	}
	return nil
}

// Bytes returns the finished archive. Only valid once the chunk is closed.
func (c *Chunk) Bytes() []byte {
	return c.buf.Bytes()
}
