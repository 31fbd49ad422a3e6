package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"bucketzip/internal/archive"
	"bucketzip/internal/storage"

	"go.uber.org/zap"
)

// ChunkSet tracks the chunk names present in the destination. Names that do
// not parse as chunk names are ignored.
type ChunkSet struct {
	names   map[string]struct{}
	pages   map[int][]int
	maxPage int
}

// NewChunkSet creates a set holding the given names
func NewChunkSet(names ...string) *ChunkSet {
	s := &ChunkSet{
		names: make(map[string]struct{}),
		pages: make(map[int][]int),
	}
	for _, name := range names {
		s.Add(name)
	}
	return s
}

// Add records name. It reports false for names that are not chunk names.
func (s *ChunkSet) Add(name string) bool {
	page, index, err := archive.ParseChunkName(name)
	if err != nil {
		return false
	}
	if _, ok := s.names[name]; ok {
		return true
	}
	s.names[name] = struct{}{}
	s.pages[page] = append(s.pages[page], index)
	if page > s.maxPage {
		s.maxPage = page
	}
	return true
}

// Has reports whether name is in the set
func (s *ChunkSet) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of chunks in the set
func (s *ChunkSet) Len() int {
	return len(s.names)
}

// PageChunks returns the names of page's chunks ordered by index
func (s *ChunkSet) PageChunks(page int) []string {
	indices := append([]int(nil), s.pages[page]...)
	sort.Ints(indices)

	names := make([]string, len(indices))
	for i, index := range indices {
		names[i] = archive.ChunkName(page, index)
	}
	return names
}

// Contiguous reports whether page has chunks 1..k with no gaps and k >= 1,
// returning k.
func (s *ChunkSet) Contiguous(page int) (int, bool) {
	indices := s.pages[page]
	if len(indices) == 0 {
		return 0, false
	}
	for i := 1; i <= len(indices); i++ {
		if !s.Has(archive.ChunkName(page, i)) {
			return 0, false
		}
	}
	return len(indices), true
}

// HasPageAfter reports whether any chunk belongs to a page after page
func (s *ChunkSet) HasPageAfter(page int) bool {
	return s.maxPage > page
}

// Cursor marks where the previous run stopped: the last object packed into
// chunk Chunk of page Page.
type Cursor struct {
	Page       int
	Chunk      int
	LastObject string
}

// IsZero reports whether the cursor is empty
func (c Cursor) IsZero() bool {
	return c.Page == 0
}

// ResumeState is what a run learns from the destination before it starts
type ResumeState struct {
	Uploaded *ChunkSet
	Cursor   Cursor
}

// computeResumeState lists the chunks already stored under label and derives
// the resume cursor from the manifest's last chunk. An unreadable cursor
// chunk or manifest degrades to no cursor; failing to list or read the manifest is fatal.
func computeResumeState(ctx context.Context, lister *ObjectLister, bucket, label string, logger *zap.Logger) (*ResumeState, error) {
	uploaded, err := lister.ListChunks(ctx, bucket, label)
	if err != nil {
		return nil, err
	}
	state := &ResumeState{Uploaded: uploaded}

	exists, err := storage.Exists(ctx, lister.client, bucket, manifestKey(label))
	if err != nil {
		return nil, fmt.Errorf("check manifest: %w", err)
	}
	if !exists {
		return state, nil
	}

	manifest, err := ReadManifest(ctx, lister.client, bucket, label)
	if errors.Is(err, storage.ErrNotFound) {
		return state, nil
	}
	if errors.Is(err, ErrMalformedManifest) {
		logger.Warn("Ignoring malformed manifest, starting without cursor", zap.Error(err))
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	if len(manifest.Chunks) == 0 {
		return state, nil
	}

	last := manifest.Chunks[len(manifest.Chunks)-1]
	cursor, err := readCursor(ctx, lister.client, bucket, label, last)
	if err != nil {
		logger.Warn("Cannot read resume chunk, starting without cursor",
			zap.String("chunk", last),
			zap.Error(err),
		)
		return state, nil
	}

	state.Cursor = cursor
	return state, nil
}

func readCursor(ctx context.Context, client storage.Client, bucket, label, chunk string) (Cursor, error) {
	page, index, err := archive.ParseChunkName(chunk)
	if err != nil {
		return Cursor{}, err
	}

	data, err := storage.ReadAll(ctx, client, bucket, chunkKey(label, chunk))
	if err != nil {
		return Cursor{}, fmt.Errorf("read %s: %w", chunk, err)
	}

	last, err := archive.LastEntryName(data)
	if err != nil {
		return Cursor{}, fmt.Errorf("read %s: %w", chunk, err)
	}

	return Cursor{Page: page, Chunk: index, LastObject: last}, nil
}

func chunkKey(label, name string) string {
	return label + "/" + name
}
