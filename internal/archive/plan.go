package archive

// PlannedChunk describes a chunk a page would produce, judged from the
// listing's advisory sizes.
type PlannedChunk struct {
	Name    string
	Objects int
	Bytes   int64
}

// Plan applies the greedy packing rule to advisory sizes without fetching
// any content. Used for dry runs.
func Plan(page int, sizes []int64, maxBytes int64) []PlannedChunk {
	var chunks []PlannedChunk
	var open *PlannedChunk
	index := 0

	for _, size := range sizes {
		if open != nil && startsNewChunk(open.Objects, open.Bytes, size, maxBytes) {
			chunks = append(chunks, *open)
			open = nil
		}
		if open == nil {
			index++
			open = &PlannedChunk{Name: ChunkName(page, index)}
		}
		open.Objects++
		open.Bytes += size
	}
	if open != nil {
		chunks = append(chunks, *open)
	}
	return chunks
}
