package archive

import "fmt"

// ProgressInterval is how many packed objects pass between progress callbacks.
const ProgressInterval = 100

// BuilderOptions configures a Builder for one page.
type BuilderOptions struct {
	Page     int
	MaxBytes int64

	// ResumeAfter, when set, discards every object up to and including the
	// one with this name.
	ResumeAfter string

	// FirstIndex is the index of the first chunk produced. Defaults to 1.
	FirstIndex int

	// OnProgress is called every ProgressInterval packed objects with the
	// cumulative count for the page.
	OnProgress func(packed int)
}

// EmitFunc receives each chunk as soon as it is closed.
type EmitFunc func(*Chunk) error

// Builder packs one page's objects into chunks using a greedy rule: the open
// chunk is closed when adding the next object would push it over MaxBytes,
// unless it holds no entries yet. An object larger than MaxBytes therefore
// ends up alone in its own chunk, even next to zero-byte objects.
type Builder struct {
	opts     BuilderOptions
	emit     EmitFunc
	resuming bool

	open      *Chunk
	next      int
	packed    int
	discarded int
	emitted   int
}

// NewBuilder creates a builder for a single page.
func NewBuilder(opts BuilderOptions, emit EmitFunc) *Builder {
	if opts.FirstIndex < 1 {
		opts.FirstIndex = 1
	}
	return &Builder{
		opts:     opts,
		emit:     emit,
		resuming: opts.ResumeAfter != "",
		next:     opts.FirstIndex,
	}
}

// Add packs one fetched object. Objects seen while still looking for the
// resume marker are discarded.
func (b *Builder) Add(name string, content []byte) error {
	if b.resuming {
		b.discarded++
		if name == b.opts.ResumeAfter {
			b.resuming = false
		}
		return nil
	}

	size := int64(len(content))
	if b.open != nil && startsNewChunk(b.open.Len(), b.open.Size(), size, b.opts.MaxBytes) {
		if err := b.closeOpen(); err != nil {
			return err
		}
	}
	if b.open == nil {
		b.open = newChunk(b.opts.Page, b.next)
		b.next++
	}

	if err := b.open.add(name, content); err != nil {
		return err
	}

	b.packed++
	if b.packed%ProgressInterval == 0 && b.opts.OnProgress != nil {
		b.opts.OnProgress(b.packed)
	}
	return nil
}

// Missing records an object that is part of the page but could not be
// fetched. If it is the resume marker, packing resumes with the next object.
func (b *Builder) Missing(name string) {
	if b.resuming && name == b.opts.ResumeAfter {
		b.resuming = false
	}
}

// Flush closes and emits the open chunk if it holds any entries.
func (b *Builder) Flush() error {
	if b.open == nil || b.open.Len() == 0 {
		return nil
	}
	return b.closeOpen()
}

func (b *Builder) closeOpen() error {
	c := b.open
	b.open = nil
	if err := c.close(); err != nil {
		return err
	}
	if err := b.emit(c); err != nil {
		return fmt.Errorf("emit %s: %w", c.Name(), err)
	}
	b.emitted++
	return nil
}

// Packed returns the number of objects packed so far.
func (b *Builder) Packed() int { return b.packed }

// Discarded returns the number of objects dropped by the resume rule.
func (b *Builder) Discarded() int { return b.discarded }

// Emitted returns the number of chunks emitted so far.
func (b *Builder) Emitted() int { return b.emitted }

// Resuming reports whether the builder is still waiting for the resume marker.
func (b *Builder) Resuming() bool { return b.resuming }

func startsNewChunk(entries int, total, size, max int64) bool {
	return entries > 0 && total+size > max
}
