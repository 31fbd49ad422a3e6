package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"bucketzip/internal/storage"

	"go.uber.org/zap"
)

// ObjectLister handles listing source pages and destination chunks
type ObjectLister struct {
	client storage.Client
	logger *zap.Logger
}

// Page is one listing page, numbered from 1 in delivery order
type Page struct {
	Number  int
	Objects []storage.ObjectInfo
}

// PageLister numbers the pages of a source listing
type PageLister struct {
	it     storage.PageIterator
	number int
	logger *zap.Logger
}

// Pages starts a paginated listing of bucket
func (l *ObjectLister) Pages(ctx context.Context, bucket, prefix string, pageSize int) *PageLister {
	return &PageLister{
		it:     l.client.ListPages(ctx, bucket, prefix, pageSize),
		logger: l.logger,
	}
}

// Next returns the next page, or io.EOF once the listing is exhausted
func (p *PageLister) Next(ctx context.Context) (*Page, error) {
	objects, err := p.it.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("list page %d: %w", p.number+1, err)
	}

	p.number++
	p.logger.Debug("Listed page",
		zap.Int("page", p.number),
		zap.Int("objects", len(objects)),
	)
	return &Page{Number: p.number, Objects: objects}, nil
}

// Count returns the number of pages delivered so far
func (p *PageLister) Count() int {
	return p.number
}

// ListChunks collects the chunk names already stored under label
func (l *ObjectLister) ListChunks(ctx context.Context, bucket, label string) (*ChunkSet, error) {
	prefix := label + "/"
	objCh, errCh := l.client.ListObjects(ctx, bucket, prefix)

	chunks := NewChunkSet()
	var others int

	for {
		select {
		case obj, ok := <-objCh:
			if !ok {
				// errCh is closed before objCh; drain a pending error
				if errCh != nil {
					if err := <-errCh; err != nil {
						return nil, fmt.Errorf("error listing chunks: %w", err)
					}
				}
				l.logger.Info("Finished listing existing chunks",
					zap.Int("chunks", chunks.Len()),
					zap.Int("other_objects", others),
				)
				return chunks, nil
			}

			name := strings.TrimPrefix(obj.Key, prefix)
			if !chunks.Add(name) {
				others++
			}

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("error listing chunks: %w", err)
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
