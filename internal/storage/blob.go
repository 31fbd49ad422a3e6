package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2/google"
)

const gcsReadWriteScope = "https://www.googleapis.com/auth/devstorage.read_write"

// BlobClient implements Client on top of gocloud.dev buckets. Buckets are
// opened lazily by name and cached for the lifetime of the client.
type BlobClient struct {
	mu      sync.Mutex
	buckets map[string]*blob.Bucket
	open    func(ctx context.Context, name string) (*blob.Bucket, error)
}

// NewBlobClient creates a client for the gcs, file or mem backends.
func NewBlobClient(cfg Config) (*BlobClient, error) {
	c := &BlobClient{buckets: make(map[string]*blob.Bucket)}

	switch cfg.Backend {
	case "gcs":
		if len(cfg.CredentialsJSON) == 0 {
			return nil, fmt.Errorf("gcs backend requires service account credentials")
		}
		creds, err := google.CredentialsFromJSON(context.Background(), cfg.CredentialsJSON, gcsReadWriteScope)
		if err != nil {
			return nil, fmt.Errorf("parse gcs credentials: %w", err)
		}
		httpClient, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
		if err != nil {
			return nil, fmt.Errorf("create gcs http client: %w", err)
		}
		c.open = func(ctx context.Context, name string) (*blob.Bucket, error) {
			return gcsblob.OpenBucket(ctx, httpClient, name, nil)
		}
	case "file":
		if cfg.Root == "" {
			return nil, fmt.Errorf("file backend requires a root directory")
		}
		c.open = func(ctx context.Context, name string) (*blob.Bucket, error) {
			dir := filepath.Join(cfg.Root, name)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create bucket directory %s: %w", dir, err)
			}
			return fileblob.OpenBucket(dir, nil)
		}
	case "mem":
		c.open = func(ctx context.Context, name string) (*blob.Bucket, error) {
			return memblob.OpenBucket(nil), nil
		}
	default:
		return nil, fmt.Errorf("unsupported blob backend: %s", cfg.Backend)
	}

	return c, nil
}

// NewBlobClientWithBuckets wraps already opened buckets. Unknown bucket
// names are rejected.
func NewBlobClientWithBuckets(buckets map[string]*blob.Bucket) *BlobClient {
	c := &BlobClient{buckets: make(map[string]*blob.Bucket, len(buckets))}
	for name, b := range buckets {
		c.buckets[name] = b
	}
	c.open = func(ctx context.Context, name string) (*blob.Bucket, error) {
		return nil, fmt.Errorf("bucket %s: %w", name, ErrNotFound)
	}
	return c
}

func (c *BlobClient) bucket(ctx context.Context, name string) (*blob.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.buckets[name]; ok {
		return b, nil
	}
	b, err := c.open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	c.buckets[name] = b
	return b, nil
}

// ListPages walks the bucket with blob.Bucket.ListPage.
func (c *BlobClient) ListPages(ctx context.Context, bucket, prefix string, pageSize int) PageIterator {
	return &blobPages{client: c, bucket: bucket, prefix: prefix, pageSize: pageSize, token: blob.FirstPageToken}
}

type blobPages struct {
	client   *BlobClient
	bucket   string
	prefix   string
	pageSize int
	token    []byte
}

func (p *blobPages) Next(ctx context.Context) ([]ObjectInfo, error) {
	if len(p.token) == 0 {
		return nil, io.EOF
	}

	b, err := p.client.bucket(ctx, p.bucket)
	if err != nil {
		return nil, err
	}

	page, next, err := b.ListPage(ctx, p.token, p.pageSize, &blob.ListOptions{Prefix: p.prefix})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", p.bucket, p.prefix, mapBlobError(err))
	}
	p.token = next

	objects := make([]ObjectInfo, 0, len(page))
	for _, obj := range page {
		if obj.IsDir {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.ModTime,
		})
	}

	if len(objects) == 0 && len(next) == 0 {
		return nil, io.EOF
	}
	return objects, nil
}

// ListObjects streams every object under prefix.
func (c *BlobClient) ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error) {
	objCh := make(chan ObjectInfo)
	errCh := make(chan error, 1)

	go func() {
		defer close(objCh)
		defer close(errCh)

		b, err := c.bucket(ctx, bucket)
		if err != nil {
			errCh <- err
			return
		}

		iter := b.List(&blob.ListOptions{Prefix: prefix})
		for {
			obj, err := iter.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- fmt.Errorf("list %s/%s: %w", bucket, prefix, mapBlobError(err))
				return
			}
			if obj.IsDir {
				continue
			}

			select {
			case objCh <- ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.ModTime}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return objCh, errCh
}

// GetObject opens a reader for the object.
func (c *BlobClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	r, err := b.NewReader(ctx, key, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", bucket, key, mapBlobError(err))
	}
	return r, nil
}

// PutObject writes the object through a blob writer.
func (c *BlobClient) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error {
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return err
	}

	w, err := b.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
	})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := io.Copy(w, reader); err != nil {
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// HeadObject returns object attributes.
func (c *BlobClient) HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	b, err := c.bucket(ctx, bucket)
	if err != nil {
		return ObjectInfo{}, err
	}
	attrs, err := b.Attributes(ctx, key)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("get attributes for %s: %w", key, mapBlobError(err))
	}
	return ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		ETag:         attrs.ETag,
		LastModified: attrs.ModTime,
		ContentType:  attrs.ContentType,
	}, nil
}

// Close releases every opened bucket.
func (c *BlobClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, b := range c.buckets {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bucket %s: %w", name, err))
		}
		delete(c.buckets, name)
	}
	return errors.Join(errs...)
}

func mapBlobError(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	return err
}

var _ Client = (*BlobClient)(nil)
