package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Client defines the object store operations the archiver consumes
type Client interface {
	// ListPages walks a bucket using the backend's native pagination.
	ListPages(ctx context.Context, bucket, prefix string, pageSize int) PageIterator
	// ListObjects streams every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string) (<-chan ObjectInfo, <-chan error)

	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts PutOptions) error
	HeadObject(ctx context.Context, bucket, key string) (ObjectInfo, error)

	Close() error
}

// PageIterator yields listing pages in order. Next returns io.EOF once the
// listing is exhausted.
type PageIterator interface {
	Next(ctx context.Context) ([]ObjectInfo, error)
}

// ObjectInfo contains object metadata
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Config contains client configuration
type Config struct {
	Backend   string // "s3" | "gcs" | "file" | "mem"
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string

	// Root is the base directory for the file backend.
	Root string

	// CredentialsJSON holds a service account key for the gcs backend.
	CredentialsJSON []byte
}

// NewClient creates a client for the configured backend.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Backend {
	case "", "s3":
		return NewMinIOClient(cfg)
	case "gcs", "file", "mem":
		return NewBlobClient(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// Exists reports whether key is present in bucket.
func Exists(ctx context.Context, c Client, bucket, key string) (bool, error) {
	_, err := c.HeadObject(ctx, bucket, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// ReadAll downloads the full content of an object.
func ReadAll(ctx context.Context, c Client, bucket, key string) ([]byte, error) {
	r, err := c.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// ReadText downloads an object and returns it as a string.
func ReadText(ctx context.Context, c Client, bucket, key string) (string, error) {
	data, err := ReadAll(ctx, c, bucket, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
