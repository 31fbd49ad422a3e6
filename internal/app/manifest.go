package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bucketzip/internal/storage"
)

const (
	manifestName        = "manifest.txt"
	manifestHeader      = "Total pages: "
	manifestContentType = "text/plain"
)

// ErrMalformedManifest is returned when a manifest cannot be parsed.
var ErrMalformedManifest = errors.New("malformed manifest")

// Manifest is the ordered index of every chunk of a label
type Manifest struct {
	TotalPages int
	Chunks     []string
}

// String renders the manifest: a header line followed by one chunk name per
// line, with no trailing newline.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s%d\n", manifestHeader, m.TotalPages) + strings.Join(m.Chunks, "\n")
}

// ParseManifest parses the text form produced by String. Blank lines are
// ignored.
func ParseManifest(text string) (*Manifest, error) {
	lines := strings.Split(text, "\n")

	header := strings.TrimSpace(lines[0])
	total, ok := strings.CutPrefix(header, manifestHeader)
	if !ok {
		return nil, fmt.Errorf("%w: header %q", ErrMalformedManifest, header)
	}
	pages, err := strconv.Atoi(total)
	if err != nil {
		return nil, fmt.Errorf("%w: header %q", ErrMalformedManifest, header)
	}

	m := &Manifest{TotalPages: pages}
	for _, line := range lines[1:] {
		if line = strings.TrimSpace(line); line != "" {
			m.Chunks = append(m.Chunks, line)
		}
	}
	return m, nil
}

func manifestKey(label string) string {
	return label + "/" + manifestName
}

// ReadManifest loads the manifest of label. storage.ErrNotFound is returned
// when there is none.
func ReadManifest(ctx context.Context, client storage.Client, bucket, label string) (*Manifest, error) {
	text, err := storage.ReadText(ctx, client, bucket, manifestKey(label))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(text)
}

// WriteManifest overwrites the manifest of label
func WriteManifest(ctx context.Context, client storage.Client, bucket, label string, m *Manifest) error {
	data := []byte(m.String())
	err := client.PutObject(ctx, bucket, manifestKey(label), bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: manifestContentType,
	})
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
