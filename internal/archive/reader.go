package archive

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zip"
)

// ErrEmptyArchive is returned when a chunk holds no entries.
var ErrEmptyArchive = errors.New("archive has no entries")

// EntryNames lists the entry names of a chunk in archive order.
func EntryNames(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// LastEntryName returns the name of the last entry written to a chunk.
func LastEntryName(data []byte) (string, error) {
	names, err := EntryNames(data)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrEmptyArchive
	}
	return names[len(names)-1], nil
}
