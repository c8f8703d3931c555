package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/viant/afs"
)

// AFSBackend reads through viant/afs, covering plain paths, file:// and
// every other scheme registered with afs (mem://, ...).
type AFSBackend struct {
	fs afs.Service
}

// NewAFSBackend creates an AFSBackend with the default afs service.
func NewAFSBackend() *AFSBackend {
	return &AFSBackend{fs: afs.New()}
}

// NewAFSBackendWith creates an AFSBackend around an existing afs service.
func NewAFSBackendWith(fs afs.Service) *AFSBackend {
	return &AFSBackend{fs: fs}
}

func (b *AFSBackend) ReadAt(ctx context.Context, location string, offset, size int64) ([]byte, error) {
	URL, err := normalize(location)
	if err != nil {
		return nil, classify(ctx, err)
	}

	reader, err := b.fs.OpenURL(ctx, URL)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("open %s: %w", URL, err))
	}
	defer reader.Close()

	if err := skip(ctx, reader, offset); err != nil {
		return nil, fmt.Errorf("%s: %w", URL, err)
	}
	data, err := readRange(ctx, reader, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", URL, err)
	}
	return data, nil
}

// normalize turns a plain filesystem path into a file:// URL.
func normalize(location string) (string, error) {
	if Scheme(location) != "" {
		return location, nil
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("abs path %s: %w", location, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}
