// Package storage reads partition content from local files and remote
// filesystems, selecting the backend by the location's URI scheme.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/me/blaze/pkg/model"
)

// Backend reads a byte range from one kind of storage.
type Backend interface {
	// ReadAt returns exactly size bytes starting at offset.
	ReadAt(ctx context.Context, location string, offset, size int64) ([]byte, error)
}

// Scheme returns the scheme of location, or "" for a plain path.
func Scheme(location string) string {
	idx := strings.Index(location, "://")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(location[:idx])
}

// Registry routes reads to scheme-specific backends.
type Registry struct {
	backends map[string]Backend
	fallback Backend
	logger   *slog.Logger
}

// NewRegistry creates a Registry that sends unknown schemes to fallback.
func NewRegistry(fallback Backend, logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		fallback: fallback,
		logger:   logger.With("component", "storage"),
	}
}

// NewDefaultRegistry wires the afs backend for local and afs-supported
// schemes and the HDFS backend for hdfs:// locations.
func NewDefaultRegistry(hdfsUser string, logger *slog.Logger) *Registry {
	r := NewRegistry(NewAFSBackend(), logger)
	r.Register(SchemeHDFS, NewHDFSBackend(WithHDFSUser(hdfsUser)))
	return r
}

// Register adds a backend for scheme. Registration happens at startup
// before concurrent access, so no mutex is needed.
func (r *Registry) Register(scheme string, b Backend) {
	r.backends[strings.ToLower(scheme)] = b
	r.logger.Debug("storage backend registered", "scheme", scheme)
}

// ReadAt routes to the appropriate backend based on scheme.
func (r *Registry) ReadAt(ctx context.Context, location string, offset, size int64) ([]byte, error) {
	scheme := Scheme(location)
	backend, ok := r.backends[scheme]
	if !ok {
		backend = r.fallback
	}
	if backend == nil {
		return nil, fmt.Errorf("no storage backend for scheme %q: %w", scheme, model.ErrSourceRead)
	}
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("read %s: offset %d size %d: %w", location, offset, size, model.ErrInvalidMessage)
	}

	r.logger.Debug("read", "location", location, "offset", offset, "size", humanize.Bytes(uint64(size)))
	return backend.ReadAt(ctx, location, offset, size)
}

// Close closes every backend that holds connections.
func (r *Registry) Close() error {
	var errs []error
	for _, b := range append(slices.Collect(maps.Values(r.backends)), r.fallback) {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// readRange reads size bytes from an already positioned reader.
func readRange(ctx context.Context, r io.Reader, size int64) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("read negative size %d: %w", size, model.ErrInvalidMessage)
	}
	buf := make([]byte, size)
	n, err := io.ReadFull(&ctxReader{ctx: ctx, r: r}, buf)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("short read %d of %d bytes: %w", n, size, model.ErrSourceRead)
		}
		return nil, classify(ctx, err)
	}
	return buf, nil
}

// skip discards offset bytes from a reader that cannot seek.
func skip(ctx context.Context, r io.Reader, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("seek to negative offset %d: %w", offset, model.ErrInvalidMessage)
	}
	if offset == 0 {
		return nil
	}
	n, err := io.CopyN(io.Discard, &ctxReader{ctx: ctx, r: r}, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("seek to %d: only %d bytes available: %w", offset, n, model.ErrSourceRead)
		}
		return classify(ctx, err)
	}
	return nil
}

// classify attaches the failure kind to an I/O error.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", model.ErrTimeout, err)
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", model.ErrCanceled, err)
	}
	if errors.Is(err, model.ErrSourceRead) || errors.Is(err, model.ErrConfig) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrSourceRead, err)
}

// ctxReader stops reading once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
