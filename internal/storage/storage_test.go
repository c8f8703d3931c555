package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/blaze/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheme(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/data.csv", ""},
		{"data.csv", ""},
		{"file:///tmp/data.csv", "file"},
		{"HDFS://nn/path", "hdfs"},
		{"mem://localhost/x", "mem"},
		{"://broken", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Scheme(tt.in))
		})
	}
}

func TestAFSBackend_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte("1.0,2.0\n3.0,4.0\n"), 0o644))

	b := NewAFSBackend()
	ctx := context.Background()

	data, err := b.ReadAt(ctx, path, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "1.0,2.0\n", string(data))

	data, err = b.ReadAt(ctx, path, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, "3.0,4.0\n", string(data))

	data, err = b.ReadAt(ctx, "file://"+path, 4, 3)
	require.NoError(t, err)
	assert.Equal(t, "2.0", string(data))
}

func TestAFSBackend_ShortRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	b := NewAFSBackend()
	_, err := b.ReadAt(context.Background(), path, 0, 10)
	assert.ErrorIs(t, err, model.ErrSourceRead)

	_, err = b.ReadAt(context.Background(), path, 10, 1)
	assert.ErrorIs(t, err, model.ErrSourceRead)
}

func TestAFSBackend_Missing(t *testing.T) {
	b := NewAFSBackend()
	_, err := b.ReadAt(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, 1)
	assert.ErrorIs(t, err, model.ErrSourceRead)
}

func TestAFSBackend_Memory(t *testing.T) {
	fs := afs.New()
	ctx := context.Background()
	URL := "mem://localhost/blaze/storage_test/part-0"
	require.NoError(t, fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader([]byte("hello world"))))

	b := NewAFSBackendWith(fs)
	data, err := b.ReadAt(ctx, URL, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
}

func TestAFSBackend_Deadline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input")
	require.NoError(t, os.WriteFile(path, []byte("abcdef"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := NewAFSBackend().ReadAt(ctx, path, 0, 3)
	assert.ErrorIs(t, err, model.ErrTimeout)
}

type recordingBackend struct {
	calls []string
	data  []byte
}

func (r *recordingBackend) ReadAt(_ context.Context, location string, _, _ int64) ([]byte, error) {
	r.calls = append(r.calls, location)
	return r.data, nil
}

func TestRegistry_Routing(t *testing.T) {
	fallback := &recordingBackend{data: []byte("fallback")}
	remote := &recordingBackend{data: []byte("remote")}

	r := NewRegistry(fallback, testLogger())
	r.Register("HDFS", remote)

	data, err := r.ReadAt(context.Background(), "hdfs://nn/a", 0, 6)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))

	data, err = r.ReadAt(context.Background(), "/local/b", 0, 8)
	require.NoError(t, err)
	assert.Equal(t, "fallback", string(data))

	assert.Equal(t, []string{"hdfs://nn/a"}, remote.calls)
	assert.Equal(t, []string{"/local/b"}, fallback.calls)
}

func TestRegistry_NoFallback(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	_, err := r.ReadAt(context.Background(), "s3://bucket/key", 0, 1)
	assert.ErrorIs(t, err, model.ErrSourceRead)
}

func TestRegistry_RejectsNegativeRange(t *testing.T) {
	fallback := &recordingBackend{data: []byte("x")}
	r := NewRegistry(fallback, testLogger())

	for _, tc := range []struct{ offset, size int64 }{{-1, 4}, {0, -5}} {
		_, err := r.ReadAt(context.Background(), "/local/a", tc.offset, tc.size)
		assert.ErrorIs(t, err, model.ErrInvalidMessage)
	}
	assert.Empty(t, fallback.calls)
}

func TestSkipAndReadRange_Negative(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, skip(ctx, bytes.NewReader([]byte("abc")), -2), model.ErrInvalidMessage)

	_, err := readRange(ctx, bytes.NewReader([]byte("abc")), -1)
	assert.ErrorIs(t, err, model.ErrInvalidMessage)
}

func TestClassify_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := classify(ctx, ctx.Err())
	assert.ErrorIs(t, err, model.ErrCanceled)
	assert.NotErrorIs(t, err, model.ErrSourceRead)
}

type closingBackend struct {
	recordingBackend
	closed int
}

func (c *closingBackend) Close() error {
	c.closed++
	return nil
}

func TestRegistry_Close(t *testing.T) {
	fallback := &closingBackend{}
	remote := &closingBackend{}
	r := NewRegistry(fallback, testLogger())
	r.Register(SchemeHDFS, remote)
	r.Register("plain", &recordingBackend{})

	require.NoError(t, r.Close())
	assert.Equal(t, 1, fallback.closed)
	assert.Equal(t, 1, remote.closed)
}
