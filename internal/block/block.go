// Package block provides the lockable in-memory buffers that hold one data
// partition each.
package block

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/me/blaze/pkg/model"
	"golang.org/x/exp/mmap"
)

// ClaimState is the outcome of a hydration claim.
type ClaimState int

const (
	// Claimed means the caller now owns hydration of the block.
	Claimed ClaimState = iota
	// AlreadyReady means the block holds data and must not be written again.
	AlreadyReady
	// InProgress means another caller owns hydration right now.
	InProgress
)

func (s ClaimState) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case AlreadyReady:
		return "ready"
	case InProgress:
		return "in_progress"
	}
	return "unknown"
}

// ErrOutOfBounds is returned when a write does not fit the allocated buffer.
var ErrOutOfBounds = errors.New("write out of bounds")

// Block is a mutable, lockable buffer representing one data partition.
//
// Mutators (Alloc, SetLength, SetNumItems, ReadFromMem, WriteData) must be
// called with the block locked by a caller that won Claim. Readers may be
// called at any time.
type Block interface {
	sync.Locker

	IsReady() bool
	Alloc(size int64) error
	SetLength(n int64)
	SetNumItems(n int64)
	Length() int64
	NumItems() int64
	Size() int64
	ReadFromMem(path string) error
	WriteData(p []byte, offset int64) error
	Data() []byte

	// Claim atomically takes ownership of hydration.
	Claim() ClaimState
	// Finish ends a claim. A nil err marks the block ready; otherwise the
	// buffer and metadata are discarded so the block never reports ready.
	Finish(err error)
	// Wait blocks until an in-progress claim finishes.
	Wait(ctx context.Context) error
}

// Memory is a Block backed by a Go byte slice.
type Memory struct {
	mu        sync.Mutex
	buf       []byte
	length    atomic.Int64
	numItems  atomic.Int64
	size      atomic.Int64
	ready     atomic.Bool
	hydrating bool
	done      chan struct{}
}

// New returns an empty, unready block.
func New() *Memory {
	return &Memory{}
}

// NewReady returns a block that already holds data.
func NewReady(data []byte, length, numItems int64) *Memory {
	b := &Memory{buf: data}
	b.size.Store(int64(len(data)))
	b.length.Store(length)
	b.numItems.Store(numItems)
	b.ready.Store(true)
	return b
}

func (b *Memory) Lock()   { b.mu.Lock() }
func (b *Memory) Unlock() { b.mu.Unlock() }

func (b *Memory) IsReady() bool   { return b.ready.Load() }
func (b *Memory) Length() int64   { return b.length.Load() }
func (b *Memory) NumItems() int64 { return b.numItems.Load() }
func (b *Memory) Size() int64     { return b.size.Load() }

func (b *Memory) SetLength(n int64)   { b.length.Store(n) }
func (b *Memory) SetNumItems(n int64) { b.numItems.Store(n) }

// Alloc replaces the buffer with a zeroed one of size bytes.
func (b *Memory) Alloc(size int64) error {
	if size < 0 {
		return fmt.Errorf("alloc: negative size %d", size)
	}
	b.buf = make([]byte, size)
	b.size.Store(size)
	return nil
}

// WriteData copies p into the buffer at offset.
func (b *Memory) WriteData(p []byte, offset int64) error {
	if offset < 0 || offset+int64(len(p)) > int64(len(b.buf)) {
		return fmt.Errorf("write %d bytes at %d into %d: %w", len(p), offset, len(b.buf), ErrOutOfBounds)
	}
	copy(b.buf[offset:], p)
	return nil
}

// ReadFromMem fills the allocated buffer from a memory-mapped file.
func (b *Memory) ReadFromMem(path string) error {
	r, err := mmap.Open(path)
	if err != nil {
		return fmt.Errorf("mmap %s: %w: %w", path, model.ErrSourceRead, err)
	}
	defer r.Close()

	if r.Len() < len(b.buf) {
		return fmt.Errorf("mmap %s: short mapping %d < %d: %w", path, r.Len(), len(b.buf), model.ErrSourceRead)
	}
	if len(b.buf) == 0 {
		return nil
	}
	if _, err := r.ReadAt(b.buf, 0); err != nil {
		return fmt.Errorf("mmap %s: %w: %w", path, model.ErrSourceRead, err)
	}
	return nil
}

// Data returns the buffer. Callers must not modify it once the block is ready.
func (b *Memory) Data() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf
}

func (b *Memory) Claim() ClaimState {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.ready.Load():
		return AlreadyReady
	case b.hydrating:
		return InProgress
	}
	b.hydrating = true
	b.done = make(chan struct{})
	return Claimed
}

func (b *Memory) Finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hydrating {
		return
	}
	if err == nil {
		b.ready.Store(true)
	} else {
		b.buf = nil
		b.size.Store(0)
		b.length.Store(0)
		b.numItems.Store(0)
	}
	b.hydrating = false
	close(b.done)
}

func (b *Memory) Wait(ctx context.Context) error {
	b.mu.Lock()
	done, hydrating := b.done, b.hydrating
	b.mu.Unlock()

	if !hydrating {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Block = (*Memory)(nil)
