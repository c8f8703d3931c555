package task

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/pkg/model"
)

// Hydration ops reported in HydrationError.
const (
	OpLookup    = "lookup"
	OpBroadcast = "broadcast"
	OpScalar    = "scalar"
	OpStream    = "stream"
	OpMap       = "mmap"
)

// OnDataReady hydrates the partition named by msg and counts it towards
// num_ready. Exactly one caller hydrates a given block; concurrent callers
// wait for it. Repeated notifications for a counted partition change nothing.
func (t *Task) OnDataReady(ctx context.Context, msg *model.DataMsg) (block.Block, error) {
	if msg == nil {
		return nil, fmt.Errorf("task %d: nil data message: %w", t.ID(), model.ErrInvalidMessage)
	}
	pid := msg.PartitionID

	b, ok := t.GetInputBlock(pid)
	if !ok {
		return nil, &model.HydrationError{Op: OpLookup, PartitionID: pid, Kind: model.ErrNotFound}
	}
	if msg.IsBroadcast() && !msg.HasLength() && !msg.HasBVal() {
		return nil, &model.HydrationError{Op: OpBroadcast, PartitionID: pid, Kind: model.ErrInvalidMessage}
	}
	if err := t.checkBounds(msg); err != nil {
		return nil, &model.HydrationError{Op: opOf(msg), PartitionID: pid, Kind: model.ErrInvalidMessage, Err: err}
	}

	if err := t.hydrate(ctx, b, msg); err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.countLocked(pid)
	t.mu.Unlock()
	return b, nil
}

func (t *Task) hydrate(ctx context.Context, b block.Block, msg *model.DataMsg) error {
	for {
		switch b.Claim() {
		case block.AlreadyReady:
			return nil
		case block.InProgress:
			if err := b.Wait(ctx); err != nil {
				return hydrationError(opOf(msg), msg.PartitionID, err)
			}
		case block.Claimed:
			err := t.safeLoad(ctx, b, msg)
			b.Finish(err)
			if err != nil {
				return hydrationError(opOf(msg), msg.PartitionID, err)
			}
			return nil
		}
	}
}

func opOf(msg *model.DataMsg) string {
	switch {
	case msg.IsBroadcast() && msg.HasLength():
		return OpBroadcast
	case msg.IsBroadcast():
		return OpScalar
	case msg.GetLength() == model.StreamLength:
		return OpStream
	}
	return OpMap
}

// checkBounds rejects sizes and offsets that no read could satisfy.
func (t *Task) checkBounds(msg *model.DataMsg) error {
	switch {
	case msg.GetSize() < 0:
		return fmt.Errorf("negative size %d", msg.GetSize())
	case msg.GetSize() > t.maxBlockSize:
		return fmt.Errorf("size %d exceeds limit %d", msg.GetSize(), t.maxBlockSize)
	case msg.GetOffset() < 0:
		return fmt.Errorf("negative offset %d", msg.GetOffset())
	case msg.GetLength() < model.StreamLength:
		return fmt.Errorf("invalid length %d", msg.GetLength())
	case msg.GetNumItems() < 0:
		return fmt.Errorf("negative num_items %d", msg.GetNumItems())
	}
	return nil
}

// safeLoad runs load and turns a panic into an error so the claim is
// always finished.
func (t *Task) safeLoad(ctx context.Context, b block.Block, msg *model.DataMsg) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: load panicked: %v", model.ErrSourceRead, r)
		}
	}()
	return t.load(ctx, b, msg)
}

// load fills a claimed block according to the shape of msg.
func (t *Task) load(ctx context.Context, b block.Block, msg *model.DataMsg) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch opOf(msg) {
	case OpBroadcast:
		return loadMapped(b, msg.Path, msg.GetLength(), msg.GetNumItems(), msg.GetSize())
	case OpScalar:
		return loadScalar(b, msg.GetBVal())
	case OpStream:
		return t.loadStream(ctx, b, msg)
	}
	numItems := int64(1)
	if msg.HasNumItems() {
		numItems = msg.GetNumItems()
	}
	return loadMapped(b, msg.Path, msg.GetLength(), numItems, msg.GetSize())
}

func loadMapped(b block.Block, path string, length, numItems, size int64) error {
	b.Lock()
	defer b.Unlock()

	b.SetLength(length)
	b.SetNumItems(numItems)
	if err := b.Alloc(size); err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidMessage, err)
	}
	return b.ReadFromMem(path)
}

func loadScalar(b block.Block, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))

	b.Lock()
	defer b.Unlock()

	b.SetLength(1)
	b.SetNumItems(1)
	if err := b.Alloc(int64(len(buf))); err != nil {
		return err
	}
	return b.WriteData(buf[:], 0)
}

// loadStream reads a byte range of a text source and decodes it line by
// line. The read runs without the block lock; the claim keeps other
// writers out.
func (t *Task) loadStream(ctx context.Context, b block.Block, msg *model.DataMsg) error {
	raw, err := t.storage.ReadAt(ctx, msg.Path, msg.GetOffset(), msg.GetSize())
	if err != nil {
		return err
	}

	var (
		chunks   [][]byte
		total    int
		elements int
	)
	for line := range bytes.Lines(raw) {
		line = bytes.TrimRight(line, "\r\n")
		n, data, err := t.decoder.DecodeLine(line)
		if err != nil {
			return fmt.Errorf("decode line %d of %s: %w: %w", len(chunks)+1, msg.Path, model.ErrSourceRead, err)
		}
		if len(data) == 0 {
			continue
		}
		chunks = append(chunks, data)
		total += len(data)
		elements = n
	}
	if total == 0 {
		return nil
	}
	if int64(total) > t.maxBlockSize {
		return fmt.Errorf("decoded %d bytes of %s exceeds limit %d: %w", total, msg.Path, t.maxBlockSize, model.ErrInvalidMessage)
	}

	b.Lock()
	defer b.Unlock()

	if err := b.Alloc(int64(total)); err != nil {
		return err
	}
	var off int64
	for _, c := range chunks {
		if err := b.WriteData(c, off); err != nil {
			return err
		}
		off += int64(len(c))
	}
	b.SetNumItems(int64(len(chunks)))
	b.SetLength(int64(elements * len(chunks)))
	return nil
}

// hydrationError attaches the failure kind found in err's chain.
func hydrationError(op string, pid int64, err error) error {
	kind := model.ErrSourceRead
	for _, k := range []error{model.ErrTimeout, model.ErrCanceled, model.ErrConfig, model.ErrInvalidMessage, model.ErrNotFound, model.ErrSourceRead} {
		if errors.Is(err, k) {
			kind = k
			break
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = model.ErrTimeout
	case errors.Is(err, context.Canceled):
		kind = model.ErrCanceled
	}
	return &model.HydrationError{Op: op, PartitionID: pid, Kind: kind, Err: err}
}
