package task

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/internal/storage"
	"github.com/me/blaze/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func float64s(data []byte) []float64 {
	out := make([]float64, len(data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return out
}

type fakeBackend struct {
	calls atomic.Int32
	delay time.Duration
	data  []byte
	err   error
}

func (f *fakeBackend) ReadAt(ctx context.Context, _ string, offset, size int64) ([]byte, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.data[offset : offset+size], nil
}

var _ storage.Backend = (*fakeBackend)(nil)

func TestNew_NoInputsIsReady(t *testing.T) {
	assert.Equal(t, model.TaskStatusReady, New(0).Status())
	assert.Equal(t, model.TaskStatusInit, New(1).Status())
}

func TestAddInputBlock(t *testing.T) {
	tk := New(3)

	require.NoError(t, tk.AddInputBlock(0, block.New()))
	require.NoError(t, tk.AddInputBlock(1, block.NewReady([]byte{1}, 1, 1)))
	assert.Equal(t, 1, tk.NumReady())
	assert.Equal(t, model.TaskStatusInit, tk.Status())

	err := tk.AddInputBlock(1, block.NewReady([]byte{2}, 1, 1))
	assert.ErrorIs(t, err, ErrDuplicatePartition)
	assert.Equal(t, 1, tk.NumReady(), "duplicate id must not double count")
	assert.Len(t, tk.Inputs(), 2)

	require.NoError(t, tk.AddInputBlock(-1, block.NewReady([]byte{3}, 1, 1)))
	assert.Equal(t, 2, tk.NumReady())

	err = tk.AddInputBlock(7, block.New())
	assert.ErrorIs(t, err, ErrTooManyInputs)
}

func TestAddInputBlock_SameReadyBlockTwoIDs(t *testing.T) {
	shared := block.NewReady([]byte{1}, 1, 1)
	tk := New(2)
	require.NoError(t, tk.AddInputBlock(-1, shared))
	require.NoError(t, tk.AddInputBlock(-2, shared))
	assert.Equal(t, 2, tk.NumReady())
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestGetInputBlock(t *testing.T) {
	tk := New(1)
	b := block.New()
	require.NoError(t, tk.AddInputBlock(5, b))

	got, ok := tk.GetInputBlock(5)
	require.True(t, ok)
	assert.Same(t, b, got)

	got, ok = tk.GetInputBlock(6)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestGetOutputBlock_DrainOrder(t *testing.T) {
	tk := New(0)
	require.NoError(t, tk.MarkRunning())

	var pushed []block.Block
	for i := range 3 {
		b := block.NewReady([]byte{byte(i)}, 1, 1)
		pushed = append(pushed, b)
		tk.PushOutputBlock(b)
	}

	for i := 2; i >= 0; i-- {
		b, hasMore := tk.GetOutputBlock()
		assert.Same(t, pushed[i], b)
		assert.Equal(t, i > 0, hasMore)
		if i > 0 {
			assert.Equal(t, model.TaskStatusRunning, tk.Status())
		}
	}
	assert.Equal(t, model.TaskStatusCommitted, tk.Status())

	b, hasMore := tk.GetOutputBlock()
	assert.Nil(t, b)
	assert.False(t, hasMore)
	assert.Equal(t, model.TaskStatusCommitted, tk.Status())
}

func TestGetOutputBlock_EmptyKeepsStatus(t *testing.T) {
	tk := New(0)
	b, hasMore := tk.GetOutputBlock()
	assert.Nil(t, b)
	assert.False(t, hasMore)
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestStatusTransitions(t *testing.T) {
	tk := New(1)
	err := tk.MarkRunning()
	var terr *model.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, model.TaskStatusInit, terr.From)

	reason := errors.New("boom")
	assert.True(t, tk.Fail(reason))
	assert.Equal(t, model.TaskStatusFailed, tk.Status())
	assert.Same(t, reason, tk.Err())
	assert.False(t, tk.Fail(errors.New("again")))
	assert.Same(t, reason, tk.Err())
}

func TestOnDataReady_Scenario(t *testing.T) {
	content := []byte("1.5,2.5,3.5\n4.5,5.5,6.5\n")
	path := writeFile(t, "part-0.csv", content)

	tk := New(2)
	require.NoError(t, tk.AddInputBlock(0, block.New()))
	require.NoError(t, tk.AddInputBlock(-1, block.New()))

	ctx := context.Background()
	b0, err := tk.OnDataReady(ctx, &model.DataMsg{
		PartitionID: 0,
		Length:      model.Int64(model.StreamLength),
		Size:        model.Int64(int64(len(content))),
		Offset:      model.Int64(0),
		Path:        path,
	})
	require.NoError(t, err)
	assert.True(t, b0.IsReady())
	assert.Equal(t, int64(2), b0.NumItems())
	assert.Equal(t, int64(6), b0.Length())
	assert.Equal(t, []float64{1.5, 2.5, 3.5, 4.5, 5.5, 6.5}, float64s(b0.Data()))
	assert.Equal(t, model.TaskStatusInit, tk.Status())

	b1, err := tk.OnDataReady(ctx, &model.DataMsg{PartitionID: -1, BVal: model.Int64(42)})
	require.NoError(t, err)
	assert.Equal(t, int64(8), b1.Size())
	assert.Equal(t, int64(42), int64(binary.LittleEndian.Uint64(b1.Data())))
	assert.Equal(t, int64(1), b1.Length())

	assert.Equal(t, 2, tk.NumReady())
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestOnDataReady_UnknownPartition(t *testing.T) {
	tk := New(1)
	require.NoError(t, tk.AddInputBlock(0, block.New()))

	b, err := tk.OnDataReady(context.Background(), &model.DataMsg{PartitionID: 9, BVal: model.Int64(1)})
	assert.Nil(t, b)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 0, tk.NumReady())
}

func TestOnDataReady_InvalidBroadcast(t *testing.T) {
	tk := New(2)
	require.NoError(t, tk.AddInputBlock(-1, block.New()))
	require.NoError(t, tk.AddInputBlock(-2, block.NewReady([]byte{1}, 1, 1)))

	for _, pid := range []int64{-1, -2} {
		_, err := tk.OnDataReady(context.Background(), &model.DataMsg{PartitionID: pid, Path: "/x"})
		assert.ErrorIs(t, err, model.ErrInvalidMessage, "partition %d", pid)
	}
	assert.Equal(t, 1, tk.NumReady())
}

func TestOnDataReady_BroadcastArray(t *testing.T) {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload, 7)
	binary.LittleEndian.PutUint64(payload[8:], 9)
	path := writeFile(t, "bcast.bin", payload)

	tk := New(1)
	require.NoError(t, tk.AddInputBlock(-3, block.New()))

	b, err := tk.OnDataReady(context.Background(), &model.DataMsg{
		PartitionID: -3,
		Length:      model.Int64(2),
		NumItems:    model.Int64(2),
		Size:        model.Int64(16),
		Path:        path,
	})
	require.NoError(t, err)
	assert.Equal(t, payload, b.Data())
	assert.Equal(t, int64(2), b.Length())
	assert.Equal(t, int64(2), b.NumItems())
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestOnDataReady_MappedDefaultsNumItems(t *testing.T) {
	path := writeFile(t, "part.bin", []byte("abcdefgh"))

	tk := New(1)
	require.NoError(t, tk.AddInputBlock(3, block.New()))

	b, err := tk.OnDataReady(context.Background(), &model.DataMsg{
		PartitionID: 3,
		Length:      model.Int64(8),
		Size:        model.Int64(8),
		Path:        path,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.NumItems())
	assert.Equal(t, "abcdefgh", string(b.Data()))
}

func TestOnDataReady_Redelivery(t *testing.T) {
	tk := New(2)
	require.NoError(t, tk.AddInputBlock(-1, block.New()))
	require.NoError(t, tk.AddInputBlock(0, block.New()))

	msg := &model.DataMsg{PartitionID: -1, BVal: model.Int64(5)}
	for range 3 {
		_, err := tk.OnDataReady(context.Background(), msg)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, tk.NumReady())
	assert.Equal(t, model.TaskStatusInit, tk.Status())
}

func TestOnDataReady_ConcurrentDistinctPartitions(t *testing.T) {
	const n = 16
	dir := t.TempDir()

	tk := New(n)
	for i := range n {
		require.NoError(t, tk.AddInputBlock(int64(i), block.New()))
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprint(i)), []byte{byte(i), 0, 0, 0}, 0o644))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := tk.OnDataReady(context.Background(), &model.DataMsg{
				PartitionID: int64(i),
				Length:      model.Int64(1),
				Size:        model.Int64(4),
				Path:        filepath.Join(dir, fmt.Sprint(i)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, n, tk.NumReady())
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestOnDataReady_SharedBlockHydratedOnce(t *testing.T) {
	backend := &fakeBackend{delay: 20 * time.Millisecond, data: []byte("1 2\n3 4\n")}
	shared := block.New()

	tasks := make([]*Task, 8)
	for i := range tasks {
		tasks[i] = New(1, WithStorage(backend))
		require.NoError(t, tasks[i].AddInputBlock(0, shared))
	}

	msg := &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(8)}
	var wg sync.WaitGroup
	for _, tk := range tasks {
		wg.Add(1)
		go func(tk *Task) {
			defer wg.Done()
			_, err := tk.OnDataReady(context.Background(), msg)
			assert.NoError(t, err)
		}(tk)
	}
	wg.Wait()

	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, []float64{1, 2, 3, 4}, float64s(shared.Data()))
	for _, tk := range tasks {
		assert.Equal(t, model.TaskStatusReady, tk.Status())
	}
}

func TestOnDataReady_SourceFailure(t *testing.T) {
	backend := &fakeBackend{err: fmt.Errorf("connection refused: %w", model.ErrSourceRead)}
	tk := New(1, WithStorage(backend))
	b := block.New()
	require.NoError(t, tk.AddInputBlock(0, b))

	msg := &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(4), Path: "hdfs://nn/x"}
	_, err := tk.OnDataReady(context.Background(), msg)
	require.ErrorIs(t, err, model.ErrSourceRead)

	var herr *model.HydrationError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, OpStream, herr.Op)
	assert.False(t, b.IsReady())
	assert.Equal(t, 0, tk.NumReady())

	// A later delivery may retry once the source recovers.
	backend.err = nil
	backend.data = []byte("1.0\n")
	_, err = tk.OnDataReady(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestOnDataReady_Timeout(t *testing.T) {
	backend := &fakeBackend{delay: time.Second, data: []byte("1\n")}
	tk := New(1, WithStorage(backend))
	require.NoError(t, tk.AddInputBlock(0, block.New()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := tk.OnDataReady(ctx, &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(2)})
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.Equal(t, 0, tk.NumReady())
}

func TestOnDataReady_EmptyStreamLeavesBlockUnallocated(t *testing.T) {
	backend := &fakeBackend{data: []byte("\n\n")}
	tk := New(1, WithStorage(backend))
	require.NoError(t, tk.AddInputBlock(0, block.New()))

	b, err := tk.OnDataReady(context.Background(), &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Size())
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestOnDataReady_MalformedLine(t *testing.T) {
	backend := &fakeBackend{data: []byte("1,x\n")}
	tk := New(1, WithStorage(backend))
	require.NoError(t, tk.AddInputBlock(0, block.New()))

	_, err := tk.OnDataReady(context.Background(), &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(4)})
	assert.ErrorIs(t, err, model.ErrSourceRead)
}

func TestReadyIffAllCounted(t *testing.T) {
	tk := New(3)
	for i := range 3 {
		require.NoError(t, tk.AddInputBlock(int64(-1-i), block.New()))
	}
	for i := range 3 {
		assert.Equal(t, model.TaskStatusInit, tk.Status())
		_, err := tk.OnDataReady(context.Background(), &model.DataMsg{PartitionID: int64(-1 - i), BVal: model.Int64(int64(i))})
		require.NoError(t, err)
		assert.LessOrEqual(t, tk.NumReady(), tk.NumInput())
	}
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}

func TestFactory(t *testing.T) {
	f := NewFactory(2)
	tk := f.Create()
	assert.Equal(t, 2, tk.NumInput())
	require.NoError(t, tk.AddInputBlock(0, block.New()))

	f.Destroy(tk)
	assert.Empty(t, tk.Inputs())
	_, ok := tk.GetInputBlock(0)
	assert.False(t, ok)
}

func TestOnDataReady_RejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name string
		msg  *model.DataMsg
	}{
		{"negative stream size", &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(-5)}},
		{"huge mapped size", &model.DataMsg{PartitionID: 0, Length: model.Int64(1), Size: model.Int64(1 << 62), Path: "/x"}},
		{"negative offset", &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Offset: model.Int64(-1), Size: model.Int64(2)}},
		{"negative num_items", &model.DataMsg{PartitionID: 0, Length: model.Int64(1), NumItems: model.Int64(-3), Size: model.Int64(8), Path: "/x"}},
		{"invalid length", &model.DataMsg{PartitionID: 0, Length: model.Int64(-7), Size: model.Int64(2)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{data: []byte("1\n")}
			tk := New(1, WithStorage(backend))
			b := block.New()
			require.NoError(t, tk.AddInputBlock(0, b))

			_, err := tk.OnDataReady(context.Background(), tt.msg)
			require.ErrorIs(t, err, model.ErrInvalidMessage)
			assert.Equal(t, int32(0), backend.calls.Load())
			assert.False(t, b.IsReady())
			assert.Equal(t, block.Claimed, b.Claim(), "block must stay claimable")
		})
	}
}

func TestOnDataReady_MaxBlockSize(t *testing.T) {
	backend := &fakeBackend{data: []byte("1 2 3 4\n")}
	tk := New(1, WithStorage(backend), WithMaxBlockSize(4))
	require.NoError(t, tk.AddInputBlock(0, block.New()))

	_, err := tk.OnDataReady(context.Background(), &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(8)})
	assert.ErrorIs(t, err, model.ErrInvalidMessage)

	// The cap also bounds the decoded output of a small read.
	tk = New(1, WithStorage(backend), WithMaxBlockSize(8))
	require.NoError(t, tk.AddInputBlock(0, block.New()))
	_, err = tk.OnDataReady(context.Background(), &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(8)})
	assert.ErrorIs(t, err, model.ErrInvalidMessage)
	assert.Equal(t, 0, tk.NumReady())
}

func TestOnDataReady_PanicFinishesClaim(t *testing.T) {
	var panicked atomic.Bool
	decoder := LineDecoderFunc(func(line []byte) (int, []byte, error) {
		if panicked.CompareAndSwap(false, true) {
			panic("decoder bug")
		}
		return CSVDecoder{}.DecodeLine(line)
	})
	backend := &fakeBackend{data: []byte("1.0\n")}
	tk := New(1, WithStorage(backend), WithDecoder(decoder))
	b := block.New()
	require.NoError(t, tk.AddInputBlock(0, b))

	msg := &model.DataMsg{PartitionID: 0, Length: model.Int64(-1), Size: model.Int64(4)}
	_, err := tk.OnDataReady(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "panicked")
	assert.False(t, b.IsReady())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = tk.OnDataReady(ctx, msg)
	require.NoError(t, err, "a later delivery must not hang on the abandoned claim")
	assert.Equal(t, model.TaskStatusReady, tk.Status())
}
