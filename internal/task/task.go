// Package task implements the unit of work scheduled by the manager: a fixed
// set of input partitions that are hydrated independently, and a stack of
// output partitions drained by the consumer.
package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/internal/storage"
	"github.com/me/blaze/pkg/model"
)

var (
	// ErrDuplicatePartition is returned when a partition id is attached twice.
	ErrDuplicatePartition = errors.New("duplicate partition id")
	// ErrTooManyInputs is returned when more partitions are attached than the task expects.
	ErrTooManyInputs = errors.New("more input blocks than num_input")
)

// Task is one unit of work. All methods are safe for concurrent use.
type Task struct {
	mu sync.Mutex

	id       atomic.Int64
	appID    string
	numInput int

	inputBlocks []block.Block
	inputTable  map[int64]block.Block
	counted     map[int64]bool
	numReady    int

	outputBlocks []block.Block

	status atomic.Int32
	err    error

	estimate   time.Duration
	enqueuedAt time.Time

	storage      storage.Backend
	decoder      LineDecoder
	maxBlockSize int64
}

// DefaultMaxBlockSize bounds the buffer a single data message may allocate.
const DefaultMaxBlockSize = 1 << 30

// Option configures a Task.
type Option func(*Task)

// WithStorage sets the backend used for streamed partitions.
func WithStorage(b storage.Backend) Option {
	return func(t *Task) { t.storage = b }
}

// WithDecoder sets the decoder applied to each streamed line.
func WithDecoder(d LineDecoder) Option {
	return func(t *Task) { t.decoder = d }
}

// WithMaxBlockSize bounds the size a data message may request; n <= 0
// keeps DefaultMaxBlockSize.
func WithMaxBlockSize(n int64) Option {
	return func(t *Task) {
		if n > 0 {
			t.maxBlockSize = n
		}
	}
}

var defaultStorage = sync.OnceValue(func() storage.Backend {
	return storage.NewDefaultRegistry("", slog.Default())
})

// New creates a task expecting numInput input partitions. A task without
// inputs is READY immediately.
func New(numInput int, opts ...Option) *Task {
	t := &Task{
		numInput:   max(numInput, 0),
		inputTable: make(map[int64]block.Block),
		counted:    make(map[int64]bool),
		decoder:    CSVDecoder{},

		maxBlockSize: DefaultMaxBlockSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.storage == nil {
		t.storage = defaultStorage()
	}
	if t.numInput == 0 {
		t.status.Store(int32(model.TaskStatusReady))
	}
	return t
}

func (t *Task) ID() int64      { return t.id.Load() }
func (t *Task) SetID(id int64) { t.id.Store(id) }
func (t *Task) NumInput() int  { return t.numInput }

// Status is readable without the task lock.
func (t *Task) Status() model.TaskStatus {
	return model.TaskStatus(t.status.Load())
}

func (t *Task) AppID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appID
}

func (t *Task) SetAppID(appID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appID = appID
}

// NumReady returns how many input partitions have been hydrated.
func (t *Task) NumReady() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numReady
}

// Err returns the failure reason of a FAILED task.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Estimate returns the execution estimate recorded at enqueue time.
func (t *Task) Estimate() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimate
}

// SetEstimate records the execution estimate and the enqueue time.
func (t *Task) SetEstimate(d time.Duration, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.estimate = d
	t.enqueuedAt = at
}

// EnqueuedAt returns when the task entered its application queue.
func (t *Task) EnqueuedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enqueuedAt
}

// transition moves the task forward. Callers hold t.mu.
func (t *Task) transition(next model.TaskStatus) error {
	cur := t.Status()
	if !cur.CanTransitionTo(next) {
		return &model.InvalidTransitionError{ID: t.ID(), From: cur, To: next}
	}
	t.status.Store(int32(next))
	return nil
}

// MarkRunning moves a READY task to RUNNING.
func (t *Task) MarkRunning() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur := t.Status(); cur != model.TaskStatusReady {
		return &model.InvalidTransitionError{ID: t.ID(), From: cur, To: model.TaskStatusRunning}
	}
	return t.transition(model.TaskStatusRunning)
}

// Fail aborts the task with reason. It reports false if the task had
// already reached a terminal status.
func (t *Task) Fail(reason error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.transition(model.TaskStatusFailed); err != nil {
		return false
	}
	t.err = reason
	return true
}

// AddInputBlock attaches b as partition partitionID. A block that is already
// ready counts towards num_ready immediately.
func (t *Task) AddInputBlock(partitionID int64, b block.Block) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.inputTable[partitionID]; ok {
		return fmt.Errorf("task %d partition %d: %w", t.ID(), partitionID, ErrDuplicatePartition)
	}
	if len(t.inputBlocks) >= t.numInput {
		return fmt.Errorf("task %d partition %d: %w", t.ID(), partitionID, ErrTooManyInputs)
	}
	t.inputBlocks = append(t.inputBlocks, b)
	t.inputTable[partitionID] = b
	if b.IsReady() {
		t.countLocked(partitionID)
	}
	return nil
}

// GetInputBlock looks up a partition by id.
func (t *Task) GetInputBlock(partitionID int64) (block.Block, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.inputTable[partitionID]
	return b, ok
}

// Inputs returns the input blocks in arrival order.
func (t *Task) Inputs() []block.Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]block.Block, len(t.inputBlocks))
	copy(out, t.inputBlocks)
	return out
}

// InputBytes returns the total allocated size of all input blocks.
func (t *Task) InputBytes() int64 {
	var n int64
	for _, b := range t.Inputs() {
		n += b.Size()
	}
	return n
}

// InputItems returns the total item count of all input blocks.
func (t *Task) InputItems() int64 {
	var n int64
	for _, b := range t.Inputs() {
		n += b.NumItems()
	}
	return n
}

// PushOutputBlock adds a computed output partition.
func (t *Task) PushOutputBlock(b block.Block) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputBlocks = append(t.outputBlocks, b)
}

// NumOutput returns how many output blocks are waiting to be consumed.
func (t *Task) NumOutput() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outputBlocks)
}

// GetOutputBlock pops the most recently pushed output block. hasMore is
// false when the stack is now empty, at which point the task is COMMITTED.
// An empty stack yields (nil, false) and leaves the status unchanged.
func (t *Task) GetOutputBlock() (b block.Block, hasMore bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.outputBlocks)
	if n == 0 {
		return nil, false
	}
	b = t.outputBlocks[n-1]
	t.outputBlocks[n-1] = nil
	t.outputBlocks = t.outputBlocks[:n-1]

	if len(t.outputBlocks) == 0 {
		_ = t.transition(model.TaskStatusCommitted)
		return b, false
	}
	return b, true
}

// countLocked records partitionID as hydrated once. Callers hold t.mu.
func (t *Task) countLocked(partitionID int64) {
	if t.counted[partitionID] {
		return
	}
	t.counted[partitionID] = true
	t.numReady++
	if t.numReady == t.numInput && t.Status() == model.TaskStatusInit {
		_ = t.transition(model.TaskStatusReady)
	}
}

// Release drops every block reference so buffers can be collected.
func (t *Task) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputBlocks = nil
	t.inputTable = make(map[int64]block.Block)
	t.outputBlocks = nil
}

// View renders the task for the API.
func (t *Task) View() model.TaskView {
	t.mu.Lock()
	defer t.mu.Unlock()

	v := model.TaskView{
		ID:       t.ID(),
		AppID:    t.appID,
		Status:   t.Status(),
		NumInput: t.numInput,
		NumReady: t.numReady,
	}
	if t.err != nil {
		v.Error = t.err.Error()
	}
	return v
}
