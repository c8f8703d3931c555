// Package scheduler implements the task manager: per-application queues, the
// bounded execution queue, the admission policy between them and the
// adaptive delay model that corrects platform estimates.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/blaze/internal/platform"
	"github.com/me/blaze/internal/queue"
	"github.com/me/blaze/internal/task"
	"github.com/me/blaze/pkg/model"
)

// Config holds manager configuration.
type Config struct {
	// PollInterval bounds how long a loop sleeps without being woken.
	PollInterval time.Duration
	// Capacity is the maximum length of the execution queue.
	Capacity int
	// LobbyRatio scales the door wait of competing tasks into the bound
	// the lobby wait may reach when admitting.
	LobbyRatio float64
	// MinLobbyWait is the lobby wait always accepted regardless of demand.
	MinLobbyWait time.Duration
	// Smoothing is the weight of each new observation in the delay model.
	Smoothing float64
	// MaxCorrection bounds the magnitude of the delay correction.
	MaxCorrection time.Duration
	// ExecTimeout bounds a single execution; zero means no bound.
	ExecTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  100 * time.Millisecond,
		Capacity:      16,
		LobbyRatio:    1.0,
		MinLobbyWait:  50 * time.Millisecond,
		Smoothing:     0.25,
		MaxCorrection: 10 * time.Second,
	}
}

// Recorder persists execution statistics.
type Recorder interface {
	RecordExecution(ctx context.Context, e *model.Execution) error
	SaveDelayModel(ctx context.Context, platform string, delta time.Duration) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder records every execution and delay update.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithInitialDelay seeds the delay model, e.g. from a persisted value.
func WithInitialDelay(d time.Duration) Option {
	return func(m *Manager) { m.deltaDelay.Store(int64(m.clamp(d))) }
}

type pending struct {
	t   *task.Task
	seq uint64
}

// Manager owns one queue per application plus the shared execution queue.
//
// Counters are independent atomics and may be read without the lock; two
// counters read in sequence are not a consistent pair. Use Snapshot for that.
type Manager struct {
	factory  task.Factory
	platform platform.Platform
	recorder Recorder
	config   Config
	logger   *slog.Logger

	mu        sync.Mutex
	appQueues map[string]*queue.Queue[pending]
	execQueue *queue.Queue[*task.Task]
	seq       uint64

	tasksMu   sync.RWMutex
	tasks     map[int64]*task.Task
	appTasks  map[string]int
	onAppIdle []func(appID string)

	lobbyWaitTime  atomic.Int64
	doorWaitTime   atomic.Int64
	exeQueueLength atomic.Int64
	nextTaskID     atomic.Int64
	deltaDelay     atomic.Int64
	power          atomic.Bool

	wakeSched chan struct{}
	wakeExec  chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewManager creates a Manager dispatching to p.
func NewManager(factory task.Factory, p platform.Platform, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	m := &Manager{
		factory:   factory,
		platform:  p,
		config:    cfg,
		logger:    logger.With("component", "manager"),
		appQueues: make(map[string]*queue.Queue[pending]),
		execQueue: queue.New[*task.Task](),
		tasks:     make(map[int64]*task.Task),
		appTasks:  make(map[string]int),
		wakeSched: make(chan struct{}, 1),
		wakeExec:  make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	m.power.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Platform returns the platform tasks are dispatched to.
func (m *Manager) Platform() platform.Platform { return m.platform }

// Create builds a task through the factory and assigns it a fresh id.
func (m *Manager) Create() *task.Task {
	t := m.factory.Create()
	t.SetID(m.nextTaskID.Add(1))

	m.tasksMu.Lock()
	m.tasks[t.ID()] = t
	m.tasksMu.Unlock()
	return t
}

// Lookup returns a task created by this manager that has not been released.
func (m *Manager) Lookup(id int64) (*task.Task, bool) {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// OnAppIdle registers fn to run whenever the last live task of an
// application is released.
func (m *Manager) OnAppIdle(fn func(appID string)) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	m.onAppIdle = append(m.onAppIdle, fn)
}

// Release forgets t and hands it back to the factory. Releasing a task
// twice is a no-op.
func (m *Manager) Release(t *task.Task) {
	appID := t.AppID()

	m.tasksMu.Lock()
	_, ok := m.tasks[t.ID()]
	delete(m.tasks, t.ID())
	idle := false
	if ok && appID != "" {
		m.appTasks[appID]--
		if m.appTasks[appID] <= 0 {
			delete(m.appTasks, appID)
			idle = true
		}
	}
	hooks := m.onAppIdle
	m.tasksMu.Unlock()

	if !ok {
		return
	}
	m.factory.Destroy(t)
	if idle {
		m.logger.Debug("application idle", "app_id", appID)
		for _, fn := range hooks {
			fn(appID)
		}
	}
}

// Enqueue appends t to its application's queue. Admission happens only in
// the scheduler loop.
func (m *Manager) Enqueue(appID string, t *task.Task) {
	est := m.EstimateTime(t)
	t.SetAppID(appID)
	t.SetEstimate(est, time.Now())

	m.tasksMu.Lock()
	if _, ok := m.tasks[t.ID()]; ok {
		m.appTasks[appID]++
	}
	m.tasksMu.Unlock()

	m.mu.Lock()
	q, ok := m.appQueues[appID]
	if !ok {
		q = queue.New[pending]()
		m.appQueues[appID] = q
	}
	m.seq++
	q.Push(pending{t: t, seq: m.seq})
	m.doorWaitTime.Add(int64(est))
	m.mu.Unlock()

	m.logger.Debug("task enqueued", "task_id", t.ID(), "app_id", appID, "estimate", est)
	m.Notify()
}

// OnReady refreshes the estimate of a task whose inputs just finished
// hydrating and wakes the scheduler. Enqueue estimates before any input has
// arrived, so the input size only counts from here on. A task that already
// left its application queue keeps the estimate it was admitted with.
func (m *Manager) OnReady(t *task.Task) {
	est := m.EstimateTime(t)

	m.mu.Lock()
	if q, ok := m.appQueues[t.AppID()]; ok && queued(q, t) {
		old := t.Estimate()
		t.SetEstimate(est, t.EnqueuedAt())
		m.doorWaitTime.Add(int64(est - old))
		m.logger.Debug("task re-estimated", "task_id", t.ID(), "estimate", est, "previous", old)
	}
	m.mu.Unlock()

	m.Notify()
}

func queued(q *queue.Queue[pending], t *task.Task) bool {
	found := false
	q.Each(func(p pending) {
		if p.t == t {
			found = true
		}
	})
	return found
}

// Notify wakes the scheduler, e.g. after a task became READY.
func (m *Manager) Notify() {
	select {
	case m.wakeSched <- struct{}{}:
	default:
	}
}

func (m *Manager) notifyExecutor() {
	select {
	case m.wakeExec <- struct{}{}:
	default:
	}
}

// EstimateTime is the platform estimate corrected by the delay model.
func (m *Manager) EstimateTime(t *task.Task) time.Duration {
	est := m.platform.Estimate(t) + time.Duration(m.deltaDelay.Load())
	return max(est, 0)
}

// Schedule makes one admission decision and reports whether a task was
// promoted into the execution queue.
//
// Candidates are application queues whose head is READY; a head that is
// still hydrating blocks only its own application. Among candidates the head
// with the lowest global enqueue sequence wins: applications are served in
// cross-application FIFO order, not ranked by their accumulated door wait.
// The winner is admitted when the execution queue has room and is either
// empty or its lobby wait, including the candidate, stays within
// max(MinLobbyWait, LobbyRatio × door wait of everyone else).
//
// FAILED heads met on the way are dropped and released.
func (m *Manager) Schedule() bool {
	var dropped []*task.Task
	admitted := m.schedule(&dropped)
	for _, t := range dropped {
		m.Release(t)
	}
	return admitted
}

func (m *Manager) schedule(dropped *[]*task.Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		bestApp string
		best    pending
		found   bool
	)
	for appID, q := range m.appQueues {
		head, ok := m.dropFailedLocked(appID, q, dropped)
		if !ok || head.t.Status() != model.TaskStatusReady {
			continue
		}
		if !found || head.seq < best.seq {
			bestApp, best, found = appID, head, true
		}
	}
	if !found {
		return false
	}

	exeLen := m.exeQueueLength.Load()
	if exeLen >= int64(m.config.Capacity) {
		return false
	}
	est := int64(best.t.Estimate())
	if exeLen > 0 {
		lobby := m.lobbyWaitTime.Load()
		bound := max(int64(m.config.MinLobbyWait), int64(m.config.LobbyRatio*float64(m.doorWaitTime.Load()-est)))
		if lobby+est > bound {
			return false
		}
	}

	q := m.appQueues[bestApp]
	q.Pop()
	if q.Len() == 0 {
		delete(m.appQueues, bestApp)
	}
	m.execQueue.Push(best.t)
	m.exeQueueLength.Add(1)
	m.doorWaitTime.Add(-est)
	m.lobbyWaitTime.Add(est)

	m.logger.Debug("task admitted", "task_id", best.t.ID(), "app_id", bestApp, "exe_queue_length", exeLen+1)
	m.notifyExecutor()
	return true
}

// dropFailedLocked discards FAILED tasks at the head of q, collecting them
// in dropped, and returns the remaining head. Callers hold m.mu.
func (m *Manager) dropFailedLocked(appID string, q *queue.Queue[pending], dropped *[]*task.Task) (pending, bool) {
	for {
		head, ok := q.Peek()
		if !ok {
			delete(m.appQueues, appID)
			return pending{}, false
		}
		if head.t.Status() != model.TaskStatusFailed {
			return head, true
		}
		q.Pop()
		m.doorWaitTime.Add(-int64(head.t.Estimate()))
		*dropped = append(*dropped, head.t)
		m.logger.Info("failed task dropped from queue", "task_id", head.t.ID(), "app_id", appID, "error", head.t.Err())
	}
}

// Dequeue pops the head of the execution queue.
func (m *Manager) Dequeue() (*task.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.execQueue.Pop()
	if !ok {
		return nil, false
	}
	m.exeQueueLength.Add(-1)
	m.lobbyWaitTime.Add(-int64(t.Estimate()))
	return t, true
}

// GetExeQueueLength returns the execution queue length without locking.
func (m *Manager) GetExeQueueLength() int {
	return int(m.exeQueueLength.Load())
}

// GetWaitTime reports the best and worst case wait before t would start:
// the lobby wait if admitted now, and the lobby plus door wait if it has to
// wait behind every queued task. The counters are read independently.
func (m *Manager) GetWaitTime(t *task.Task) (best, worst time.Duration) {
	lobby := time.Duration(m.lobbyWaitTime.Load())
	door := time.Duration(m.doorWaitTime.Load())
	return lobby, lobby + door
}

// Snapshot returns every counter read under the manager lock.
func (m *Manager) Snapshot() model.QueueView {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := model.QueueView{
		ExeQueueLength: int(m.exeQueueLength.Load()),
		AppQueues:      len(m.appQueues),
		LobbyWaitMS:    time.Duration(m.lobbyWaitTime.Load()).Milliseconds(),
		DoorWaitMS:     time.Duration(m.doorWaitTime.Load()).Milliseconds(),
		DeltaDelayMS:   m.DeltaDelay().Milliseconds(),
	}
	for _, q := range m.appQueues {
		v.PendingTasks += q.Len()
	}
	return v
}
