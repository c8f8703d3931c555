package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/me/blaze/internal/platform"
	"github.com/me/blaze/internal/task"
	"github.com/me/blaze/internal/tracing"
	"github.com/me/blaze/pkg/model"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Start runs the scheduler and executor loops. Blocks until ctx is cancelled
// or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}
	defer close(m.doneCh)

	m.logger.Info("manager started",
		"platform", m.platform.Name(),
		"capacity", m.config.Capacity,
		"poll_interval", m.config.PollInterval,
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.StartScheduler(gctx) })
	g.Go(func() error { return m.StartExecutor(gctx) })
	return g.Wait()
}

// StartScheduler runs the admission loop until power is cleared or ctx ends.
func (m *Manager) StartScheduler(ctx context.Context) error {
	return m.run(ctx, "scheduler", m.wakeSched, func(ctx context.Context) {
		for m.power.Load() && m.Schedule() {
		}
	})
}

// StartExecutor runs the execution loop until power is cleared or ctx ends.
func (m *Manager) StartExecutor(ctx context.Context) error {
	return m.run(ctx, "executor", m.wakeExec, func(ctx context.Context) {
		for m.power.Load() && m.Execute(ctx) {
		}
	})
}

func (m *Manager) run(ctx context.Context, name string, wake <-chan struct{}, body func(context.Context)) error {
	logger := m.logger.With("loop", name)
	logger.Info("loop started")

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for m.power.Load() {
		body(ctx)

		select {
		case <-ctx.Done():
			logger.Info("loop stopping (context cancelled)")
			return ctx.Err()
		case <-m.stopCh:
			logger.Info("loop stopping (stop called)")
			return nil
		case <-wake:
		case <-ticker.C:
		}
	}
	logger.Info("loop stopping (power off)")
	return nil
}

// Stop clears power, wakes both loops and waits for Start to return.
func (m *Manager) Stop() error {
	m.power.Store(false)
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.started.Load() {
		<-m.doneCh
	}
	return nil
}

// Wait blocks until a started manager's loops have exited.
func (m *Manager) Wait() {
	if m.started.Load() {
		<-m.doneCh
	}
}

// Tick admits every task the policy currently allows.
func (m *Manager) Tick(_ context.Context) error {
	for m.Schedule() {
	}
	return nil
}

// Execute dequeues one task, runs it on the platform and feeds the observed
// time into the delay model. It reports whether a task was dequeued.
func (m *Manager) Execute(ctx context.Context) bool {
	t, ok := m.Dequeue()
	if !ok {
		return false
	}
	// Hydration may have aborted the task after admission.
	if err := t.MarkRunning(); err != nil {
		m.logger.Warn("skipping task", "task_id", t.ID(), "status", t.Status(), "error", err)
		m.Release(t)
		m.Notify()
		return true
	}

	est := m.EstimateTime(t)
	ctx, span := tracing.StartSpan(ctx, "task.execute",
		attribute.Int64("task.id", t.ID()),
		attribute.String("app.id", t.AppID()),
		attribute.String("platform", m.platform.Name()),
	)
	if m.config.ExecTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ExecTimeout)
		defer cancel()
	}

	res, elapsed, err := m.platform.Execute(ctx, t)
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", model.ErrTimeout, err)
	}
	tracing.EndSpan(span, err)

	delta := m.DeltaDelay()
	if err != nil {
		t.Fail(err)
		m.logger.Error("task failed", "task_id", t.ID(), "app_id", t.AppID(), "error", err)
	} else {
		delta = m.UpdateDelayModel(t, est, elapsed)
		m.logger.Info("task executed",
			"task_id", t.ID(),
			"app_id", t.AppID(),
			"outputs", res.Outputs,
			"estimated", est,
			"real", elapsed,
		)
	}
	m.record(ctx, t, res, est, elapsed, delta, err)
	m.Notify()
	return true
}

func (m *Manager) record(ctx context.Context, t *task.Task, res platform.Result, est, elapsed, delta time.Duration, execErr error) {
	if m.recorder == nil {
		return
	}
	// The execution context may already be past its deadline.
	ctx = context.WithoutCancel(ctx)

	e := &model.Execution{
		TaskID:      t.ID(),
		AppID:       t.AppID(),
		Platform:    m.platform.Name(),
		Estimated:   est,
		Real:        elapsed,
		DeltaDelay:  delta,
		Outputs:     res.Outputs,
		Status:      t.Status(),
		CompletedAt: time.Now().UTC(),
	}
	if execErr != nil {
		e.Error = execErr.Error()
	}
	if err := m.recorder.RecordExecution(ctx, e); err != nil {
		m.logger.Error("record execution", "task_id", t.ID(), "error", err)
	}
	if execErr == nil {
		if err := m.recorder.SaveDelayModel(ctx, m.platform.Name(), delta); err != nil {
			m.logger.Error("save delay model", "error", err)
		}
	}
}
