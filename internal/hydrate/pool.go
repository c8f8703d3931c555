// Package hydrate runs data-ready notifications on a dedicated pool of
// goroutines so that storage reads never block the manager's loops.
package hydrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/internal/task"
	"github.com/me/blaze/internal/tracing"
	"github.com/me/blaze/pkg/model"
	"go.opentelemetry.io/otel/attribute"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("hydration pool stopped")

// Config holds pool configuration.
type Config struct {
	Workers int
	// Timeout bounds a single hydration; zero means no bound.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, Timeout: 30 * time.Second}
}

type result struct {
	b   block.Block
	err error
}

type job struct {
	ctx    context.Context
	t      *task.Task
	msg    *model.DataMsg
	result chan result
}

// Pool hydrates task inputs on a fixed number of workers.
type Pool struct {
	config  Config
	onReady func(*task.Task)
	logger  *slog.Logger

	jobs     chan job
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithOnReady registers fn to run after a task becomes READY.
func WithOnReady(fn func(*task.Task)) Option {
	return func(p *Pool) { p.onReady = fn }
}

// NewPool creates a Pool and starts its workers.
func NewPool(cfg Config, logger *slog.Logger, opts ...Option) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	p := &Pool{
		config: cfg,
		logger: logger.With("component", "hydrate"),
		jobs:   make(chan job),
		stopCh: make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(p)
	}
	for range cfg.Workers {
		p.wg.Add(1)
		go p.work()
	}
	p.logger.Info("hydration pool started", "workers", cfg.Workers, "timeout", cfg.Timeout)
	return p
}

// Submit hydrates msg's partition of t on a worker and waits for the result.
// A failed read aborts the task; an unknown partition or malformed message
// is reported without touching it. Once accepted, the hydration outlives ctx:
// a caller that goes away stops waiting but does not abort the read.
func (p *Pool) Submit(ctx context.Context, t *task.Task, msg *model.DataMsg) (block.Block, error) {
	j := job{ctx: ctx, t: t, msg: msg, result: make(chan result, 1)}

	select {
	case p.jobs <- j:
	case <-p.stopCh:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctxError(ctx)
	}

	select {
	case r := <-j.result:
		return r.b, r.err
	case <-ctx.Done():
		return nil, ctxError(ctx)
	}
}

// Stop rejects new jobs, cancels in-flight reads and waits for the workers
// to exit. Cancelled reads leave their tasks untouched.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.cancel()
	})
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.jobs:
			b, err := p.run(j)
			j.result <- result{b: b, err: err}
		}
	}
}

func (p *Pool) run(j job) (block.Block, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(j.ctx))
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()
	if p.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}
	ctx, span := tracing.StartSpan(ctx, "task.hydrate",
		attribute.Int64("task.id", j.t.ID()),
		attribute.Int64("partition.id", j.msg.PartitionID),
	)

	start := time.Now()
	b, err := j.t.OnDataReady(ctx, j.msg)
	tracing.EndSpan(span, err)

	if err != nil {
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrInvalidMessage) {
			p.logger.Warn("data message rejected", "task_id", j.t.ID(), "partition_id", j.msg.PartitionID, "error", err)
			return nil, err
		}
		if errors.Is(err, model.ErrCanceled) {
			p.logger.Info("hydration cancelled", "task_id", j.t.ID(), "partition_id", j.msg.PartitionID)
			return nil, err
		}
		err = fmt.Errorf("task %d: %w", j.t.ID(), err)
		if j.t.Fail(err) {
			p.logger.Error("hydration failed, task aborted", "task_id", j.t.ID(), "partition_id", j.msg.PartitionID, "error", err)
		}
		return nil, err
	}

	p.logger.Debug("partition hydrated",
		"task_id", j.t.ID(),
		"partition_id", j.msg.PartitionID,
		"size", humanize.Bytes(uint64(b.Size())),
		"elapsed", time.Since(start),
		"num_ready", j.t.NumReady(),
	)
	if j.t.Status() == model.TaskStatusReady && p.onReady != nil {
		p.onReady(j.t)
	}
	return b, nil
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", model.ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %w", model.ErrCanceled, ctx.Err())
}
