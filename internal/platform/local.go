package platform

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/blaze/internal/block"
	"github.com/me/blaze/internal/task"
)

// Local runs a Kernel in the calling goroutine.
type Local struct {
	name      string
	kernel    Kernel
	estimator Estimator
	logger    *slog.Logger
}

// NewLocal creates a Local platform. A nil estimator defaults to a
// LinearEstimator with zero cost.
func NewLocal(name string, kernel Kernel, estimator Estimator, logger *slog.Logger) *Local {
	if estimator == nil {
		estimator = LinearEstimator{}
	}
	return &Local{
		name:      name,
		kernel:    kernel,
		estimator: estimator,
		logger:    logger.With("component", "platform", "platform", name),
	}
}

func (p *Local) Name() string { return p.name }

func (p *Local) Estimate(t *task.Task) time.Duration {
	return p.estimator.Estimate(t)
}

// Execute runs the kernel and measures its wall time.
func (p *Local) Execute(ctx context.Context, t *task.Task) (Result, time.Duration, error) {
	p.logger.Debug("executing",
		"task_id", t.ID(),
		"inputs", t.NumInput(),
		"bytes", humanize.Bytes(uint64(t.InputBytes())),
	)

	start := time.Now()
	err := p.kernel.Compute(ctx, t)
	elapsed := time.Since(start)
	if err != nil {
		return Result{}, elapsed, fmt.Errorf("task %d: compute: %w", t.ID(), err)
	}
	return Result{Outputs: t.NumOutput()}, elapsed, nil
}

// EchoKernel pushes every input block as an output block.
type EchoKernel struct{}

func (EchoKernel) Compute(ctx context.Context, t *task.Task) error {
	for _, b := range t.Inputs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.PushOutputBlock(b)
	}
	return nil
}

// ThrottledKernel delays an inner kernel in proportion to the input size,
// emulating a device with a fixed transfer rate.
type ThrottledKernel struct {
	Inner Kernel
	PerMB time.Duration
}

func (k ThrottledKernel) Compute(ctx context.Context, t *task.Task) error {
	d := time.Duration(float64(k.PerMB) * float64(t.InputBytes()) / float64(1<<20))
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return k.Inner.Compute(ctx, t)
}

// SumKernel reduces every input block of little-endian float64 values into
// a single output block holding their sum.
type SumKernel struct{}

func (SumKernel) Compute(ctx context.Context, t *task.Task) error {
	var sum float64
	for _, b := range t.Inputs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		sum += sumFloat64(b.Data())
	}
	t.PushOutputBlock(block.NewReady(encodeFloat64(sum), 1, 1))
	return nil
}
