// Package platform provides the execution backends the manager dispatches
// ready tasks to, together with their cost estimators.
package platform

import (
	"context"
	"time"

	"github.com/me/blaze/internal/task"
)

// Result summarizes one execution.
type Result struct {
	Outputs int
}

// Platform is a pluggable backend that runs tasks.
type Platform interface {
	// Name returns the platform identifier.
	Name() string

	// Estimate predicts the execution time of t.
	Estimate(t *task.Task) time.Duration

	// Execute runs t and reports the elapsed time.
	Execute(ctx context.Context, t *task.Task) (Result, time.Duration, error)
}

// Kernel is the compute step of a task. It reads the task's input blocks
// and pushes its output blocks.
type Kernel interface {
	Compute(ctx context.Context, t *task.Task) error
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(ctx context.Context, t *task.Task) error

func (f KernelFunc) Compute(ctx context.Context, t *task.Task) error { return f(ctx, t) }
