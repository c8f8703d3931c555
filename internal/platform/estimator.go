package platform

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/me/blaze/internal/task"
)

// Estimator predicts how long a task will run.
type Estimator interface {
	Estimate(t *task.Task) time.Duration
}

// LinearEstimator charges a fixed base plus a cost per input byte and item.
type LinearEstimator struct {
	Base    time.Duration
	PerMB   time.Duration
	PerItem time.Duration
}

func (e LinearEstimator) Estimate(t *task.Task) time.Duration {
	d := e.Base
	d += time.Duration(float64(e.PerMB) * float64(t.InputBytes()) / float64(1<<20))
	d += e.PerItem * time.Duration(t.InputItems())
	return max(d, 0)
}

// ScriptEstimator evaluates a JavaScript expression returning milliseconds.
// The expression sees `bytes`, `items` and `inputs` for the task.
type ScriptEstimator struct {
	program  *goja.Program
	fallback Estimator
	logger   *slog.Logger

	mu sync.Mutex
	vm *goja.Runtime
}

// NewScriptEstimator compiles source. Tasks whose evaluation fails are
// estimated by fallback.
func NewScriptEstimator(source string, fallback Estimator, logger *slog.Logger) (*ScriptEstimator, error) {
	program, err := goja.Compile("estimate", source, true)
	if err != nil {
		return nil, fmt.Errorf("compile estimate script: %w", err)
	}
	if fallback == nil {
		fallback = LinearEstimator{}
	}
	return &ScriptEstimator{
		program:  program,
		fallback: fallback,
		logger:   logger.With("component", "script-estimator"),
		vm:       goja.New(),
	}, nil
}

func (e *ScriptEstimator) Estimate(t *task.Task) time.Duration {
	ms, err := e.eval(t.InputBytes(), t.InputItems(), t.NumInput())
	if err != nil {
		e.logger.Warn("estimate script failed, using fallback", "task_id", t.ID(), "error", err)
		return e.fallback.Estimate(t)
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func (e *ScriptEstimator) eval(bytes, items int64, inputs int) (float64, error) {
	// goja runtimes are not safe for concurrent use.
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.vm.Set("bytes", bytes); err != nil {
		return 0, fmt.Errorf("set bytes: %w", err)
	}
	if err := e.vm.Set("items", items); err != nil {
		return 0, fmt.Errorf("set items: %w", err)
	}
	if err := e.vm.Set("inputs", inputs); err != nil {
		return 0, fmt.Errorf("set inputs: %w", err)
	}
	v, err := e.vm.RunProgram(e.program)
	if err != nil {
		return 0, err
	}
	ms := v.ToFloat()
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return 0, fmt.Errorf("estimate %v is not a non-negative number", v)
	}
	return ms, nil
}
