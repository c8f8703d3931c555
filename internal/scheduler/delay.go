package scheduler

import (
	"time"

	"github.com/me/blaze/internal/task"
)

// UpdateDelayModel folds one observation into the correction term:
// delta += Smoothing × (observed − estimated), clamped to ±MaxCorrection. With a
// constant offset between observed and raw estimates, delta converges to it.
func (m *Manager) UpdateDelayModel(t *task.Task, estimated, observed time.Duration) time.Duration {
	alpha := m.config.Smoothing
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	for {
		old := m.deltaDelay.Load()
		next := m.clamp(time.Duration(old) + time.Duration(alpha*float64(observed-estimated)))
		if m.deltaDelay.CompareAndSwap(old, int64(next)) {
			m.logger.Debug("delay model updated",
				"task_id", t.ID(),
				"estimated", estimated,
				"real", observed,
				"delta", next,
			)
			return next
		}
	}
}

// DeltaDelay returns the current correction term.
func (m *Manager) DeltaDelay() time.Duration {
	return time.Duration(m.deltaDelay.Load())
}

func (m *Manager) clamp(d time.Duration) time.Duration {
	limit := m.config.MaxCorrection
	if limit <= 0 {
		return d
	}
	return min(max(d, -limit), limit)
}
