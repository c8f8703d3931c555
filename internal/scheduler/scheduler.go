package scheduler

import "context"

// Scheduler admits queued tasks into execution and runs them.
type Scheduler interface {
	// Start runs the scheduler and executor loops. Blocks until ctx is
	// cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts down both loops.
	Stop() error

	// Tick runs a single scheduling pass. Used for testing.
	Tick(ctx context.Context) error
}

var _ Scheduler = (*Manager)(nil)
