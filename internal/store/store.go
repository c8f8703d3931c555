package store

import (
	"context"
	"time"

	"github.com/me/blaze/pkg/model"
)

// Store defines the persistence layer for execution statistics.
type Store interface {
	// Executions
	RecordExecution(ctx context.Context, e *model.Execution) error
	ListExecutions(ctx context.Context, opts model.ListOptions) ([]*model.Execution, int, error)

	// Delay model
	SaveDelayModel(ctx context.Context, platform string, delta time.Duration) error
	LoadDelayModel(ctx context.Context, platform string) (time.Duration, bool, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
