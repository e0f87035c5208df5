package store

import (
	"context"

	"github.com/me/strider/pkg/model"
)

// Store persists recorded runs and serves them back to the CLI and API.
type Store interface {
	// SaveRun writes a run, its tasks and its dispatches in one
	// transaction.
	SaveRun(ctx context.Context, run *model.Run, dispatches []model.Dispatch) error
	// GetRun returns the run with its tasks, or nil if there is none.
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	DeleteRun(ctx context.Context, id string) error

	ListDispatches(ctx context.Context, runID string, opts model.ListOptions) ([]model.Dispatch, int, error)
	// Shares counts dispatches per task of a run.
	Shares(ctx context.Context, runID string) ([]model.Share, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
