// Package trace persists simulation runs: the run record itself, the
// scheduling event log, and per-thread accounting.
package trace

import (
	"context"

	"github.com/me/kernsim/pkg/model"
)

// Store defines the persistence layer for recorded runs.
type Store interface {
	// Run CRUD
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRun(ctx context.Context, run *model.Run) error

	// Event log
	AppendEvents(ctx context.Context, events []model.Event) error
	ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Event, int, error)

	// Thread accounting
	PutThreadStats(ctx context.Context, stats []model.ThreadStat) error
	ListThreadStats(ctx context.Context, runID string) ([]*model.ThreadStat, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
