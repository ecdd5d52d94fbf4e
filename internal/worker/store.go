package worker

import (
	"context"

	"github.com/nfvorch/vimworker/internal/action"
)

// TaskStore is the persistence surface the loader and executor need.
// *action.Store satisfies it; tests substitute a fake.
type TaskStore interface {
	LoadPage(ctx context.Context, datacenterVIMID string, after *action.Cursor, limit int) ([]*action.Task, error)
	GetTask(ctx context.Context, instanceActionID string, taskIndex int) (*action.Task, error)
	UpdateTask(ctx context.Context, t *action.Task) error
	IncrementParentCounts(ctx context.Context, instanceActionID string, doneDelta, failedDelta int) error
	UpsertVMState(ctx context.Context, st action.ItemState) error
	UpsertNetState(ctx context.Context, st action.ItemState) error
	UpsertInterface(ctx context.Context, iface action.InterfaceState) error
	UpsertServiceFunctionState(ctx context.Context, item action.ItemKind, st action.ItemState) error
}
