// Package resolver implements dependency resolution and supersession for a
// group of tasks that share a logical object: turning decoded depends_on
// references into resolved task pointers, and collapsing a DELETE against
// whatever CREATE or FIND preceded it.
package resolver

import (
	"context"
	"fmt"

	"github.com/nfvorch/vimworker/internal/action"
)

// TaskStore is the storage surface the resolver falls back to when a
// dependency reference points outside the current batch.
type TaskStore interface {
	GetTask(ctx context.Context, instanceActionID string, taskIndex int) (*action.Task, error)
}

// Group is one closed run of tasks sharing (item, item_id), plus the two
// output lists the resolver produces: tasks ready for the executor, and
// tasks scheduled onto the refresh queue instead.
type Group struct {
	Key     action.GroupKey
	Pending []*action.Task
	Refresh []*action.Task
}

// Resolve decodes every task's Extra, resolves its dependency references
// against the batch (falling back to store), applies the DELETE
// supersession rule, and sorts the surviving tasks into Pending/Refresh.
//
// batch holds every other task known this pass, keyed by its own Refs() so
// that either "TASK-<index>" or "TASK-<parent>.<index>" resolves the same
// pointer; tasks is the group under resolution, in storage order.
func Resolve(ctx context.Context, store TaskStore, batch map[string]*action.Task, tasks []*action.Task) (*Group, error) {
	if len(tasks) == 0 {
		return &Group{}, nil
	}

	group := &Group{Key: tasks[0].Key()}

	for _, t := range tasks {
		if err := resolveDependencies(ctx, store, batch, t); err != nil {
			return nil, fmt.Errorf("resolving dependencies for task %s/%d: %w", t.InstanceActionID, t.TaskIndex, err)
		}
	}

	for _, t := range tasks {
		if t.Action != action.Delete {
			continue
		}
		applyDeleteSupersession(t, tasks)
	}

	for _, t := range tasks {
		switch {
		case t.Status == action.Superseded:
			continue
		case t.Action == action.Delete:
			if t.Status == action.Scheduled {
				group.Pending = append(group.Pending, t)
			}
		case t.Status == action.Scheduled:
			group.Pending = append(group.Pending, t)
		case t.Status == action.Done || t.Status == action.Build:
			if t.Item.Refreshable() {
				group.Refresh = append(group.Refresh, t)
			}
		}
	}

	return group, nil
}

// resolveDependencies fills t.Depends by looking up each entry in
// t.Extra.DependsOn, first within batch and then, on a miss, in storage.
// Resolved tasks are recorded under both reference forms they could be
// cited by.
func resolveDependencies(ctx context.Context, store TaskStore, batch map[string]*action.Task, t *action.Task) error {
	if len(t.Extra.DependsOn) == 0 {
		return nil
	}
	if t.Depends == nil {
		t.Depends = make(map[string]*action.Task, len(t.Extra.DependsOn))
	}

	for _, raw := range t.Extra.DependsOn {
		ref, err := action.ParseDependencyRef(raw)
		if err != nil {
			return err
		}

		parentID := ref.ResolvedParentID(t.InstanceActionID)

		dep := lookupInBatch(batch, parentID, ref.TaskIndex)
		if dep == nil {
			dep, err = store.GetTask(ctx, parentID, ref.TaskIndex)
			if err != nil {
				return err
			}
		}

		t.Depends[action.RefByIndex(ref.TaskIndex)] = dep
		t.Depends[action.RefByParentIndex(parentID, ref.TaskIndex)] = dep
	}
	return nil
}

func lookupInBatch(batch map[string]*action.Task, parentID string, taskIndex int) *action.Task {
	if batch == nil {
		return nil
	}
	if t, ok := batch[action.RefByParentIndex(parentID, taskIndex)]; ok {
		return t
	}
	if t, ok := batch[action.RefByIndex(taskIndex)]; ok && t.InstanceActionID == parentID {
		return t
	}
	return nil
}

// applyDeleteSupersession implements §4.3's supersession rule: a DELETE
// adopts the resource identity of whichever prior FIND or CREATE in the
// same group actually produced one, or is itself dropped if nothing did.
func applyDeleteSupersession(del *action.Task, siblings []*action.Task) {
	for _, prior := range siblings {
		if prior == del || prior.Action != action.Find {
			continue
		}
		if prior.VIMID != "" {
			del.VIMID = prior.VIMID
			return
		}
	}

	for _, prior := range siblings {
		if prior == del || prior.Action != action.Create {
			continue
		}
		if !prior.Extra.Created {
			continue
		}
		if prior.VIMID == "" && prior.Extra.SDNNetID == "" {
			continue
		}

		del.VIMID = prior.VIMID
		del.Extra.SDNNetID = prior.Extra.SDNNetID
		del.Extra.Interfaces = prior.Extra.Interfaces
		del.Extra.CreatedItems = prior.Extra.CreatedItems

		prior.Status = action.Superseded
		return
	}

	del.Status = action.Superseded
}
