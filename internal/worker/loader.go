package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/redis"
	"github.com/nfvorch/vimworker/internal/resolver"
)

// Loader reads one tenant's action table page by page, groups rows by
// (item, item_id), and hands each closed group to the resolver, per §4.2.
type Loader struct {
	store           TaskStore
	resolveStore    resolver.TaskStore
	datacenterVIMID string
	pageSize        int
}

// NewLoader builds a Loader for one tenant.
func NewLoader(store TaskStore, datacenterVIMID string, pageSize int) *Loader {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Loader{store: store, resolveStore: store, datacenterVIMID: datacenterVIMID, pageSize: pageSize}
}

// WithCache wraps the loader's dependency-resolution storage fallback with
// a Redis cache-aside layer. Returns the loader for chaining.
func (l *Loader) WithCache(cache *redis.Client, ttl time.Duration) *Loader {
	l.resolveStore = resolver.NewCachedStore(l.store, cache, ttl)
	return l
}

// LoadResult is the full outcome of one reload pass: every resolved
// pending task across all groups, and every refresh-eligible task.
type LoadResult struct {
	Pending []*action.Task
	Refresh []*action.Task
}

// Reload reads the entire action table for this tenant and resolves every
// group it contains, discarding groups whose head row is a DELETE already
// in a non-SCHEDULED status (the logical object is already gone).
func (l *Loader) Reload(ctx context.Context) (*LoadResult, error) {
	rows, err := l.readAll(ctx)
	if err != nil {
		return nil, err
	}

	batch := make(map[string]*action.Task, len(rows))
	for _, t := range rows {
		for _, ref := range t.Refs() {
			batch[ref] = t
		}
	}

	result := &LoadResult{}
	for _, group := range groupByKey(rows) {
		if groupAlreadyDeleted(group) {
			continue
		}
		resolved, err := resolver.Resolve(ctx, l.resolveStore, batch, group)
		if err != nil {
			return nil, fmt.Errorf("resolving group: %w", err)
		}
		result.Pending = append(result.Pending, resolved.Pending...)
		result.Refresh = append(result.Refresh, resolved.Refresh...)
	}
	return result, nil
}

// LoadBatch resolves rows the caller already has in hand (typically just
// inserted into storage by an external producer) without re-reading the
// tenant's action table. This is the lightweight counterpart to Reload,
// matching the "new batch" control-inbox signal distinct from a full
// re-read on reload/exit.
func (l *Loader) LoadBatch(ctx context.Context, rows []*action.Task) (*LoadResult, error) {
	batch := make(map[string]*action.Task, len(rows))
	for _, t := range rows {
		for _, ref := range t.Refs() {
			batch[ref] = t
		}
	}

	result := &LoadResult{}
	for _, group := range groupByKeyUnordered(rows) {
		if groupAlreadyDeleted(group) {
			continue
		}
		resolved, err := resolver.Resolve(ctx, l.resolveStore, batch, group)
		if err != nil {
			return nil, fmt.Errorf("resolving group: %w", err)
		}
		result.Pending = append(result.Pending, resolved.Pending...)
		result.Refresh = append(result.Refresh, resolved.Refresh...)
	}
	return result, nil
}

func (l *Loader) readAll(ctx context.Context) ([]*action.Task, error) {
	var all []*action.Task
	var cursor *action.Cursor

	for {
		page, err := l.store.LoadPage(ctx, l.datacenterVIMID, cursor, l.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < l.pageSize {
			break
		}
		last := page[len(page)-1]
		cursor = &action.Cursor{ItemID: last.ItemID, Item: last.Item, CreatedAt: last.CreatedAt}
	}
	return all, nil
}

// groupByKey splits rows, already ordered by (item_id, item, created_at),
// into contiguous runs sharing the same (item, item_id) key.
func groupByKey(rows []*action.Task) [][]*action.Task {
	var groups [][]*action.Task
	var current []*action.Task
	var currentKey action.GroupKey

	for _, t := range rows {
		key := t.Key()
		if len(current) == 0 {
			currentKey = key
		} else if key != currentKey {
			groups = append(groups, current)
			current = nil
			currentKey = key
		}
		current = append(current, t)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// groupByKeyUnordered groups rows sharing the same (item, item_id) key
// regardless of input order, preserving each key's first-seen position.
// Unlike groupByKey it does not assume the rows arrive pre-sorted by key,
// which a freshly-pushed batch from an external producer is not
// guaranteed to be.
func groupByKeyUnordered(rows []*action.Task) [][]*action.Task {
	order := make([]action.GroupKey, 0, len(rows))
	groups := make(map[action.GroupKey][]*action.Task, len(rows))

	for _, t := range rows {
		key := t.Key()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	result := make([][]*action.Task, 0, len(order))
	for _, key := range order {
		result = append(result, groups[key])
	}
	return result
}

// groupAlreadyDeleted reports whether any row in the group is a DELETE in
// a non-SCHEDULED status, meaning the logical object is already gone and
// the whole group should be discarded unresolved.
func groupAlreadyDeleted(group []*action.Task) bool {
	for _, t := range group {
		if t.Action == action.Delete && t.Status != action.Scheduled {
			return true
		}
	}
	return false
}
