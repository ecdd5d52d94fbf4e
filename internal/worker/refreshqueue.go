package worker

import (
	"time"

	"github.com/nfvorch/vimworker/internal/action"
)

// refreshEntry is one task waiting for its next VIM-side poll.
type refreshEntry struct {
	task       *action.Task
	modifiedAt time.Time
}

// refreshQueue is a time-ordered queue of CREATE/FIND tasks whose VIM-side
// state must be polled, ascending by modifiedAt. Insertion is a linear
// probe from the front, which is sufficient for the expected depth of tens
// to low hundreds of entries per worker.
type refreshQueue struct {
	entries []refreshEntry
}

func newRefreshQueue() *refreshQueue {
	return &refreshQueue{}
}

// Insert places t onto the queue so that it is next eligible at readyAt,
// preserving ascending order by readyAt.
func (q *refreshQueue) Insert(t *action.Task, readyAt time.Time) {
	entry := refreshEntry{task: t, modifiedAt: readyAt}

	i := 0
	for i < len(q.entries) && q.entries[i].modifiedAt.Before(readyAt) {
		i++
	}
	q.entries = append(q.entries, refreshEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = entry
}

// PopReady removes and returns up to max entries from the head of the queue
// whose modifiedAt is not after now, skipping (and dropping) any SUPERSEDED
// entries found at the head along the way.
func (q *refreshQueue) PopReady(now time.Time, max int) []*action.Task {
	var ready []*action.Task
	for len(q.entries) > 0 && len(ready) < max {
		head := q.entries[0]
		if head.modifiedAt.After(now) {
			break
		}
		q.entries = q.entries[1:]

		if head.task.Status == action.Superseded {
			continue
		}
		ready = append(ready, head.task)
	}
	return ready
}

// Supersede marks the queued entry for (instanceActionID, taskIndex) as
// SUPERSEDED in place, without disturbing queue order. PopReady already
// drops SUPERSEDED entries as it reaches them, so marking in place is
// sufficient to cancel a not-yet-polled refresh without a mid-queue
// removal. Returns whether a matching entry was found.
func (q *refreshQueue) Supersede(instanceActionID string, taskIndex int) bool {
	for _, e := range q.entries {
		if e.task.InstanceActionID == instanceActionID && e.task.TaskIndex == taskIndex {
			e.task.Status = action.Superseded
			return true
		}
	}
	return false
}

// Len reports the number of entries currently queued.
func (q *refreshQueue) Len() int {
	return len(q.entries)
}

// refreshCadence returns the poll interval appropriate to the last observed
// VIM status: tighter while still building, relaxed once settled.
func refreshCadence(vimStatus string, buildInterval, activeInterval time.Duration) time.Duration {
	if vimStatus == "BUILD" {
		return buildInterval
	}
	return activeInterval
}
